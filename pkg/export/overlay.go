package export

import (
	"fmt"
	"image"

	"github.com/bmharper/cimg/v2"
	"github.com/fogleman/gg"
	"github.com/videoanon/defacer/pkg/anno"
)

// trackPalette cycles distinct colors per track id so neighboring tracks
// are easy to tell apart.
var trackPalette = [][3]int{
	{230, 60, 60},
	{60, 180, 75},
	{65, 110, 230},
	{245, 190, 25},
	{145, 60, 230},
	{65, 200, 210},
	{240, 130, 45},
	{240, 100, 180},
}

func trackColor(trackID int64) (int, int, int) {
	c := trackPalette[int(trackID)%len(trackPalette)]
	return c[0], c[1], c[2]
}

// DrawAnnotations overlays annotation rectangles and track labels onto
// frame, in place. Intended for verifying annotations, not for production
// output.
func DrawAnnotations(frame *cimg.Image, anns []*anno.Annotation) {
	rgba := toRGBA(frame)
	dc := gg.NewContextForRGBA(rgba)
	dc.SetLineWidth(2)
	for _, a := range anns {
		r, g, b := trackColor(a.TrackID)
		dc.SetRGB255(r, g, b)
		dc.DrawRectangle(float64(a.Box.X1), float64(a.Box.Y1), float64(a.Box.Width()), float64(a.Box.Height()))
		dc.Stroke()
		label := fmt.Sprintf("track %v", a.TrackID)
		if a.TrackID == anno.NoTrack {
			label = "untracked"
		}
		if !a.IsManual {
			label += " (auto)"
		}
		labelY := float64(a.Box.Y1) - 4
		if labelY < 12 {
			labelY = float64(a.Box.Y1) + 14
		}
		dc.DrawString(label, float64(a.Box.X1)+2, labelY)
	}
	fromRGBA(frame, rgba)
}

func toRGBA(frame *cimg.Image) *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	nchan := frame.NChan()
	for y := 0; y < frame.Height; y++ {
		src := frame.Pixels[y*frame.Stride:]
		dst := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < frame.Width; x++ {
			dst[x*4] = src[x*nchan]
			dst[x*4+1] = src[x*nchan+1]
			dst[x*4+2] = src[x*nchan+2]
			dst[x*4+3] = 255
		}
	}
	return rgba
}

func fromRGBA(frame *cimg.Image, rgba *image.RGBA) {
	nchan := frame.NChan()
	for y := 0; y < frame.Height; y++ {
		src := rgba.Pix[y*rgba.Stride:]
		dst := frame.Pixels[y*frame.Stride:]
		for x := 0; x < frame.Width; x++ {
			dst[x*nchan] = src[x*4]
			dst[x*nchan+1] = src[x*4+1]
			dst[x*nchan+2] = src[x*4+2]
		}
	}
}
