package anonymize

import (
	"github.com/bmharper/cimg/v2"
	"github.com/videoanon/defacer/pkg/anno"
)

// Solid paints a region with a flat color. The strongest effect, since
// nothing of the original pixels survives.
type Solid struct {
	Color [3]uint8
}

func (s *Solid) Apply(frame *cimg.Image, box anno.BoundingBox, ellipse bool) {
	box = clipBox(frame, box)
	if box.Width() <= 0 || box.Height() <= 0 {
		return
	}
	fill := cimg.NewImage(box.Width(), box.Height(), cimg.PixelFormatRGB)
	nchan := fill.NChan()
	for y := 0; y < fill.Height; y++ {
		row := fill.Pixels[y*fill.Stride:]
		for x := 0; x < fill.Width; x++ {
			row[x*nchan] = s.Color[0]
			row[x*nchan+1] = s.Color[1]
			row[x*nchan+2] = s.Color[2]
		}
	}
	blitRegion(frame, box, fill, ellipse)
}
