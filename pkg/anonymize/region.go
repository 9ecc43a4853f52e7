package anonymize

import (
	"github.com/bmharper/cimg/v2"
	"github.com/videoanon/defacer/pkg/anno"
)

// clipBox clips box to the frame. The returned box may be degenerate
// (zero width or height), which callers treat as a no-op.
func clipBox(frame *cimg.Image, box anno.BoundingBox) anno.BoundingBox {
	return box.Normalize().Clamp(frame.Width, frame.Height)
}

// copyRegion extracts box from frame into a freshly allocated image.
func copyRegion(frame *cimg.Image, box anno.BoundingBox) *cimg.Image {
	roi := cimg.NewImage(box.Width(), box.Height(), cimg.PixelFormatRGB)
	nchan := roi.NChan()
	for y := 0; y < box.Height(); y++ {
		src := frame.Pixels[(box.Y1+y)*frame.Stride+box.X1*nchan:]
		dst := roi.Pixels[y*roi.Stride:]
		copy(dst[:box.Width()*nchan], src[:box.Width()*nchan])
	}
	return roi
}

// blitRegion writes roi back into frame at box. With ellipse true only the
// pixels inside the inscribed ellipse of box are written, so the corners of
// the rectangle keep their original content.
func blitRegion(frame *cimg.Image, box anno.BoundingBox, roi *cimg.Image, ellipse bool) {
	nchan := roi.NChan()
	w := box.Width()
	h := box.Height()
	if !ellipse {
		for y := 0; y < h; y++ {
			src := roi.Pixels[y*roi.Stride:]
			dst := frame.Pixels[(box.Y1+y)*frame.Stride+box.X1*nchan:]
			copy(dst[:w*nchan], src[:w*nchan])
		}
		return
	}
	// Inside test for the inscribed ellipse, in integer arithmetic:
	// (dx*b)^2 + (dy*a)^2 <= (a*b)^2 with semi-axes a = w/2, b = h/2.
	a := int64(max(w/2, 1))
	b := int64(max(h/2, 1))
	cx := int64(w) / 2
	cy := int64(h) / 2
	limit := a * a * b * b
	for y := 0; y < h; y++ {
		dy := int64(y) - cy
		src := roi.Pixels[y*roi.Stride:]
		dst := frame.Pixels[(box.Y1+y)*frame.Stride+box.X1*nchan:]
		for x := 0; x < w; x++ {
			dx := int64(x) - cx
			if dx*dx*b*b+dy*dy*a*a <= limit {
				copy(dst[x*nchan:(x+1)*nchan], src[x*nchan:(x+1)*nchan])
			}
		}
	}
}
