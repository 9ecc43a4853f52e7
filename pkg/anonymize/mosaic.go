package anonymize

import (
	"github.com/bmharper/cimg/v2"
	"github.com/videoanon/defacer/pkg/anno"
)

// Mosaic pixelates a region by downscaling it with an averaging filter and
// scaling it back up with nearest neighbor sampling.
type Mosaic struct {
	BlockSize int
}

func (m *Mosaic) Apply(frame *cimg.Image, box anno.BoundingBox, ellipse bool) {
	box = clipBox(frame, box)
	if box.Width() <= 0 || box.Height() <= 0 {
		return
	}
	roi := copyRegion(frame, box)

	smallW := max(1, box.Width()/m.BlockSize)
	smallH := max(1, box.Height()/m.BlockSize)
	small := cimg.ResizeNew(roi, smallW, smallH, &cimg.ResizeParams{Filter: cimg.ResizeFilterBox, CheapSRGBFilter: true})
	mosaic := cimg.ResizeNew(small, box.Width(), box.Height(), &cimg.ResizeParams{Filter: cimg.ResizeFilterPointSample, CheapSRGBFilter: true})

	blitRegion(frame, box, mosaic, ellipse)
}
