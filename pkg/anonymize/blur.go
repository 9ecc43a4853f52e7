package anonymize

import (
	"github.com/bmharper/cimg/v2"
	"github.com/videoanon/defacer/pkg/anno"
)

// Blur smooths a region with three box blur passes, which is a close
// approximation of a Gaussian blur.
type Blur struct {
	// KernelSize is the equivalent Gaussian kernel size. Even values are
	// bumped to the next odd value. The kernel never exceeds the region.
	KernelSize int
}

func (g *Blur) Apply(frame *cimg.Image, box anno.BoundingBox, ellipse bool) {
	box = clipBox(frame, box)
	if box.Width() <= 0 || box.Height() <= 0 {
		return
	}
	ksize := g.KernelSize
	if ksize%2 == 0 {
		ksize++
	}
	ksize = min(ksize, box.Width(), box.Height())
	if ksize%2 == 0 {
		ksize--
	}
	ksize = max(3, ksize)
	// Three box passes of radius k/6 approximate a Gaussian of kernel size k.
	radius := max(1, ksize/6)

	roi := copyRegion(frame, box)
	tmp := cimg.NewImage(roi.Width, roi.Height, cimg.PixelFormatRGB)
	for pass := 0; pass < 3; pass++ {
		boxBlurH(roi, tmp, radius)
		boxBlurV(tmp, roi, radius)
	}

	blitRegion(frame, box, roi, ellipse)
}

// boxBlurH writes a horizontal box blur of src into dst. Edges replicate the
// border pixel. src and dst have identical dimensions.
func boxBlurH(src, dst *cimg.Image, radius int) {
	w := src.Width
	h := src.Height
	nchan := src.NChan()
	window := uint32(2*radius + 1)
	clampX := func(x int) int {
		return min(max(x, 0), w-1)
	}
	for y := 0; y < h; y++ {
		srow := src.Pixels[y*src.Stride:]
		drow := dst.Pixels[y*dst.Stride:]
		for c := 0; c < nchan; c++ {
			sum := uint32(0)
			for x := -radius; x <= radius; x++ {
				sum += uint32(srow[clampX(x)*nchan+c])
			}
			for x := 0; x < w; x++ {
				drow[x*nchan+c] = uint8(sum / window)
				sum += uint32(srow[clampX(x+radius+1)*nchan+c])
				sum -= uint32(srow[clampX(x-radius)*nchan+c])
			}
		}
	}
}

// boxBlurV writes a vertical box blur of src into dst.
func boxBlurV(src, dst *cimg.Image, radius int) {
	w := src.Width
	h := src.Height
	nchan := src.NChan()
	window := uint32(2*radius + 1)
	clampY := func(y int) int {
		return min(max(y, 0), h-1)
	}
	for x := 0; x < w; x++ {
		for c := 0; c < nchan; c++ {
			sum := uint32(0)
			for y := -radius; y <= radius; y++ {
				sum += uint32(src.Pixels[clampY(y)*src.Stride+x*nchan+c])
			}
			for y := 0; y < h; y++ {
				dst.Pixels[y*dst.Stride+x*nchan+c] = uint8(sum / window)
				sum += uint32(src.Pixels[clampY(y+radius+1)*src.Stride+x*nchan+c])
				sum -= uint32(src.Pixels[clampY(y-radius)*src.Stride+x*nchan+c])
			}
		}
	}
}
