package anonymize

import (
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/stretchr/testify/require"
	"github.com/videoanon/defacer/pkg/anno"
)

func box(x1, y1, x2, y2 int) anno.BoundingBox {
	return anno.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func solidFrame(w, h int, color [3]uint8) *cimg.Image {
	frame := cimg.NewImage(w, h, cimg.PixelFormatRGB)
	nchan := frame.NChan()
	for y := 0; y < h; y++ {
		row := frame.Pixels[y*frame.Stride:]
		for x := 0; x < w; x++ {
			row[x*nchan] = color[0]
			row[x*nchan+1] = color[1]
			row[x*nchan+2] = color[2]
		}
	}
	return frame
}

func pixelAt(frame *cimg.Image, x, y int) [3]uint8 {
	nchan := frame.NChan()
	p := frame.Pixels[y*frame.Stride+x*nchan:]
	return [3]uint8{p[0], p[1], p[2]}
}

func TestParseKind(t *testing.T) {
	for _, name := range []string{"mosaic", "blur", "solid"} {
		kind, err := ParseKind(name)
		require.NoError(t, err)
		require.Equal(t, Kind(name), kind)
	}
	_, err := ParseKind("pixelate")
	require.Error(t, err)
}

func TestSolidRectangle(t *testing.T) {
	frame := solidFrame(100, 100, [3]uint8{200, 200, 200})
	a, err := New(Config{Kind: KindSolid, Color: [3]uint8{255, 0, 0}})
	require.NoError(t, err)

	a.Apply(frame, box(20, 30, 40, 50), false)

	require.Equal(t, [3]uint8{255, 0, 0}, pixelAt(frame, 20, 30))
	require.Equal(t, [3]uint8{255, 0, 0}, pixelAt(frame, 39, 49))
	// Outside the box nothing changes.
	require.Equal(t, [3]uint8{200, 200, 200}, pixelAt(frame, 19, 30))
	require.Equal(t, [3]uint8{200, 200, 200}, pixelAt(frame, 40, 50))
}

func TestSolidEllipseSparesCorners(t *testing.T) {
	frame := solidFrame(100, 100, [3]uint8{200, 200, 200})
	a, err := New(Config{Kind: KindSolid, Color: [3]uint8{0, 0, 0}})
	require.NoError(t, err)

	a.Apply(frame, box(10, 10, 50, 50), true)

	// Center is filled, corners of the rectangle are not.
	require.Equal(t, [3]uint8{0, 0, 0}, pixelAt(frame, 30, 30))
	require.Equal(t, [3]uint8{200, 200, 200}, pixelAt(frame, 10, 10))
	require.Equal(t, [3]uint8{200, 200, 200}, pixelAt(frame, 49, 49))
	// Points on the horizontal axis at the edge of the ellipse are filled.
	require.Equal(t, [3]uint8{0, 0, 0}, pixelAt(frame, 11, 30))
}

func TestMosaicUniformBlock(t *testing.T) {
	// Left half black, right half white. With a block size covering the
	// whole region, the mosaic collapses the region to a single color.
	frame := solidFrame(64, 64, [3]uint8{0, 0, 0})
	nchan := frame.NChan()
	for y := 0; y < 64; y++ {
		row := frame.Pixels[y*frame.Stride:]
		for x := 32; x < 64; x++ {
			row[x*nchan] = 255
			row[x*nchan+1] = 255
			row[x*nchan+2] = 255
		}
	}

	a, err := New(Config{Kind: KindMosaic, BlockSize: 40})
	require.NoError(t, err)
	a.Apply(frame, box(16, 16, 48, 48), false)

	first := pixelAt(frame, 16, 16)
	for y := 16; y < 48; y++ {
		for x := 16; x < 48; x++ {
			require.Equal(t, first, pixelAt(frame, x, y))
		}
	}
	// Untouched outside.
	require.Equal(t, [3]uint8{0, 0, 0}, pixelAt(frame, 0, 0))
	require.Equal(t, [3]uint8{255, 255, 255}, pixelAt(frame, 63, 63))
}

func TestMosaicConstantRegionUnchanged(t *testing.T) {
	frame := solidFrame(50, 50, [3]uint8{90, 120, 30})
	a, err := New(Config{Kind: KindMosaic, BlockSize: 8})
	require.NoError(t, err)
	a.Apply(frame, box(5, 5, 45, 45), true)
	require.Equal(t, [3]uint8{90, 120, 30}, pixelAt(frame, 25, 25))
}

func TestBlurSoftensEdges(t *testing.T) {
	// Checkerboard inside the region. After blurring, pixels move toward
	// the mean instead of staying at the extremes.
	frame := solidFrame(40, 40, [3]uint8{0, 0, 0})
	nchan := frame.NChan()
	for y := 10; y < 30; y++ {
		row := frame.Pixels[y*frame.Stride:]
		for x := 10; x < 30; x++ {
			if (x+y)%2 == 0 {
				row[x*nchan] = 255
				row[x*nchan+1] = 255
				row[x*nchan+2] = 255
			}
		}
	}

	a, err := New(Config{Kind: KindBlur, KernelSize: 9})
	require.NoError(t, err)
	a.Apply(frame, box(10, 10, 30, 30), false)

	center := pixelAt(frame, 20, 20)
	require.Greater(t, center[0], uint8(40))
	require.Less(t, center[0], uint8(220))
	// Outside the region nothing changes.
	require.Equal(t, [3]uint8{0, 0, 0}, pixelAt(frame, 5, 5))
}

func TestBlurConstantRegionUnchanged(t *testing.T) {
	frame := solidFrame(40, 40, [3]uint8{77, 77, 77})
	a, err := New(Config{Kind: KindBlur, KernelSize: 99})
	require.NoError(t, err)
	a.Apply(frame, box(0, 0, 40, 40), false)
	require.Equal(t, [3]uint8{77, 77, 77}, pixelAt(frame, 20, 20))
	require.Equal(t, [3]uint8{77, 77, 77}, pixelAt(frame, 0, 0))
}

func TestDegenerateAndOutOfFrameBoxes(t *testing.T) {
	frame := solidFrame(30, 30, [3]uint8{10, 10, 10})
	for _, kind := range []Kind{KindMosaic, KindBlur, KindSolid} {
		cfg := DefaultConfig()
		cfg.Kind = kind
		a, err := New(cfg)
		require.NoError(t, err)
		a.Apply(frame, box(5, 5, 5, 20), false)       // zero width
		a.Apply(frame, box(100, 100, 120, 120), true) // fully outside
		a.Apply(frame, box(-50, -50, -10, -10), true) // fully outside, negative
	}
	require.Equal(t, [3]uint8{10, 10, 10}, pixelAt(frame, 15, 15))
}

func TestApplyAll(t *testing.T) {
	frame := solidFrame(100, 50, [3]uint8{128, 128, 128})
	a, err := New(Config{Kind: KindSolid, Color: [3]uint8{0, 255, 0}})
	require.NoError(t, err)
	ApplyAll(a, frame, []anno.BoundingBox{box(0, 0, 10, 10), box(60, 20, 80, 40)}, false)
	require.Equal(t, [3]uint8{0, 255, 0}, pixelAt(frame, 5, 5))
	require.Equal(t, [3]uint8{0, 255, 0}, pixelAt(frame, 70, 30))
	require.Equal(t, [3]uint8{128, 128, 128}, pixelAt(frame, 30, 30))
}
