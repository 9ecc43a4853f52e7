package export

import (
	"github.com/bmharper/cimg/v2"
	"github.com/videoanon/defacer/pkg/anno"
	"github.com/videoanon/defacer/pkg/anonymize"
)

// FrameOptions control per-frame anonymization.
type FrameOptions struct {
	// Ellipse anonymizes the inscribed ellipse of each box instead of the
	// full rectangle.
	Ellipse bool
	// BBoxScale grows (>1) or shrinks (<1) each box about its center
	// before anonymizing. 0 means 1.0.
	BBoxScale float64
	// DrawBoxes overlays annotation rectangles and track ids, for
	// verifying annotations rather than producing a shippable video.
	DrawBoxes bool
}

// ScaleBox grows or shrinks box by factor about its center, clamped to the
// frame. The center and the scaled extents round down, so a scaled box can
// shrink by a pixel rather than grow.
func ScaleBox(box anno.BoundingBox, factor float64, frameWidth, frameHeight int) anno.BoundingBox {
	if factor == 1.0 {
		return box
	}
	cx, cy := box.Center()
	newW := int(float64(box.Width()) * factor)
	newH := int(float64(box.Height()) * factor)
	return anno.BoundingBox{
		X1: max(0, cx-newW/2),
		Y1: max(0, cy-newH/2),
		X2: min(frameWidth, cx+newW/2),
		Y2: min(frameHeight, cy+newH/2),
	}
}

// ProcessFrame anonymizes every annotated region of one frame. Frames with
// no annotations are returned untouched, without copying. Annotated frames
// are cloned, so the source frame is never modified.
func ProcessFrame(frame *cimg.Image, frameNumber int, store *anno.Store, anon anonymize.Anonymizer, opts FrameOptions) *cimg.Image {
	anns := store.FrameAnnotations(frameNumber)
	if len(anns) == 0 {
		return frame
	}
	scale := opts.BBoxScale
	if scale == 0 {
		scale = 1.0
	}
	result := cloneImage(frame)
	for _, a := range anns {
		box := ScaleBox(a.Box, scale, frame.Width, frame.Height)
		anon.Apply(result, box, opts.Ellipse)
	}
	if opts.DrawBoxes {
		DrawAnnotations(result, anns)
	}
	return result
}

// ProcessedFrames pulls frames from a source and anonymizes them one at a
// time. Like its source it is not restartable.
type ProcessedFrames struct {
	source FrameSource
	store  *anno.Store
	anon   anonymize.Anonymizer
	opts   FrameOptions
}

func NewProcessedFrames(source FrameSource, store *anno.Store, anon anonymize.Anonymizer, opts FrameOptions) *ProcessedFrames {
	return &ProcessedFrames{
		source: source,
		store:  store,
		anon:   anon,
		opts:   opts,
	}
}

func (p *ProcessedFrames) Info() VideoInfo {
	return p.source.Info()
}

// Next returns the next processed frame, or io.EOF when the source ends.
func (p *ProcessedFrames) Next() (int, *cimg.Image, error) {
	n, frame, err := p.source.Next()
	if err != nil {
		return n, nil, err
	}
	return n, ProcessFrame(frame, n, p.store, p.anon, p.opts), nil
}

func (p *ProcessedFrames) Close() error {
	return p.source.Close()
}

func cloneImage(src *cimg.Image) *cimg.Image {
	dst := cimg.NewImage(src.Width, src.Height, cimg.PixelFormatRGB)
	nchan := dst.NChan()
	for y := 0; y < src.Height; y++ {
		copy(dst.Pixels[y*dst.Stride:y*dst.Stride+src.Width*nchan], src.Pixels[y*src.Stride:])
	}
	return dst
}
