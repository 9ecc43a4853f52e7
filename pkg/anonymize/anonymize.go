// Package anonymize renders faces unrecognizable inside a bounding box,
// either over the whole rectangle or inside its inscribed ellipse.
package anonymize

import (
	"fmt"

	"github.com/bmharper/cimg/v2"
	"github.com/videoanon/defacer/pkg/anno"
)

// Kind selects the anonymization effect.
type Kind string

const (
	KindMosaic Kind = "mosaic"
	KindBlur   Kind = "blur"
	KindSolid  Kind = "solid"
)

// ParseKind parses an effect name as used on the command line.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMosaic, KindBlur, KindSolid:
		return Kind(s), nil
	}
	return "", fmt.Errorf("Unknown anonymization type '%v' (want mosaic, blur or solid)", s)
}

// Config selects and parameterizes an anonymization effect.
type Config struct {
	Kind       Kind
	BlockSize  int      // mosaic pixel block size
	KernelSize int      // blur kernel size, forced odd
	Color      [3]uint8 // solid fill color (RGB)
}

// DefaultConfig returns a medium strength mosaic.
func DefaultConfig() Config {
	return Config{
		Kind:       KindMosaic,
		BlockSize:  10,
		KernelSize: 99,
		Color:      [3]uint8{0, 0, 0},
	}
}

// Anonymizer applies an effect to one region of a frame, in place.
type Anonymizer interface {
	// Apply anonymizes box inside frame. With ellipse true only the
	// inscribed ellipse of box is touched. Boxes that fall outside the
	// frame are clipped, and fully degenerate boxes are a no-op.
	Apply(frame *cimg.Image, box anno.BoundingBox, ellipse bool)
}

// New builds the Anonymizer described by cfg.
func New(cfg Config) (Anonymizer, error) {
	switch cfg.Kind {
	case KindMosaic:
		blockSize := cfg.BlockSize
		if blockSize <= 0 {
			blockSize = 10
		}
		return &Mosaic{BlockSize: blockSize}, nil
	case KindBlur:
		kernelSize := cfg.KernelSize
		if kernelSize <= 0 {
			kernelSize = 99
		}
		return &Blur{KernelSize: kernelSize}, nil
	case KindSolid:
		return &Solid{Color: cfg.Color}, nil
	}
	return nil, fmt.Errorf("Unknown anonymization type '%v'", cfg.Kind)
}

// ApplyAll anonymizes every box in frame.
func ApplyAll(a Anonymizer, frame *cimg.Image, boxes []anno.BoundingBox, ellipse bool) {
	for _, box := range boxes {
		a.Apply(frame, box, ellipse)
	}
}
