package anno

// NoTrack is the TrackID of an annotation that is not part of any track.
// Real track ids start at 1 and NoTrack is never handed out by NewTrackID.
const NoTrack int64 = 0

// Annotation is one bounding box on one frame, optionally tied to a track.
// Annotations are entities, not values: the store hands out *Annotation and
// identity is pointer identity. Two annotations with equal fields are still
// distinct objects, which matters for selection and removal-by-reference.
type Annotation struct {
	Frame      int
	Box        BoundingBox
	TrackID    int64   // NoTrack if not associated with a track
	IsManual   bool    // true if placed/edited by the operator
	Confidence float64 // detector confidence in [0,1]; 1.0 for manual boxes
}

// NewManualAnnotation creates an operator-placed annotation.
func NewManualAnnotation(frame int, box BoundingBox, trackID int64) *Annotation {
	return &Annotation{
		Frame:      frame,
		Box:        box,
		TrackID:    trackID,
		IsManual:   true,
		Confidence: 1.0,
	}
}
