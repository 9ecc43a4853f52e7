package anno

// InterpolateFrames fills the gap of one track between two annotated frames.
// Intermediate frames get linearly blended boxes; frames that already hold
// an annotation of the track are updated in place. Returns the number of
// annotations newly created. No-op (returns 0) unless both startFrame and
// endFrame carry an annotation of the track.
//
// This is the primitive behind the editing flows; InterpolateTrack walks a
// whole track in terms of it.
func (s *Store) InterpolateFrames(trackID int64, startFrame, endFrame int, saveUndo bool) int {
	startAnn := s.AnnotationByFrameTrack(startFrame, trackID)
	endAnn := s.AnnotationByFrameTrack(endFrame, trackID)
	if startAnn == nil || endAnn == nil {
		return 0
	}
	if saveUndo {
		s.saveUndoState()
	}
	count := 0
	for frame := startFrame + 1; frame < endFrame; frame++ {
		t := float64(frame-startFrame) / float64(endFrame-startFrame)
		box := InterpolateBox(startAnn.Box, endAnn.Box, t)
		if existing := s.AnnotationByFrameTrack(frame, trackID); existing != nil {
			existing.Box = box
		} else {
			s.Add(&Annotation{
				Frame:      frame,
				Box:        box,
				TrackID:    trackID,
				IsManual:   true,
				Confidence: 1.0,
			}, false)
			count++
		}
	}
	return count
}

// InterpolateTrack linearly interpolates a track between all of its
// keyframes. Returns the number of frames added or updated. Because Add
// folds duplicates into the existing annotation, re-running is idempotent.
func InterpolateTrack(store *Store, trackID int64) int {
	keyframes := trackKeyframes(store, trackID)
	return interpolateKeyframes(store, trackID, keyframes)
}

// InterpolateTrackRange is InterpolateTrack restricted to keyframes within
// [startFrame, endFrame] inclusive.
func InterpolateTrackRange(store *Store, trackID int64, startFrame, endFrame int) int {
	keyframes := []*Annotation{}
	for _, a := range trackKeyframes(store, trackID) {
		if a.Frame >= startFrame && a.Frame <= endFrame {
			keyframes = append(keyframes, a)
		}
	}
	return interpolateKeyframes(store, trackID, keyframes)
}

// InterpolateAllTracks applies InterpolateTrack to every live track and
// returns the total number of frames added or updated.
func InterpolateAllTracks(store *Store) int {
	total := 0
	for _, trackID := range store.TrackIDs() {
		total += InterpolateTrack(store, trackID)
	}
	return total
}

// InterpolateSequential is the export-time, track-agnostic interpolation:
// it fills the gaps between consecutive frames that contain any annotation
// at all, using the first (bottom-most) annotation of each such frame. This
// guarantees anonymization coverage for export even when track ids are
// inconsistent, at the cost of sometimes interpolating across unrelated
// identities when multiple tracks meet at a gap. Returns the number of
// annotations added.
func InterpolateSequential(store *Store) int {
	frames := store.Frames()
	if len(frames) < 2 {
		return 0
	}
	count := 0
	for i := 0; i < len(frames)-1; i++ {
		f1, f2 := frames[i], frames[i+1]
		if f2-f1 <= 1 {
			continue
		}
		anns1 := store.FrameAnnotations(f1)
		anns2 := store.FrameAnnotations(f2)
		if len(anns1) == 0 || len(anns2) == 0 {
			continue
		}
		a1, a2 := anns1[0], anns2[0]
		trackID := a1.TrackID
		if trackID == NoTrack {
			trackID = a2.TrackID
		}
		for frame := f1 + 1; frame < f2; frame++ {
			t := float64(frame-f1) / float64(f2-f1)
			store.Add(&Annotation{
				Frame:      frame,
				Box:        InterpolateBox(a1.Box, a2.Box, t),
				TrackID:    trackID,
				IsManual:   false,
				Confidence: 1.0,
			}, false)
			count++
		}
	}
	return count
}

func trackKeyframes(store *Store, trackID int64) []*Annotation {
	return store.trackAnnotationsSorted(trackID)
}

func interpolateKeyframes(store *Store, trackID int64, keyframes []*Annotation) int {
	if len(keyframes) < 2 {
		return 0
	}
	count := 0
	for i := 0; i < len(keyframes)-1; i++ {
		a1, a2 := keyframes[i], keyframes[i+1]
		if a2.Frame-a1.Frame <= 1 {
			continue
		}
		for frame := a1.Frame + 1; frame < a2.Frame; frame++ {
			t := float64(frame-a1.Frame) / float64(a2.Frame-a1.Frame)
			store.Add(&Annotation{
				Frame:      frame,
				Box:        InterpolateBox(a1.Box, a2.Box, t),
				TrackID:    trackID,
				IsManual:   true,
				Confidence: 1.0,
			}, false)
			count++
		}
	}
	return count
}
