package anno

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterpolateTrackLinearity(t *testing.T) {
	s := NewStore()
	s.Add(&Annotation{Frame: 10, Box: box(0, 0, 10, 10), TrackID: 1, IsManual: true, Confidence: 1}, false)
	s.Add(&Annotation{Frame: 20, Box: box(20, 20, 30, 30), TrackID: 1, IsManual: true, Confidence: 1}, false)

	added := InterpolateTrackRange(s, 1, 10, 20)
	require.Equal(t, 9, added)

	mid := s.AnnotationByFrameTrack(15, 1)
	require.NotNil(t, mid)
	require.Equal(t, box(10, 10, 20, 20), mid.Box)

	// Every intermediate frame is filled.
	for f := 11; f < 20; f++ {
		require.NotNil(t, s.AnnotationByFrameTrack(f, 1))
	}
	require.Equal(t, 11, s.TrackAnnotationCount(1))
	requireInvariant(t, s)

	// Re-running changes nothing: previously interpolated frames are now
	// keyframes with zero-width gaps.
	require.Equal(t, 0, InterpolateTrackRange(s, 1, 10, 20))
	require.Equal(t, 11, s.TrackAnnotationCount(1))
}

func TestInterpolateTrackWholeRange(t *testing.T) {
	s := NewStore()
	s.Add(&Annotation{Frame: 0, Box: box(0, 0, 10, 10), TrackID: 1, Confidence: 1}, false)
	s.Add(&Annotation{Frame: 5, Box: box(10, 10, 20, 20), TrackID: 1, Confidence: 1}, false)
	s.Add(&Annotation{Frame: 6, Box: box(12, 12, 22, 22), TrackID: 1, Confidence: 1}, false)
	s.Add(&Annotation{Frame: 10, Box: box(20, 20, 30, 30), TrackID: 1, Confidence: 1}, false)

	// Gaps 0-5 (4 frames) and 6-10 (3 frames); 5-6 is adjacent.
	require.Equal(t, 7, InterpolateTrack(s, 1))
	require.Equal(t, 11, s.TrackAnnotationCount(1))
}

func TestInterpolateTrackTooFewKeyframes(t *testing.T) {
	s := NewStore()
	require.Equal(t, 0, InterpolateTrack(s, 1))
	s.Add(&Annotation{Frame: 10, Box: box(0, 0, 10, 10), TrackID: 1, Confidence: 1}, false)
	require.Equal(t, 0, InterpolateTrack(s, 1))
}

func TestInterpolateAllTracks(t *testing.T) {
	s := NewStore()
	s.Add(&Annotation{Frame: 0, Box: box(0, 0, 10, 10), TrackID: 1, Confidence: 1}, false)
	s.Add(&Annotation{Frame: 3, Box: box(6, 6, 16, 16), TrackID: 1, Confidence: 1}, false)
	s.Add(&Annotation{Frame: 10, Box: box(50, 50, 60, 60), TrackID: 2, Confidence: 1}, false)
	s.Add(&Annotation{Frame: 12, Box: box(54, 54, 64, 64), TrackID: 2, Confidence: 1}, false)

	require.Equal(t, 3, InterpolateAllTracks(s))
	require.Equal(t, 4, s.TrackAnnotationCount(1))
	require.Equal(t, 3, s.TrackAnnotationCount(2))
	requireInvariant(t, s)
}

func TestInterpolateFramesUpdatesExisting(t *testing.T) {
	s := NewStore()
	s.Add(&Annotation{Frame: 0, Box: box(0, 0, 10, 10), TrackID: 1, Confidence: 1}, false)
	s.Add(&Annotation{Frame: 10, Box: box(100, 100, 110, 110), TrackID: 1, Confidence: 1}, false)
	// A stale annotation sits mid-gap; it gets its box rewritten, not duplicated.
	stale := &Annotation{Frame: 5, Box: box(999, 999, 1000, 1000), TrackID: 1, Confidence: 1}
	s.Add(stale, false)

	added := s.InterpolateFrames(1, 0, 10, false)
	require.Equal(t, 8, added) // 9 intermediate frames, one already existed
	require.Equal(t, box(50, 50, 60, 60), stale.Box)
	require.Equal(t, 11, s.TrackAnnotationCount(1))
	requireInvariant(t, s)
}

func TestInterpolateFramesMissingEndpoint(t *testing.T) {
	s := NewStore()
	s.Add(&Annotation{Frame: 0, Box: box(0, 0, 10, 10), TrackID: 1, Confidence: 1}, false)
	require.Equal(t, 0, s.InterpolateFrames(1, 0, 10, false))
	require.Equal(t, 1, s.Len())
}

func TestInterpolateSequential(t *testing.T) {
	s := NewStore()
	s.Add(&Annotation{Frame: 0, Box: box(0, 0, 10, 10), TrackID: 1, IsManual: true, Confidence: 1}, false)
	s.Add(&Annotation{Frame: 4, Box: box(8, 8, 18, 18), TrackID: 2, IsManual: true, Confidence: 1}, false)

	added := InterpolateSequential(s)
	require.Equal(t, 3, added)

	// Gap frames inherit the earlier frame's track id and are machine-made.
	for f := 1; f < 4; f++ {
		anns := s.FrameAnnotations(f)
		require.Len(t, anns, 1)
		require.Equal(t, int64(1), anns[0].TrackID)
		require.False(t, anns[0].IsManual)
	}
	require.Equal(t, box(2, 2, 12, 12), s.FrameAnnotations(1)[0].Box)
	requireInvariant(t, s)
}

func TestInterpolateSequentialNothingToDo(t *testing.T) {
	s := NewStore()
	require.Equal(t, 0, InterpolateSequential(s))
	s.Add(&Annotation{Frame: 1, Box: box(0, 0, 10, 10), Confidence: 1}, false)
	require.Equal(t, 0, InterpolateSequential(s))
	s.Add(&Annotation{Frame: 2, Box: box(0, 0, 10, 10), Confidence: 1}, false)
	// Adjacent frames leave nothing to fill.
	require.Equal(t, 0, InterpolateSequential(s))
}
