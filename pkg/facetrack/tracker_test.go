package facetrack

import (
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
	"github.com/videoanon/defacer/pkg/anno"
)

func det(x1, y1, x2, y2 int, confidence float32) Detection {
	return Detection{
		Box:        anno.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Confidence: confidence,
	}
}

// movingFace returns a 40x40 detection whose top-left starts at (x, y) and
// moves right by 5 pixels per frame.
func movingFace(frame, x, y int) Detection {
	return det(x+frame*5, y, x+frame*5+40, y+40, 0.9)
}

func TestTrackerConfirmsAfterMinHits(t *testing.T) {
	tracker := NewTracker(logs.NewTestingLog(t), DefaultOptions(640, 480))

	require.Empty(t, tracker.Update(0, []Detection{movingFace(0, 100, 100)}))
	require.Empty(t, tracker.Update(1, []Detection{movingFace(1, 100, 100)}))

	tracks := tracker.Update(2, []Detection{movingFace(2, 100, 100)})
	require.Len(t, tracks, 1)
	require.Equal(t, int64(1), tracks[0].TrackID)
	require.Equal(t, 0, tracks[0].Age)
	require.Equal(t, anno.BoundingBox{X1: 110, Y1: 100, X2: 150, Y2: 140}, tracks[0].Box)
	require.Equal(t, float32(0.9), tracks[0].Confidence)
}

func TestTrackerFlickerNeverConfirmed(t *testing.T) {
	tracker := NewTracker(logs.NewTestingLog(t), DefaultOptions(640, 480))

	require.Empty(t, tracker.Update(0, []Detection{det(10, 10, 50, 50, 0.6)}))
	require.Empty(t, tracker.Update(1, []Detection{det(12, 10, 52, 50, 0.6)}))
	// Detection disappears before reaching MinHits.
	for f := 2; f < 40; f++ {
		require.Empty(t, tracker.Update(f, nil))
	}
	require.Empty(t, tracker.Tracks())
}

func TestTrackerCoastsThroughMissedDetections(t *testing.T) {
	opts := DefaultOptions(640, 480)
	opts.MaxAge = 5
	tracker := NewTracker(logs.NewTestingLog(t), opts)

	for f := 0; f < 4; f++ {
		tracker.Update(f, []Detection{movingFace(f, 100, 100)})
	}
	tracks := tracker.Tracks()
	require.Len(t, tracks, 1)
	id := tracks[0].TrackID

	// Missed frames keep the track alive on its predicted position.
	for miss := 1; miss <= opts.MaxAge; miss++ {
		tracks = tracker.Update(3+miss, nil)
		require.Len(t, tracks, 1)
		require.Equal(t, id, tracks[0].TrackID)
		require.Equal(t, miss, tracks[0].Age)
	}

	// One more missed frame exceeds MaxAge and the track dies.
	require.Empty(t, tracker.Update(3+opts.MaxAge+1, nil))
}

func TestTrackerReacquiresAfterGap(t *testing.T) {
	tracker := NewTracker(logs.NewTestingLog(t), DefaultOptions(640, 480))

	for f := 0; f < 4; f++ {
		tracker.Update(f, []Detection{movingFace(f, 100, 100)})
	}
	id := tracker.Tracks()[0].TrackID

	tracker.Update(4, nil)
	tracker.Update(5, nil)

	// The face reappears close to where the prediction coasted to.
	tracks := tracker.Update(6, []Detection{movingFace(6, 100, 100)})
	require.Len(t, tracks, 1)
	require.Equal(t, id, tracks[0].TrackID)
	require.Equal(t, 0, tracks[0].Age)
}

func TestTrackerKeepsTwoFacesApart(t *testing.T) {
	tracker := NewTracker(logs.NewTestingLog(t), DefaultOptions(1920, 1080))

	var tracks []TrackedFace
	for f := 0; f < 5; f++ {
		tracks = tracker.Update(f, []Detection{
			movingFace(f, 100, 100),
			movingFace(f, 1500, 800),
		})
	}
	require.Len(t, tracks, 2)
	require.NotEqual(t, tracks[0].TrackID, tracks[1].TrackID)

	// Each track stays glued to its own face.
	byID := map[int64]TrackedFace{}
	for _, tr := range tracks {
		byID[tr.TrackID] = tr
	}
	for _, tr := range byID {
		require.True(t, tr.Box.Y1 == 100 || tr.Box.Y1 == 800)
	}
}

func TestTrackerSharedIDSequence(t *testing.T) {
	store := anno.NewStore()
	opts := DefaultOptions(640, 480)
	opts.NewTrackID = store.NewTrackID
	tracker := NewTracker(logs.NewTestingLog(t), opts)

	manual := store.NewTrackID() // takes id 1

	for f := 0; f < 3; f++ {
		tracker.Update(f, []Detection{movingFace(f, 100, 100)})
	}
	tracks := tracker.Tracks()
	require.Len(t, tracks, 1)
	require.Equal(t, int64(2), tracks[0].TrackID)
	require.NotEqual(t, manual, tracks[0].TrackID)
	require.Equal(t, int64(3), store.NewTrackID())
}

func TestTrackerHistory(t *testing.T) {
	tracker := NewTracker(logs.NewTestingLog(t), DefaultOptions(640, 480))
	for f := 0; f < 5; f++ {
		tracker.Update(f, []Detection{movingFace(f, 100, 100)})
	}
	id := tracker.Tracks()[0].TrackID
	history := tracker.History(id)
	require.Len(t, history, 5)
	require.Equal(t, anno.BoundingBox{X1: 100, Y1: 100, X2: 140, Y2: 140}, history[0])
	require.Equal(t, anno.BoundingBox{X1: 120, Y1: 100, X2: 160, Y2: 140}, history[4])

	require.Nil(t, tracker.History(999))
}

func TestTrackerReset(t *testing.T) {
	tracker := NewTracker(logs.NewTestingLog(t), DefaultOptions(640, 480))
	for f := 0; f < 3; f++ {
		tracker.Update(f, []Detection{movingFace(f, 100, 100)})
	}
	require.NotEmpty(t, tracker.Tracks())
	tracker.Reset()
	require.Empty(t, tracker.Tracks())

	// Ids are not reused after a reset.
	for f := 0; f < 3; f++ {
		tracker.Update(f, []Detection{movingFace(f, 100, 100)})
	}
	require.Equal(t, int64(2), tracker.Tracks()[0].TrackID)
}
