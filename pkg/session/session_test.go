package session

import (
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
	"github.com/videoanon/defacer/pkg/anno"
	"github.com/videoanon/defacer/pkg/export"
	"github.com/videoanon/defacer/pkg/facetrack"
)

func TestSessionSerializesMutations(t *testing.T) {
	s := NewSession(logs.NewTestingLog(t))
	defer s.Close()

	// Hammer the session from several goroutines. Every op runs alone on
	// the owner goroutine, so the store needs no locking.
	wg := sync.WaitGroup{}
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Post(func(store *anno.Store) {
					store.Add(&anno.Annotation{
						Frame:      g*50 + i,
						Box:        anno.BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10},
						TrackID:    anno.NoTrack,
						IsManual:   true,
						Confidence: 1,
					}, false)
				})
			}
		}(g)
	}
	wg.Wait()

	count := 0
	s.PostWait(func(store *anno.Store) {
		count = store.Len()
	})
	require.Equal(t, 400, count)
}

func TestSessionNewTrackIDUnique(t *testing.T) {
	s := NewSession(logs.NewTestingLog(t))
	defer s.Close()

	seen := sync.Map{}
	wg := sync.WaitGroup{}
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				id := s.NewTrackID()
				_, dup := seen.LoadOrStore(id, true)
				require.False(t, dup)
			}
		}()
	}
	wg.Wait()
}

func TestSessionSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotations.json")

	s := NewSession(logs.NewTestingLog(t))
	s.PostWait(func(store *anno.Store) {
		store.Add(&anno.Annotation{Frame: 3, Box: anno.BoundingBox{X1: 1, Y1: 2, X2: 3, Y2: 4}, TrackID: store.NewTrackID(), IsManual: true, Confidence: 1}, false)
	})
	require.NoError(t, s.Save(path))
	s.Close()

	s2, err := NewSessionFromFile(logs.NewTestingLog(t), path)
	require.NoError(t, err)
	defer s2.Close()
	count := 0
	s2.PostWait(func(store *anno.Store) {
		count = store.Len()
	})
	require.Equal(t, 1, count)

	_, err = NewSessionFromFile(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

// scriptSource serves synthetic frames for detection tests.
type scriptSource struct {
	info export.VideoInfo
	next int
}

func (s *scriptSource) Info() export.VideoInfo {
	return s.info
}

func (s *scriptSource) Next() (int, *cimg.Image, error) {
	if s.next >= s.info.FrameCount {
		return 0, nil, io.EOF
	}
	n := s.next
	s.next++
	return n, cimg.NewImage(s.info.Width, s.info.Height, cimg.PixelFormatRGB), nil
}

func (s *scriptSource) Close() error {
	return nil
}

// scriptDetector reports one face per frame, moving right.
type scriptDetector struct {
	frame int
}

func (d *scriptDetector) Detect(frame *cimg.Image) ([]facetrack.Detection, error) {
	x := 100 + d.frame*5
	d.frame++
	return []facetrack.Detection{
		{Box: anno.BoundingBox{X1: x, Y1: 100, X2: x + 40, Y2: 140}, Confidence: 0.9},
	}, nil
}

func (d *scriptDetector) Close() {}

func TestRunDetectionWithTracker(t *testing.T) {
	logger := logs.NewTestingLog(t)
	s := NewSession(logger)
	defer s.Close()

	tracker := facetrack.NewTracker(logger, facetrack.DefaultOptions(640, 480))
	progress := [][2]int{}
	err := s.RunDetection(DetectionJob{
		Source:    &scriptSource{info: export.VideoInfo{Width: 640, Height: 480, FPS: 30, FrameCount: 10}},
		Detector:  &scriptDetector{},
		Tracker:   tracker,
		BBoxScale: 1.0,
		Progress: func(current, total int) {
			progress = append(progress, [2]int{current, total})
		},
	})
	require.NoError(t, err)
	require.Equal(t, [2]int{10, 10}, progress[len(progress)-1])

	s.PostWait(func(store *anno.Store) {
		// MinHits is 3, so the first two frames have no annotations.
		require.Empty(t, store.FrameAnnotations(0))
		require.Empty(t, store.FrameAnnotations(1))
		require.Equal(t, []int64{1}, store.TrackIDs())
		// One annotation per frame from confirmation onwards.
		require.Equal(t, 8, store.TrackAnnotationCount(1))
		a := store.AnnotationByFrameTrack(5, 1)
		require.NotNil(t, a)
		require.False(t, a.IsManual)
		require.Equal(t, 125, a.Box.X1)
	})
}

func TestRunDetectionWithoutTracker(t *testing.T) {
	s := NewSession(logs.NewTestingLog(t))
	defer s.Close()

	err := s.RunDetection(DetectionJob{
		Source:   &scriptSource{info: export.VideoInfo{Width: 640, Height: 480, FPS: 30, FrameCount: 4}},
		Detector: &scriptDetector{},
	})
	require.NoError(t, err)

	s.PostWait(func(store *anno.Store) {
		require.Equal(t, 4, store.Len())
		// Every detection becomes its own track.
		require.Equal(t, []int64{1, 2, 3, 4}, store.TrackIDs())
	})
}

func TestRunDetectionCancel(t *testing.T) {
	s := NewSession(logs.NewTestingLog(t))
	defer s.Close()

	frames := 0
	err := s.RunDetection(DetectionJob{
		Source:   &scriptSource{info: export.VideoInfo{Width: 640, Height: 480, FPS: 30, FrameCount: 100}},
		Detector: &scriptDetector{},
		Progress: func(current, total int) {
			frames = current
		},
		Cancel: func() bool {
			return frames >= 5
		},
	})
	require.ErrorIs(t, err, export.ErrCanceled)
}
