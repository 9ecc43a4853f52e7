package session

import (
	"fmt"
	"io"

	"github.com/videoanon/defacer/pkg/anno"
	"github.com/videoanon/defacer/pkg/export"
	"github.com/videoanon/defacer/pkg/facetrack"
)

// DetectionJob describes a detect-and-track pass over a video.
type DetectionJob struct {
	Source   export.FrameSource
	Detector facetrack.Detector
	// Tracker is optional. Without it, every detection becomes its own
	// single-annotation track.
	Tracker *facetrack.Tracker
	// BBoxScale grows detection boxes before they are stored, so the
	// anonymized region covers a bit more than the detected face.
	// 0 means 1.0.
	BBoxScale float64
	// Progress and Cancel behave like their export counterparts.
	Progress func(current, total int)
	Cancel   func() bool
}

// RunDetection drains the job's video source, detects faces on each frame
// and posts the resulting annotations to the session. Face detection runs
// on the calling goroutine. Tracker updates and store writes run on the
// owner goroutine, one batch per frame, so manual edits posted concurrently
// interleave cleanly between frames.
func (s *Session) RunDetection(job DetectionJob) error {
	info := job.Source.Info()
	scale := job.BBoxScale
	if scale == 0 {
		scale = 1.0
	}
	if job.Tracker != nil {
		// The tracker runs on the owner goroutine, so it can mint ids
		// straight from the store.
		s.PostWait(func(store *anno.Store) {
			job.Tracker.BindTrackIDSource(store.NewTrackID)
		})
	}
	processed := 0
	defer func() {
		if job.Progress != nil {
			t := info.FrameCount
			if t == 0 {
				t = processed
			}
			job.Progress(t, t)
		}
	}()

	for {
		if job.Cancel != nil && job.Cancel() {
			return export.ErrCanceled
		}
		n, frame, err := job.Source.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		detections, err := job.Detector.Detect(frame)
		if err != nil {
			return fmt.Errorf("Face detection failed on frame %v: %w", n, err)
		}
		s.PostWait(func(store *anno.Store) {
			if job.Tracker != nil {
				for _, t := range job.Tracker.Update(n, detections) {
					store.Add(&anno.Annotation{
						Frame:      n,
						Box:        export.ScaleBox(t.Box, scale, info.Width, info.Height),
						TrackID:    t.TrackID,
						IsManual:   false,
						Confidence: float64(t.Confidence),
					}, false)
				}
			} else {
				for _, d := range detections {
					store.Add(&anno.Annotation{
						Frame:      n,
						Box:        export.ScaleBox(d.Box, scale, info.Width, info.Height),
						TrackID:    store.NewTrackID(),
						IsManual:   false,
						Confidence: float64(d.Confidence),
					}, false)
				}
			}
		})
		processed++
		if job.Progress != nil {
			job.Progress(processed, info.FrameCount)
		}
	}
	s.log.Infof("Detection pass over %v frames complete", processed)
	return nil
}
