package facetrack

import (
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/bmharper/flatbush-go"
	"github.com/bmharper/ringbuffer"
	"github.com/chewxy/math32"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"github.com/videoanon/defacer/pkg/anno"
	"github.com/videoanon/defacer/pkg/idgen"
)

// TrackedFace is a face that the tracker is following across frames.
type TrackedFace struct {
	TrackID    int64
	Box        anno.BoundingBox
	Confidence float32
	// Age is the number of frames since the face was last detected.
	// 0 means it was detected in the current frame.
	Age int
}

// Options configure a Tracker.
type Options struct {
	// MaxAge is how many frames a face is kept alive without a detection.
	MaxAge int
	// MinHits is how many detections a face needs before it is confirmed
	// and assigned a track id.
	MinHits int
	// FrameWidth and FrameHeight bound the spatial search buffer.
	FrameWidth  int
	FrameHeight int
	// NewTrackID mints confirmed track ids. A store's NewTrackID keeps the
	// tracker's ids and manually created ids in one sequence. When nil, the
	// tracker uses its own counter.
	NewTrackID func() int64
	Verbose    bool
}

// DefaultOptions are the tracker parameters that work well for faces in
// typical handheld or fixed camera footage.
func DefaultOptions(frameWidth, frameHeight int) Options {
	return Options{
		MaxAge:      30,
		MinHits:     3,
		FrameWidth:  frameWidth,
		FrameHeight: frameHeight,
	}
}

const faceHistorySize = 64 // power of 2, for the ring buffer

// frameAndBox is one entry in a face's position history.
type frameAndBox struct {
	frame int
	box   anno.BoundingBox
}

// face is the tracker's internal state for one followed face.
// A face keeps a provisional uuid until it has MinHits sightings, at which
// point it gets a permanent int64 track id.
type face struct {
	provisionalID uuid.UUID
	trackID       int64 // anno.NoTrack until confirmed
	box           anno.BoundingBox
	confidence    float32
	hits          int
	age           int
	filter        *kalman_filter.Kalman2D
	predictedX    float64
	predictedY    float64
	history       ringbuffer.RingP[frameAndBox]
}

// predictedBox is the face's last box centered on the Kalman-predicted
// position. Used for matching and for coasting through missed detections.
func (f *face) predictedBox() anno.BoundingBox {
	w := f.box.Width()
	h := f.box.Height()
	x1 := int(f.predictedX) - w/2
	y1 := int(f.predictedY) - h/2
	return anno.BoundingBox{X1: x1, Y1: y1, X2: x1 + w, Y2: y1 + h}
}

// Tracker follows faces across frames by matching each frame's detections
// to the Kalman-predicted positions of known faces. Matching is IoU first,
// with center distance as the tie breaker when boxes don't overlap, which
// happens routinely when detection runs at a lower rate than the video.
type Tracker struct {
	log     logs.Log
	opts    Options
	faces   []*face
	frame   int
	ownIDs  idgen.Int64
	scratch []int
}

func NewTracker(log logs.Log, opts Options) *Tracker {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30
	}
	if opts.MinHits <= 0 {
		opts.MinHits = 3
	}
	return &Tracker{
		log:  log,
		opts: opts,
	}
}

// Update advances the tracker by one frame and returns the confirmed faces,
// including coasting ones that were not detected in this frame.
func (t *Tracker) Update(frame int, detections []Detection) []TrackedFace {
	t.frame = frame

	// Kalman predict for every known face, then index the predicted boxes.
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(t.faces))
	for _, f := range t.faces {
		f.filter.Predict()
		f.predictedX, f.predictedY = f.filter.GetState()
		box := f.predictedBox()
		fb.Add(int32(box.X1), int32(box.Y1), int32(box.X2), int32(box.Y2))
	}
	fb.Finish()

	minSearchBuffer := int32(0.05 * float64(t.opts.FrameWidth))

	detToFace := make([]int, len(detections))
	for i := range detToFace {
		detToFace[i] = -1
	}
	faceHasMatch := make([]bool, len(t.faces))

	// Among the faces in candidates, find the best match for detections[detIdx]:
	// highest IoU against the predicted box, or nearest center if nothing
	// overlaps. Faces that already have a match are skipped.
	matchFromList := func(detIdx int, candidates []int) {
		det := &detections[detIdx]
		bestJ := -1
		bestIOU := float32(0)
		bestDistance := float32(9e20)
		for _, j := range candidates {
			if faceHasMatch[j] {
				continue
			}
			predicted := t.faces[j].predictedBox()
			iou := float32(det.Box.IOU(predicted))
			distance := centerDistance(det.Box, predicted)
			if iou > bestIOU {
				bestIOU = iou
				bestJ = j
			} else if bestIOU == 0 && distance < bestDistance {
				bestDistance = distance
				bestJ = j
			}
		}
		if bestJ != -1 {
			faceHasMatch[bestJ] = true
			detToFace[detIdx] = bestJ
		}
	}

	// Phase 1: match against faces whose predicted box is nearby.
	for i := range detections {
		det := &detections[i]
		bufX := max(minSearchBuffer, int32(0.8*float64(det.Box.Width())))
		bufY := max(minSearchBuffer, int32(0.8*float64(det.Box.Height())))
		t.scratch = fb.SearchFast(int32(det.Box.X1)-bufX, int32(det.Box.Y1)-bufY, int32(det.Box.X2)+bufX, int32(det.Box.Y2)+bufY, t.scratch)
		matchFromList(i, t.scratch)
	}

	// Phase 2: match leftover detections against any unmatched face. Faces
	// need MinHits sightings before they're believed, so splitting a fast
	// moving face into a new track every frame would starve confirmation.
	unmatched := []int{}
	for j := range t.faces {
		if !faceHasMatch[j] {
			unmatched = append(unmatched, j)
		}
	}
	for i := range detections {
		if detToFace[i] == -1 {
			matchFromList(i, unmatched)
		}
	}

	// Update matched faces and create new ones.
	for i := range detections {
		det := &detections[i]
		j := detToFace[i]
		if j == -1 {
			t.faces = append(t.faces, t.newFace(det))
			faceHasMatch = append(faceHasMatch, true)
			continue
		}
		f := t.faces[j]
		f.box = det.Box
		f.confidence = det.Confidence
		f.hits++
		f.age = 0
		cx, cy := boxCenterF(det.Box)
		if err := f.filter.Update(cx, cy); err != nil {
			t.log.Warnf("Tracker: Kalman update failed for face %v: %v", f.provisionalID, err)
		}
		f.history.Add(frameAndBox{frame: frame, box: det.Box})
		if f.trackID == anno.NoTrack && f.hits >= t.opts.MinHits {
			f.trackID = t.mintTrackID()
			if t.opts.Verbose {
				t.log.Infof("Tracker: Confirmed face %v as track %v at frame %v", f.provisionalID, f.trackID, frame)
			}
		}
	}

	// Age unmatched faces, coast confirmed ones on their prediction, and
	// drop faces that have gone unseen for too long.
	alive := t.faces[:0]
	for j, f := range t.faces {
		if !faceHasMatch[j] {
			f.age++
			if f.age > t.opts.MaxAge {
				if t.opts.Verbose && f.trackID != anno.NoTrack {
					t.log.Infof("Tracker: Dropping track %v after %v unseen frames", f.trackID, f.age)
				}
				continue
			}
			if f.trackID != anno.NoTrack {
				f.box = f.predictedBox().Clamp(t.opts.FrameWidth, t.opts.FrameHeight)
			}
		}
		alive = append(alive, f)
	}
	t.faces = alive

	return t.confirmed()
}

// Tracks returns the currently confirmed faces without advancing the tracker.
func (t *Tracker) Tracks() []TrackedFace {
	return t.confirmed()
}

// BindTrackIDSource replaces the tracker's id mint, typically with a store's
// NewTrackID so tracked and manually created ids share one sequence. Call it
// from the goroutine that calls Update, before any face is confirmed.
func (t *Tracker) BindTrackIDSource(f func() int64) {
	t.opts.NewTrackID = f
}

// Reset drops all tracker state. Track ids already handed out are not reused.
func (t *Tracker) Reset() {
	t.faces = nil
	t.frame = 0
}

// History returns the recorded detection positions of a confirmed track,
// oldest first. Only the last faceHistorySize sightings are kept.
func (t *Tracker) History(trackID int64) []anno.BoundingBox {
	for _, f := range t.faces {
		if f.trackID != trackID {
			continue
		}
		boxes := make([]anno.BoundingBox, 0, f.history.Len())
		for i := 0; i < f.history.Len(); i++ {
			boxes = append(boxes, f.history.Peek(i).box)
		}
		return boxes
	}
	return nil
}

func (t *Tracker) confirmed() []TrackedFace {
	out := make([]TrackedFace, 0, len(t.faces))
	for _, f := range t.faces {
		if f.trackID == anno.NoTrack {
			continue
		}
		out = append(out, TrackedFace{
			TrackID:    f.trackID,
			Box:        f.box,
			Confidence: f.confidence,
			Age:        f.age,
		})
	}
	return out
}

func (t *Tracker) newFace(det *Detection) *face {
	cx, cy := boxCenterF(det.Box)
	// Constant velocity model. dt is one frame, acceleration noise and
	// measurement noise follow the filter library's reference blob tracker.
	filter := kalman_filter.NewKalman2D(1.0, 1.0, 1.0, 2.0, 0.1, 0.1, kalman_filter.WithState2D(cx, cy))
	f := &face{
		provisionalID: uuid.New(),
		trackID:       anno.NoTrack,
		box:           det.Box,
		confidence:    det.Confidence,
		hits:          1,
		filter:        filter,
		predictedX:    cx,
		predictedY:    cy,
		history:       ringbuffer.NewRingP[frameAndBox](faceHistorySize),
	}
	f.history.Add(frameAndBox{frame: t.frame, box: det.Box})
	return f
}

func (t *Tracker) mintTrackID() int64 {
	if t.opts.NewTrackID != nil {
		return t.opts.NewTrackID()
	}
	return t.ownIDs.Next()
}

func boxCenterF(b anno.BoundingBox) (float64, float64) {
	return float64(b.X1+b.X2) / 2, float64(b.Y1+b.Y2) / 2
}

func centerDistance(a, b anno.BoundingBox) float32 {
	ax, ay := boxCenterF(a)
	bx, by := boxCenterF(b)
	return math32.Hypot(float32(ax-bx), float32(ay-by))
}
