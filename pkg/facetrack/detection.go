package facetrack

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/bmharper/cimg/v2"
	"github.com/videoanon/defacer/pkg/anno"
)

// Point is a face landmark position in pixels.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Detection is a single face found in a frame.
type Detection struct {
	Box        anno.BoundingBox `json:"bbox"`
	Confidence float32          `json:"confidence"`
	Landmarks  []Point          `json:"landmarks,omitempty"`
}

// Detector finds faces in a video frame.
type Detector interface {
	// Detect returns the faces in frame with confidence at or above the
	// detector's threshold.
	Detect(frame *cimg.Image) ([]Detection, error)
	Close()
}

// FileDetections holds detections that were computed offline by an external
// detector and dumped to JSON, keyed by frame index.
type FileDetections struct {
	frames map[int][]Detection
}

type fileDetectionsJSON struct {
	Detections map[string][]Detection `json:"detections"`
}

// LoadDetections reads a detections JSON file:
//
//	{"detections": {"<frame>": [{"bbox":{"x1":..},"confidence":..,"landmarks":[..]}, ...]}}
func LoadDetections(path string) (*FileDetections, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := fileDetectionsJSON{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("Failed to parse detections file %v: %w", path, err)
	}
	fd := &FileDetections{
		frames: make(map[int][]Detection, len(doc.Detections)),
	}
	for key, dets := range doc.Detections {
		f, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("Invalid frame key '%v' in detections file %v", key, path)
		}
		fd.frames[f] = dets
	}
	return fd, nil
}

// ForFrame returns the detections of the given frame, or nil.
func (fd *FileDetections) ForFrame(frame int) []Detection {
	return fd.frames[frame]
}

// Frames returns the frame indices that have detections, sorted ascending.
func (fd *FileDetections) Frames() []int {
	frames := make([]int, 0, len(fd.frames))
	for f := range fd.frames {
		frames = append(frames, f)
	}
	sort.Ints(frames)
	return frames
}

// MaxFrame returns the highest frame index with detections, or -1 if empty.
func (fd *FileDetections) MaxFrame() int {
	maxFrame := -1
	for f := range fd.frames {
		if f > maxFrame {
			maxFrame = f
		}
	}
	return maxFrame
}
