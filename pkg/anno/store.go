package anno

import (
	"sort"
)

const (
	// Undo history is bounded; the oldest snapshot is silently dropped once
	// the stack is full.
	maxUndoDepth = 100

	// Batch operations report progress every this many annotations.
	progressInterval = 100
)

type frameTrack struct {
	frame int
	track int64
}

// Store owns every annotation of a session.
//
// Per frame, annotations are kept in an ordered list. List order is z-order:
// the last element renders on top and is hit-tested first.
//
// Core invariant: for a given track id (other than NoTrack), at most one
// annotation exists per frame. Adding a second one updates the existing
// annotation in place. Annotations with TrackID == NoTrack are exempt and
// may repeat freely within a frame.
//
// The store is not internally synchronized. All mutation must happen on a
// single owner goroutine; background workers hand results to the owner via
// the session package rather than touching the store directly.
type Store struct {
	frames      map[int][]*Annotation
	nextTrackID int64

	// Derived indices. Maintained incrementally on every mutation; rebuilt
	// from scratch only after restoring a snapshot or loading from disk.
	count        int
	trackCounts  map[int64]int
	byTrack      map[int64]map[*Annotation]struct{}
	byFrameTrack map[frameTrack]*Annotation

	undoStack [][]byte
	redoStack [][]byte
}

func NewStore() *Store {
	return &Store{
		frames:       map[int][]*Annotation{},
		nextTrackID:  1,
		trackCounts:  map[int64]int{},
		byTrack:      map[int64]map[*Annotation]struct{}{},
		byFrameTrack: map[frameTrack]*Annotation{},
	}
}

// Len returns the total number of annotations across all frames.
func (s *Store) Len() int {
	return s.count
}

// NewTrackID hands out the next unused track id.
func (s *Store) NewTrackID() int64 {
	id := s.nextTrackID
	s.nextTrackID++
	return id
}

// Add inserts an annotation, or, if the store already holds an annotation at
// (a.Frame, a.TrackID), updates that annotation's box, manual flag and
// confidence in place. In the update case 'a' itself is not inserted and the
// existing object keeps its identity.
func (s *Store) Add(a *Annotation, saveUndo bool) {
	if a.TrackID != NoTrack {
		if existing := s.byFrameTrack[frameTrack{a.Frame, a.TrackID}]; existing != nil {
			if saveUndo {
				s.saveUndoState()
			}
			existing.Box = a.Box
			existing.IsManual = a.IsManual
			existing.Confidence = a.Confidence
			return
		}
	}
	if saveUndo {
		s.saveUndoState()
	}
	s.frames[a.Frame] = append(s.frames[a.Frame], a)
	s.indexAdd(a)
}

// Remove deletes the annotation at the given z-order index of a frame.
// Returns nil if the frame or index does not exist.
func (s *Store) Remove(frame, index int, saveUndo bool) *Annotation {
	list := s.frames[frame]
	if index < 0 || index >= len(list) {
		return nil
	}
	if saveUndo {
		s.saveUndoState()
	}
	a := list[index]
	list = append(list[:index], list[index+1:]...)
	if len(list) == 0 {
		delete(s.frames, frame)
	} else {
		s.frames[frame] = list
	}
	s.indexRemove(a)
	return a
}

// RemoveAnnotation deletes the given annotation, identified by pointer.
// Returns false if the annotation is not in the store.
func (s *Store) RemoveAnnotation(a *Annotation, saveUndo bool) bool {
	for i, x := range s.frames[a.Frame] {
		if x == a {
			s.Remove(a.Frame, i, saveUndo)
			return true
		}
	}
	return false
}

// RemoveTrack deletes every annotation of a track and returns the number
// removed. progress, if non-nil, is invoked at a bounded cadence and always
// receives a final (total, total) call.
func (s *Store) RemoveTrack(trackID int64, saveUndo bool, progress func(current, total int)) int {
	set := s.byTrack[trackID]
	total := len(set)
	if total == 0 {
		if progress != nil {
			progress(0, 0)
		}
		return 0
	}
	if saveUndo {
		s.saveUndoState()
	}

	// Group removals by frame so each frame list is rewritten once.
	frameSet := map[int]struct{}{}
	for a := range set {
		frameSet[a.Frame] = struct{}{}
	}
	frameList := make([]int, 0, len(frameSet))
	for f := range frameSet {
		frameList = append(frameList, f)
	}
	sort.Ints(frameList)

	removed := 0
	for _, f := range frameList {
		list := s.frames[f]
		kept := list[:0]
		for _, a := range list {
			if a.TrackID == trackID {
				s.indexRemove(a)
				removed++
				if progress != nil && removed%progressInterval == 0 {
					progress(removed, total)
				}
			} else {
				kept = append(kept, a)
			}
		}
		if len(kept) == 0 {
			delete(s.frames, f)
		} else {
			s.frames[f] = kept
		}
	}
	if progress != nil {
		progress(total, total)
	}
	return removed
}

// MergeTracks reassigns every annotation of the source track to the target
// track and returns the number of annotations moved.
//
// Precondition: no frame may hold annotations of both tracks. The dedup
// invariant cannot represent such a frame after the merge, so the caller
// must resolve conflicts first (see ResolveMergeConflicts). MergeTracks does
// not validate this; it never silently drops data itself.
func (s *Store) MergeTracks(source, target int64, saveUndo bool) int {
	if source == target {
		return 0
	}
	set := s.byTrack[source]
	if len(set) == 0 {
		return 0
	}
	if saveUndo {
		s.saveUndoState()
	}
	moving := make([]*Annotation, 0, len(set))
	for a := range set {
		moving = append(moving, a)
	}
	for _, a := range moving {
		s.indexRemove(a)
		a.TrackID = target
		s.indexAdd(a)
	}
	return len(moving)
}

// ResolveMergeConflicts removes every source-track annotation on frames
// where the target track is also annotated, so that MergeTracks(source,
// target) can run without violating the dedup invariant. Returns the number
// of annotations removed.
func (s *Store) ResolveMergeConflicts(source, target int64, saveUndo bool) int {
	if source == target {
		return 0
	}
	conflicts := []*Annotation{}
	for a := range s.byTrack[source] {
		if s.byFrameTrack[frameTrack{a.Frame, target}] != nil {
			conflicts = append(conflicts, a)
		}
	}
	if len(conflicts) == 0 {
		return 0
	}
	if saveUndo {
		s.saveUndoState()
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Frame < conflicts[j].Frame })
	for _, a := range conflicts {
		s.RemoveAnnotation(a, false)
	}
	return len(conflicts)
}

// SplitTrack partitions a track at a frame boundary: every annotation with
// Frame >= splitFrame moves to a freshly allocated track id, which is
// returned. A split must produce two non-empty tracks; if it would move
// zero or all annotations, nothing changes and NoTrack is returned.
func (s *Store) SplitTrack(trackID int64, splitFrame int, saveUndo bool) int64 {
	set := s.byTrack[trackID]
	if len(set) == 0 {
		return NoTrack
	}
	moving := []*Annotation{}
	for a := range set {
		if a.Frame >= splitFrame {
			moving = append(moving, a)
		}
	}
	if len(moving) == 0 || len(moving) == len(set) {
		return NoTrack
	}
	if saveUndo {
		s.saveUndoState()
	}
	newID := s.NewTrackID()
	for _, a := range moving {
		s.indexRemove(a)
		a.TrackID = newID
		s.indexAdd(a)
	}
	return newID
}

// Clear removes all annotations. The next track id is not reset.
func (s *Store) Clear(saveUndo bool) {
	if saveUndo {
		s.saveUndoState()
	}
	s.frames = map[int][]*Annotation{}
	s.resetIndexes()
}

// FrameAnnotations returns the annotations of a frame in z-order (last is
// topmost). The returned slice is the store's own; treat it as read-only.
func (s *Store) FrameAnnotations(frame int) []*Annotation {
	return s.frames[frame]
}

// Frames returns the sorted list of frames that have at least one annotation.
func (s *Store) Frames() []int {
	frames := make([]int, 0, len(s.frames))
	for f := range s.frames {
		frames = append(frames, f)
	}
	sort.Ints(frames)
	return frames
}

// AnnotationAtPoint hit-tests a frame at (x,y), scanning in reverse z-order
// so the topmost annotation wins. Boxes are expanded by margin pixels.
// Returns (nil, -1) on a miss.
func (s *Store) AnnotationAtPoint(frame, x, y, margin int) (*Annotation, int) {
	list := s.frames[frame]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Box.ContainsPoint(x, y, margin) {
			return list[i], i
		}
	}
	return nil, -1
}

// AnnotationByFrameTrack returns the annotation at (frame, trackID), or nil.
func (s *Store) AnnotationByFrameTrack(frame int, trackID int64) *Annotation {
	if trackID == NoTrack {
		return nil
	}
	return s.byFrameTrack[frameTrack{frame, trackID}]
}

// TrackIDs returns the sorted ids of all live tracks.
func (s *Store) TrackIDs() []int64 {
	ids := make([]int64, 0, len(s.trackCounts))
	for id := range s.trackCounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasTrack returns true if the track has at least one annotation.
func (s *Store) HasTrack(trackID int64) bool {
	return s.trackCounts[trackID] > 0
}

// TrackAnnotationCount returns the number of annotations of a track.
func (s *Store) TrackAnnotationCount(trackID int64) int {
	return s.trackCounts[trackID]
}

// trackAnnotationsSorted returns a track's annotations ordered by frame.
func (s *Store) trackAnnotationsSorted(trackID int64) []*Annotation {
	set := s.byTrack[trackID]
	anns := make([]*Annotation, 0, len(set))
	for a := range set {
		anns = append(anns, a)
	}
	sort.Slice(anns, func(i, j int) bool { return anns[i].Frame < anns[j].Frame })
	return anns
}

func (s *Store) CanUndo() bool {
	return len(s.undoStack) > 0
}

func (s *Store) CanRedo() bool {
	return len(s.redoStack) > 0
}

// Undo rolls the store back to the state before the most recent undo-saving
// mutation. Returns false if there is nothing to undo.
func (s *Store) Undo() bool {
	if len(s.undoStack) == 0 {
		return false
	}
	s.redoStack = append(s.redoStack, s.serialize())
	snap := s.undoStack[len(s.undoStack)-1]
	s.undoStack = s.undoStack[:len(s.undoStack)-1]
	s.restore(snap)
	return true
}

// Redo re-applies the most recently undone mutation. Returns false if there
// is nothing to redo.
func (s *Store) Redo() bool {
	if len(s.redoStack) == 0 {
		return false
	}
	s.undoStack = append(s.undoStack, s.serialize())
	snap := s.redoStack[len(s.redoStack)-1]
	s.redoStack = s.redoStack[:len(s.redoStack)-1]
	s.restore(snap)
	return true
}

// saveUndoState pushes a snapshot of the entire store. Any new undo-saving
// mutation invalidates the redo stack.
func (s *Store) saveUndoState() {
	s.undoStack = append(s.undoStack, s.serialize())
	if len(s.undoStack) > maxUndoDepth {
		n := copy(s.undoStack, s.undoStack[1:])
		s.undoStack = s.undoStack[:n]
	}
	s.redoStack = nil
}

func (s *Store) indexAdd(a *Annotation) {
	s.count++
	if a.TrackID == NoTrack {
		return
	}
	// Keep the allocator ahead of explicitly supplied ids, so NewTrackID
	// never returns an id that is already live.
	if a.TrackID >= s.nextTrackID {
		s.nextTrackID = a.TrackID + 1
	}
	s.trackCounts[a.TrackID]++
	set := s.byTrack[a.TrackID]
	if set == nil {
		set = map[*Annotation]struct{}{}
		s.byTrack[a.TrackID] = set
	}
	set[a] = struct{}{}
	s.byFrameTrack[frameTrack{a.Frame, a.TrackID}] = a
}

func (s *Store) indexRemove(a *Annotation) {
	s.count--
	if a.TrackID == NoTrack {
		return
	}
	if s.trackCounts[a.TrackID] <= 1 {
		delete(s.trackCounts, a.TrackID)
	} else {
		s.trackCounts[a.TrackID]--
	}
	if set := s.byTrack[a.TrackID]; set != nil {
		delete(set, a)
		if len(set) == 0 {
			delete(s.byTrack, a.TrackID)
		}
	}
	key := frameTrack{a.Frame, a.TrackID}
	if s.byFrameTrack[key] == a {
		delete(s.byFrameTrack, key)
	}
}

func (s *Store) resetIndexes() {
	s.count = 0
	s.trackCounts = map[int64]int{}
	s.byTrack = map[int64]map[*Annotation]struct{}{}
	s.byFrameTrack = map[frameTrack]*Annotation{}
}

// rebuildIndexes recomputes every index from the frame lists. Duplicate
// (frame, track) entries are dropped, keeping the first in z-order. This is
// the only code path that rebuilds rather than incrementally maintains the
// indices, and it only runs after a snapshot restore or a load from disk.
func (s *Store) rebuildIndexes() {
	s.resetIndexes()
	for f, list := range s.frames {
		kept := list[:0]
		for _, a := range list {
			if a.TrackID != NoTrack {
				if s.byFrameTrack[frameTrack{f, a.TrackID}] != nil {
					continue
				}
			}
			kept = append(kept, a)
			s.indexAdd(a)
		}
		if len(kept) == 0 {
			delete(s.frames, f)
		} else {
			s.frames[f] = kept
		}
	}
}
