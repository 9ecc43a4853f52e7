package anno

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Flat JSON is the only persistence format:
//
//	{
//	  "annotations": {
//	    "<frame>": [ {"frame":..,"bbox":{"x1":..},"track_id":..,"is_manual":..,"confidence":..}, ... ],
//	    ...
//	  },
//	  "next_track_id": N
//	}
//
// track_id is null for untracked annotations. On load, is_manual defaults to
// true, confidence to 1.0 and a missing/null track_id to NoTrack. Duplicate
// (frame, track_id) entries in a file are dropped, keeping the first one.

type annotationJSON struct {
	Frame      int         `json:"frame"`
	Box        BoundingBox `json:"bbox"`
	TrackID    *int64      `json:"track_id"`
	IsManual   *bool       `json:"is_manual"`
	Confidence *float64    `json:"confidence"`
}

type storeJSON struct {
	Annotations map[string][]*annotationJSON `json:"annotations"`
	NextTrackID int64                        `json:"next_track_id"`
}

func (a *Annotation) toJSON() *annotationJSON {
	w := &annotationJSON{
		Frame:      a.Frame,
		Box:        a.Box,
		IsManual:   &a.IsManual,
		Confidence: &a.Confidence,
	}
	if a.TrackID != NoTrack {
		id := a.TrackID
		w.TrackID = &id
	}
	return w
}

func (w *annotationJSON) toAnnotation() *Annotation {
	a := &Annotation{
		Frame:      w.Frame,
		Box:        w.Box,
		IsManual:   true,
		Confidence: 1.0,
	}
	if w.TrackID != nil {
		a.TrackID = *w.TrackID
	}
	if w.IsManual != nil {
		a.IsManual = *w.IsManual
	}
	if w.Confidence != nil {
		a.Confidence = *w.Confidence
	}
	return a
}

// serialize produces the canonical JSON form of the store. It is used for
// undo snapshots as well as for Save, so an undo/redo round trip reproduces
// a byte-identical serialization (encoding/json emits map keys sorted).
func (s *Store) serialize() []byte {
	doc := storeJSON{
		Annotations: make(map[string][]*annotationJSON, len(s.frames)),
		NextTrackID: s.nextTrackID,
	}
	for f, list := range s.frames {
		wire := make([]*annotationJSON, len(list))
		for i, a := range list {
			wire[i] = a.toJSON()
		}
		doc.Annotations[strconv.Itoa(f)] = wire
	}
	raw, err := json.Marshal(&doc)
	if err != nil {
		// The store's types marshal unconditionally; this cannot happen.
		panic(err)
	}
	return raw
}

// restore replaces the store's contents with a snapshot previously produced
// by serialize. Indices are rebuilt from scratch. Undo/redo stacks are left
// alone; Undo and Redo manage them around their restore calls.
func (s *Store) restore(raw []byte) {
	doc := storeJSON{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		panic(fmt.Errorf("Corrupt annotation snapshot: %w", err))
	}
	s.frames = map[int][]*Annotation{}
	for key, wire := range doc.Annotations {
		f, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		list := make([]*Annotation, len(wire))
		for i, w := range wire {
			list[i] = w.toAnnotation()
		}
		s.frames[f] = list
	}
	if doc.NextTrackID > 0 {
		s.nextTrackID = doc.NextTrackID
	} else {
		s.nextTrackID = 1
	}
	s.rebuildIndexes()
}

// Save writes the store to a flat JSON file. I/O errors surface unmodified.
func (s *Store) Save(path string) error {
	doc := &storeJSON{
		Annotations: make(map[string][]*annotationJSON, len(s.frames)),
		NextTrackID: s.nextTrackID,
	}
	for f, list := range s.frames {
		wire := make([]*annotationJSON, len(list))
		for i, a := range list {
			wire[i] = a.toJSON()
		}
		doc.Annotations[strconv.Itoa(f)] = wire
	}
	pretty, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, pretty, 0666)
}

// Load reads a store from a flat JSON file. Missing optional keys get their
// defaults and duplicate (frame, track_id) entries are dropped first-wins.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromJSON(raw)
}

// FromJSON builds a store from the flat JSON format.
func FromJSON(raw []byte) (*Store, error) {
	doc := storeJSON{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("Failed to parse annotation file: %w", err)
	}
	s := NewStore()
	for key, wire := range doc.Annotations {
		f, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("Invalid frame key '%v' in annotation file", key)
		}
		list := make([]*Annotation, len(wire))
		for i, w := range wire {
			list[i] = w.toAnnotation()
		}
		s.frames[f] = list
	}
	if doc.NextTrackID > 0 {
		s.nextTrackID = doc.NextTrackID
	}
	s.rebuildIndexes()
	return s, nil
}

// ToJSON returns the canonical single-line JSON form of the store.
func (s *Store) ToJSON() []byte {
	return s.serialize()
}
