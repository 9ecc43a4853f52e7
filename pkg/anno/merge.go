package anno

import (
	"math"
	"sort"

	"github.com/videoanon/defacer/pkg/gen"
)

// TrackInfo is a derived summary of one track, recomputed on demand.
type TrackInfo struct {
	TrackID  int64
	FrameMin int
	FrameMax int
	FirstBox BoundingBox
	LastBox  BoundingBox
}

// MergeSuggestion proposes merging a chain of tracks that likely belong to
// one identity split across tracking gaps. TrackIDs is in time order.
// TimeGaps and PositionDistances describe the consecutive pairs of the
// chain; pairs that were only joined transitively carry placeholder values
// (see ComputeMergeSuggestions). Suggestions are ephemeral: they are never
// stored, only recomputed.
type MergeSuggestion struct {
	TrackIDs          []int64
	Confidence        float64
	TimeGaps          []int
	PositionDistances []float64
}

func (m *MergeSuggestion) TrackCount() int {
	return len(m.TrackIDs)
}

// IsMultiTrack reports whether the suggestion chains three or more tracks.
func (m *MergeSuggestion) IsMultiTrack() bool {
	return len(m.TrackIDs) >= 3
}

// MergeParams tunes the merge suggestion engine. Zero values are replaced
// with defaults, so &MergeParams{} behaves like NewMergeParams().
type MergeParams struct {
	MaxTimeGap          int     // maximum frame gap between one track's end and the next one's start
	MaxPositionDistance float64 // maximum pixel distance between those endpoints
	MinConfidence       float64 // pairs scoring below this are discarded
}

const (
	DefaultMaxTimeGap          = 60
	DefaultMaxPositionDistance = 200.0
	DefaultMinConfidence       = 0.5
)

func NewMergeParams() *MergeParams {
	return &MergeParams{
		MaxTimeGap:          DefaultMaxTimeGap,
		MaxPositionDistance: DefaultMaxPositionDistance,
		MinConfidence:       DefaultMinConfidence,
	}
}

// TrackInfo summarizes one track by scanning its annotations sorted by
// frame. Returns false if the track has no annotations.
func (s *Store) TrackInfo(trackID int64) (TrackInfo, bool) {
	anns := s.trackAnnotationsSorted(trackID)
	if len(anns) == 0 {
		return TrackInfo{}, false
	}
	return TrackInfo{
		TrackID:  trackID,
		FrameMin: anns[0].Frame,
		FrameMax: anns[len(anns)-1].Frame,
		FirstBox: anns[0].Box,
		LastBox:  anns[len(anns)-1].Box,
	}, true
}

// CollectTrackInfos summarizes every live track, sorted by FrameMin (ties
// broken by track id so the result is deterministic).
func CollectTrackInfos(s *Store) []TrackInfo {
	infos := make([]TrackInfo, 0, len(s.trackCounts))
	for _, id := range s.TrackIDs() {
		if info, ok := s.TrackInfo(id); ok {
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].FrameMin != infos[j].FrameMin {
			return infos[i].FrameMin < infos[j].FrameMin
		}
		return infos[i].TrackID < infos[j].TrackID
	})
	return infos
}

type mergePair struct {
	a, b             int64
	confidence       float64
	timeGap          int
	positionDistance float64
}

// ComputeMergeSuggestions scans a snapshot of the store's tracks for chains
// that plausibly belong to one identity.
//
// Candidate pairs are found with an early-exit scan: tracks are sorted by
// FrameMin, and for each track A the inner scan over later tracks B stops as
// soon as the time gap exceeds MaxTimeGap. That bound is valid only because
// of the FrameMin sort, and it turns the search from O(n^2) into O(n*k)
// where k is the number of tracks inside the time window. A cheap Manhattan
// pre-filter (1.5x MaxPositionDistance) runs before the exact Euclidean
// check.
//
// Accepted pairs are clustered with union-find, highest confidence first,
// which chains A-B-C-D out of adjacent pairwise evidence alone. Consecutive
// chain pairs that were never directly scored carry placeholder edge stats
// (MinConfidence, gap 0, distance 0.0) - a documented approximation that
// understates uncertainty for long chains.
//
// The result is deterministic for identical input: suggestions are ordered
// by confidence descending, with ties broken by the first track id.
func ComputeMergeSuggestions(store *Store, params *MergeParams) []MergeSuggestion {
	if params == nil {
		params = NewMergeParams()
	}
	maxTimeGap := params.MaxTimeGap
	if maxTimeGap <= 0 {
		maxTimeGap = DefaultMaxTimeGap
	}
	maxPosDistance := params.MaxPositionDistance
	if maxPosDistance <= 0 {
		maxPosDistance = DefaultMaxPositionDistance
	}
	minConfidence := params.MinConfidence
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}

	infos := CollectTrackInfos(store)
	if len(infos) < 2 {
		return nil
	}

	// Step 1: pairwise candidates.
	pairs := []mergePair{}
	for i := 0; i < len(infos); i++ {
		trackA := &infos[i]
		for j := i + 1; j < len(infos); j++ {
			trackB := &infos[j]

			// Overlapping tracks cannot be one identity seen sequentially.
			if trackB.FrameMin <= trackA.FrameMax {
				continue
			}
			timeGap := trackB.FrameMin - trackA.FrameMax
			if timeGap > maxTimeGap {
				// Every later B starts even later (FrameMin sort).
				break
			}

			aCx, aCy := boxCenterF(trackA.LastBox)
			bCx, bCy := boxCenterF(trackB.FirstBox)
			manhattan := math.Abs(aCx-bCx) + math.Abs(aCy-bCy)
			if manhattan > maxPosDistance*1.5 {
				continue
			}
			posDistance := math.Hypot(aCx-bCx, aCy-bCy)
			if posDistance > maxPosDistance {
				continue
			}

			widthA := trackA.LastBox.Width()
			widthB := trackB.FirstBox.Width()
			maxWidth := max(widthA, widthB)
			if maxWidth == 0 {
				// Degenerate box, not worth suggesting anything.
				continue
			}

			timeScore := math.Max(0, 1-float64(timeGap)/float64(maxTimeGap)) * 0.4
			positionScore := math.Max(0, 1-posDistance/maxPosDistance) * 0.4
			sizeScore := float64(min(widthA, widthB)) / float64(maxWidth) * 0.15
			movementBonus := 0.0
			if gen.Abs(widthA-widthB) < 20 {
				movementBonus = 0.05
			}
			confidence := timeScore + positionScore + sizeScore + movementBonus
			if confidence < minConfidence {
				continue
			}

			pairs = append(pairs, mergePair{
				a:                trackA.TrackID,
				b:                trackB.TrackID,
				confidence:       confidence,
				timeGap:          timeGap,
				positionDistance: posDistance,
			})
		}
	}
	if len(pairs) == 0 {
		return nil
	}

	// Step 2: union-find clustering, strongest evidence first.
	allIDs := make([]int64, len(infos))
	frameMin := make(map[int64]int, len(infos))
	for i, info := range infos {
		allIDs[i] = info.TrackID
		frameMin[info.TrackID] = info.FrameMin
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].confidence != pairs[j].confidence {
			return pairs[i].confidence > pairs[j].confidence
		}
		if pairs[i].a != pairs[j].a {
			return pairs[i].a < pairs[j].a
		}
		return pairs[i].b < pairs[j].b
	})
	uf := NewUnionFind(allIDs)
	pairInfo := map[[2]int64]mergePair{}
	for _, p := range pairs {
		uf.Union(p.a, p.b)
		pairInfo[[2]int64{p.a, p.b}] = p
	}

	// Step 3: one suggestion per component of two or more tracks.
	suggestions := []MergeSuggestion{}
	for _, group := range uf.Groups() {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if frameMin[group[i]] != frameMin[group[j]] {
				return frameMin[group[i]] < frameMin[group[j]]
			}
			return group[i] < group[j]
		})

		confidences := make([]float64, 0, len(group)-1)
		timeGaps := make([]int, 0, len(group)-1)
		posDistances := make([]float64, 0, len(group)-1)
		for i := 0; i < len(group)-1; i++ {
			if p, ok := pairInfo[[2]int64{group[i], group[i+1]}]; ok {
				confidences = append(confidences, p.confidence)
				timeGaps = append(timeGaps, p.timeGap)
				posDistances = append(posDistances, p.positionDistance)
			} else {
				// Indirectly joined pair: placeholder edge stats.
				confidences = append(confidences, minConfidence)
				timeGaps = append(timeGaps, 0)
				posDistances = append(posDistances, 0.0)
			}
		}
		sum := 0.0
		for _, c := range confidences {
			sum += c
		}
		suggestions = append(suggestions, MergeSuggestion{
			TrackIDs:          group,
			Confidence:        sum / float64(len(confidences)),
			TimeGaps:          timeGaps,
			PositionDistances: posDistances,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].TrackIDs[0] < suggestions[j].TrackIDs[0]
	})
	return suggestions
}

func boxCenterF(b BoundingBox) (float64, float64) {
	return float64(b.X1+b.X2) / 2, float64(b.Y1+b.Y2) / 2
}
