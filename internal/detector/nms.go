package detector

import "sort"

// sortByConfidence returns indices of dets sorted by confidence (descending).
func sortByConfidence(dets []Detection) []int {
	indices := make([]int, len(dets))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		return dets[indices[i]].Confidence > dets[indices[j]].Confidence
	})
	return indices
}

// NonMaxSuppression performs class-aware greedy NMS: a box suppresses lower
// scored boxes of the same class whose IoU exceeds iouThreshold.
func NonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) <= 1 {
		return dets
	}
	indices := sortByConfidence(dets)
	suppressed := make([]bool, len(dets))
	kept := make([]Detection, 0, len(dets))

	for ai, a := range indices {
		if suppressed[a] {
			continue
		}
		kept = append(kept, dets[a])
		for _, b := range indices[ai+1:] {
			if suppressed[b] || dets[a].ClassIndex != dets[b].ClassIndex {
				continue
			}
			if dets[a].Box.IoU(dets[b].Box) > iouThreshold {
				suppressed[b] = true
			}
		}
	}
	return kept
}
