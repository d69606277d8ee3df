package recognizer

import (
	"math"
	"sort"
	"strings"
)

// DecodedSequence holds CTC-decoded indices and per-character probabilities.
type DecodedSequence struct {
	Indices       []int
	Probs         []float64
	Collapsed     []int
	CollapsedProb []float64
}

// BeamSearchResult is the best path found by DecodeCTCBeamSearch.
type BeamSearchResult struct {
	Sequence    []int
	CharProbs   []float64
	Probability float64 // log probability of the whole path
}

// argmax returns index of max value and the value.
func argmax(v []float32) (int, float32) {
	if len(v) == 0 {
		return -1, 0
	}
	idx := 0
	maxVal := v[0]
	for i := 1; i < len(v); i++ {
		if v[i] > maxVal {
			maxVal = v[i]
			idx = i
		}
	}
	return idx, maxVal
}

// looksLikeProbabilities reports whether a step already sums to one within [0,1].
func looksLikeProbabilities(v []float32) bool {
	var sum float64
	for _, x := range v {
		if x < 0 || x > 1 {
			return false
		}
		sum += float64(x)
	}
	return sum > 0.99 && sum < 1.01
}

// logProbs converts one timestep of scores into log probabilities. Raw logits
// go through a stable log-softmax; probability-like rows are used directly.
func logProbs(v []float32, dst []float64) []float64 {
	dst = dst[:0]
	if looksLikeProbabilities(v) {
		for _, x := range v {
			dst = append(dst, math.Log(math.Max(float64(x), 1e-12)))
		}
		return dst
	}
	_, m := argmax(v)
	var denom float64
	for _, x := range v {
		denom += math.Exp(float64(x - m))
	}
	logDenom := math.Log(denom)
	for _, x := range v {
		dst = append(dst, float64(x-m)-logDenom)
	}
	return dst
}

// softmaxProbOfIndex computes the softmax probability of v[idx] among v.
func softmaxProbOfIndex(v []float32, idx int) float64 {
	if len(v) == 0 || idx < 0 || idx >= len(v) {
		return 0
	}
	lp := logProbs(v, make([]float64, 0, len(v)))
	return math.Exp(lp[idx])
}

// CTCCollapse removes repeated consecutive indices and blanks, returning collapsed sequence and probs.
func CTCCollapse(indices []int, probs []float64, blank int) ([]int, []float64) {
	outIdx := make([]int, 0, len(indices))
	outProb := make([]float64, 0, len(probs))
	prev := -1
	for i, idx := range indices {
		if idx == blank {
			prev = idx
			continue
		}
		if idx == prev {
			continue
		}
		outIdx = append(outIdx, idx)
		if i < len(probs) {
			outProb = append(outProb, probs[i])
		} else {
			outProb = append(outProb, 0)
		}
		prev = idx
	}
	return outIdx, outProb
}

// DecodeCTCGreedy takes the argmax at every timestep and collapses the path.
func DecodeCTCGreedy(m ScoreMatrix, blank int) DecodedSequence {
	indices := make([]int, m.T)
	probs := make([]float64, m.T)
	for t := range m.T {
		step := m.Step(t)
		idx, _ := argmax(step)
		indices[t] = idx
		probs[t] = softmaxProbOfIndex(step, idx)
	}
	collIdx, collProb := CTCCollapse(indices, probs, blank)
	return DecodedSequence{Indices: indices, Probs: probs, Collapsed: collIdx, CollapsedProb: collProb}
}

// logAdd returns log(exp(a) + exp(b)).
func logAdd(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

// beam tracks the probability of a prefix ending in blank (pb) or in its
// last symbol (pnb), both in log space.
type beam struct {
	prefix []int
	probs  []float64
	pb     float64
	pnb    float64
}

func (b *beam) total() float64 { return logAdd(b.pb, b.pnb) }

func prefixKey(prefix []int) string {
	var sb strings.Builder
	for _, p := range prefix {
		sb.WriteRune(rune(p + 1))
	}
	return sb.String()
}

// DecodeCTCBeamSearch runs CTC prefix beam search and returns the single most
// likely label sequence. Paths that differ only by blanks or repeated symbols
// are merged into one prefix.
func DecodeCTCBeamSearch(m ScoreMatrix, blank, beamWidth int) BeamSearchResult {
	if beamWidth <= 0 {
		beamWidth = 1
	}
	negInf := math.Inf(-1)
	beams := []*beam{{pb: 0, pnb: negInf}}
	lp := make([]float64, 0, m.N)

	for t := range m.T {
		lp = logProbs(m.Step(t), lp)
		next := make(map[string]*beam, len(beams)*m.N)
		get := func(prefix []int, parentProbs []float64) *beam {
			key := prefixKey(prefix)
			if b, ok := next[key]; ok {
				return b
			}
			b := &beam{prefix: prefix, probs: parentProbs, pb: negInf, pnb: negInf}
			next[key] = b
			return b
		}

		for _, b := range beams {
			total := b.total()
			// stay on the same prefix through a blank
			same := get(b.prefix, b.probs)
			same.pb = logAdd(same.pb, total+lp[blank])

			last := -1
			if len(b.prefix) > 0 {
				last = b.prefix[len(b.prefix)-1]
			}
			for c := range m.N {
				if c == blank {
					continue
				}
				p := lp[c]
				if c == last {
					// repeated symbol without a blank collapses into the prefix
					same.pnb = logAdd(same.pnb, b.pnb+p)
					if n := len(same.probs); n > 0 && math.Exp(p) > same.probs[n-1] {
						same.probs = append(append([]float64(nil), same.probs[:n-1]...), math.Exp(p))
					}
					extended := get(appendInt(b.prefix, c), appendFloat(b.probs, math.Exp(p)))
					extended.pnb = logAdd(extended.pnb, b.pb+p)
					continue
				}
				extended := get(appendInt(b.prefix, c), appendFloat(b.probs, math.Exp(p)))
				extended.pnb = logAdd(extended.pnb, total+p)
			}
		}

		beams = beams[:0]
		for _, b := range next {
			beams = append(beams, b)
		}
		sort.Slice(beams, func(i, j int) bool {
			ti, tj := beams[i].total(), beams[j].total()
			if ti != tj {
				return ti > tj
			}
			return prefixKey(beams[i].prefix) < prefixKey(beams[j].prefix)
		})
		if len(beams) > beamWidth {
			beams = beams[:beamWidth]
		}
	}

	best := beams[0]
	return BeamSearchResult{
		Sequence:    append([]int{}, best.prefix...),
		CharProbs:   append([]float64{}, best.probs...),
		Probability: best.total(),
	}
}

func appendInt(s []int, v int) []int {
	out := make([]int, len(s), len(s)+1)
	copy(out, s)
	return append(out, v)
}

func appendFloat(s []float64, v float64) []float64 {
	out := make([]float64, len(s), len(s)+1)
	copy(out, s)
	return append(out, v)
}

// SequenceConfidence returns the average of per-character probabilities; 0 if empty.
func SequenceConfidence(charProbs []float64) float64 {
	if len(charProbs) == 0 {
		return 0
	}
	var s float64
	for _, p := range charProbs {
		s += p
	}
	return s / float64(len(charProbs))
}
