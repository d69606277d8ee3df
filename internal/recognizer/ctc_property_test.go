package recognizer

import (
	"math"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genCTCLogits generates deterministic pseudo-random logits.
func genCTCLogits(timeSteps, classes int, seed int) ScoreMatrix {
	data := make([]float32, timeSteps*classes)
	for i := range data {
		data[i] = float32((i*7+seed*13)%11)/10.0 + 1.5
	}
	return ScoreMatrix{T: timeSteps, N: classes, Data: data}
}

func TestDecodeCTCGreedy_OutputLengthBound(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("greedy CTC output length <= number of timesteps", prop.ForAll(
		func(timeSteps, classes, seed int) bool {
			d := DecodeCTCGreedy(genCTCLogits(timeSteps, classes, seed), 0)
			return len(d.Indices) == timeSteps && len(d.Collapsed) <= timeSteps
		},
		gen.IntRange(1, 100),
		gen.IntRange(2, 50),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestDecodeCTCBeamSearch_LengthBoundAndNoBlank(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("beam output is blank-free and no longer than T", prop.ForAll(
		func(timeSteps, classes, width, seed int) bool {
			res := DecodeCTCBeamSearch(genCTCLogits(timeSteps, classes, seed), 0, width)
			if len(res.Sequence) > timeSteps || len(res.CharProbs) != len(res.Sequence) {
				return false
			}
			for _, s := range res.Sequence {
				if s == 0 || s >= classes {
					return false
				}
			}
			return !math.IsNaN(res.Probability) && res.Probability <= 1e-9
		},
		gen.IntRange(1, 25),
		gen.IntRange(2, 14),
		gen.IntRange(1, 20),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestDecodeCTCBeamSearch_Deterministic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("decoding the same matrix twice yields the same path", prop.ForAll(
		func(timeSteps, seed int) bool {
			m := genCTCLogits(timeSteps, 14, seed)
			a := DecodeCTCBeamSearch(m, 0, 16)
			b := DecodeCTCBeamSearch(m, 0, 16)
			if len(a.Sequence) != len(b.Sequence) || a.Probability != b.Probability {
				return false
			}
			for i := range a.Sequence {
				if a.Sequence[i] != b.Sequence[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 30),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestDecodeCTCBeamSearch_AtLeastBestPath(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("beam probability >= best single path probability", prop.ForAll(
		func(timeSteps, classes int) bool {
			data := make([]float32, timeSteps*classes)
			for t := range timeSteps {
				for c := range classes {
					if c == t%classes {
						data[t*classes+c] = 5.0
					} else {
						data[t*classes+c] = 0.1
					}
				}
			}
			m := ScoreMatrix{T: timeSteps, N: classes, Data: data}

			greedy := DecodeCTCGreedy(m, 0)
			var pathLog float64
			for _, p := range greedy.Probs {
				pathLog += math.Log(p)
			}
			res := DecodeCTCBeamSearch(m, 0, 5)
			return res.Probability >= pathLog-1e-6
		},
		gen.IntRange(5, 20),
		gen.IntRange(3, 15),
	))

	properties.TestingRun(t)
}

func TestCTCCollapse_IdempotenceProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("CTC collapse is idempotent", prop.ForAll(
		func(length, blank int) bool {
			indices := make([]int, length)
			probs := make([]float64, length)
			for i := range indices {
				indices[i] = (i * i) % 10
				probs[i] = 0.8
			}
			collapsed1, probs1 := CTCCollapse(indices, probs, blank)
			collapsed2, _ := CTCCollapse(collapsed1, probs1, blank)
			if len(collapsed1) != len(collapsed2) {
				return false
			}
			for i := range collapsed1 {
				if collapsed1[i] != collapsed2[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 9),
	))

	properties.TestingRun(t)
}

func TestSoftmaxProbOfIndex_SumToOne(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("softmax probabilities sum to approximately 1.0", prop.ForAll(
		func(size int) bool {
			logits := make([]float32, size)
			for i := range logits {
				logits[i] = float32(i) / 3.0
			}
			var sum float64
			for i := range logits {
				sum += softmaxProbOfIndex(logits, i)
			}
			return math.Abs(sum-1.0) < 0.01
		},
		gen.IntRange(2, 50),
	))

	properties.TestingRun(t)
}

func TestArgmax_FindsMaximum(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("argmax returns index of maximum value", prop.ForAll(
		func(size, maxIdx int) bool {
			if maxIdx >= size {
				maxIdx = size - 1
			}
			values := make([]float32, size)
			for i := range values {
				values[i] = 0.1
			}
			values[maxIdx] = 0.9
			idx, val := argmax(values)
			return idx == maxIdx && val == 0.9
		},
		gen.IntRange(2, 50),
		gen.IntRange(0, 49),
	))

	properties.TestingRun(t)
}

func TestCanonicalize_Property(t *testing.T) {
	properties := gopter.NewProperties(nil)

	alphabet := []string{" ", "0", "1", "5", "9", ".", ",", "-"}
	properties.Property("canonical readings contain no spaces or commas and are stable", prop.ForAll(
		func(picks []int) bool {
			var sb strings.Builder
			for _, p := range picks {
				sb.WriteString(alphabet[p])
			}
			out := Canonicalize(sb.String())
			return !strings.ContainsAny(out, " ,") && Canonicalize(out) == out
		},
		gen.SliceOf(gen.IntRange(0, len(alphabet)-1)),
	))

	properties.TestingRun(t)
}
