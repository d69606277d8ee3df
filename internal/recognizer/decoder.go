package recognizer

import (
	"strings"
)

// DefaultBeamWidth is the number of prefixes kept per timestep.
const DefaultBeamWidth = 200

// CTCDecoder turns recognizer score matrices into canonical meter readings.
// It holds no mutable state and is safe for concurrent use.
type CTCDecoder struct {
	vocab     *Vocabulary
	beamWidth int
}

// NewCTCDecoder creates a decoder over vocab. A nil vocab selects the default
// meter alphabet and a non-positive width selects DefaultBeamWidth.
func NewCTCDecoder(vocab *Vocabulary, beamWidth int) *CTCDecoder {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	if beamWidth <= 0 {
		beamWidth = DefaultBeamWidth
	}
	return &CTCDecoder{vocab: vocab, beamWidth: beamWidth}
}

// Vocabulary returns the decoder vocabulary.
func (d *CTCDecoder) Vocabulary() *Vocabulary { return d.vocab }

// BeamWidth returns the configured beam width.
func (d *CTCDecoder) BeamWidth() int { return d.beamWidth }

// Decoded is one canonical reading with the mean probability of the
// characters on its best path.
type Decoded struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// bestPath returns the label indices of the most likely path and their
// per-character probabilities. A beam width of one takes the greedy path.
func (d *CTCDecoder) bestPath(m ScoreMatrix) ([]int, []float64) {
	if d.beamWidth == 1 {
		g := DecodeCTCGreedy(m, d.vocab.Blank())
		return g.Collapsed, g.CollapsedProb
	}
	res := DecodeCTCBeamSearch(m, d.vocab.Blank(), d.beamWidth)
	return res.Sequence, res.CharProbs
}

func (d *CTCDecoder) raw(m ScoreMatrix) (string, float64) {
	if m.T == 0 || m.N == 0 {
		return "", 0
	}
	seq, probs := d.bestPath(m)
	var sb strings.Builder
	for _, idx := range seq {
		sb.WriteString(d.vocab.LookupToken(idx))
	}
	return sb.String(), SequenceConfidence(probs)
}

// Raw maps the best path to characters without cleanup.
func (d *CTCDecoder) Raw(m ScoreMatrix) string {
	text, _ := d.raw(m)
	return text
}

// Decode returns the canonical reading for one crop.
func (d *CTCDecoder) Decode(m ScoreMatrix) string {
	return Canonicalize(d.Raw(m))
}

// DecodeWithConfidence returns the canonical reading and its confidence.
// Separator characters count towards the confidence; an empty path scores 0.
func (d *CTCDecoder) DecodeWithConfidence(m ScoreMatrix) Decoded {
	text, conf := d.raw(m)
	return Decoded{Value: Canonicalize(text), Confidence: conf}
}

// DecodeBatch decodes each matrix independently, preserving order.
func (d *CTCDecoder) DecodeBatch(ms []ScoreMatrix) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = d.Decode(m)
	}
	return out
}

// DecodeBatchWithConfidence is DecodeBatch keeping each reading's confidence.
func (d *CTCDecoder) DecodeBatchWithConfidence(ms []ScoreMatrix) []Decoded {
	out := make([]Decoded, len(ms))
	for i, m := range ms {
		out[i] = d.DecodeWithConfidence(m)
	}
	return out
}

// DecodeTensor decodes a [T, B, N] tensor into B readings.
func (d *CTCDecoder) DecodeTensor(x Tensor3) ([]string, error) {
	ms, err := x.Split()
	if err != nil {
		return nil, err
	}
	return d.DecodeBatch(ms), nil
}

// Canonicalize cleans a raw decoded string into a numeric reading: fragments
// are trimmed, empty and blank-only fragments dropped, spaces removed and the
// comma decimal separator replaced with a period.
//
//	" 12,34 " -> "12.34"
func Canonicalize(raw string) string {
	fragments := strings.Split(raw, SeparatorToken)
	kept := make([]string, 0, len(fragments))
	for _, f := range fragments {
		f = strings.TrimSpace(f)
		if f == "" || strings.Trim(f, BlankToken) == "" {
			continue
		}
		kept = append(kept, f)
	}
	text := strings.Join(kept, "")
	text = strings.ReplaceAll(text, " ", "")
	return strings.ReplaceAll(text, ",", ".")
}
