package recognizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pathFor spells text with the default vocabulary, inserting a blank between
// repeated characters so that they survive collapsing.
func pathFor(t *testing.T, v *Vocabulary, text string) []int {
	t.Helper()
	var path []int
	prev := -1
	for _, r := range strings.Split(text, "") {
		idx := v.LookupIndex(r)
		require.GreaterOrEqual(t, idx, 1, "character %q not in vocabulary", r)
		if idx == prev {
			path = append(path, 0)
		}
		path = append(path, idx, idx)
		prev = idx
	}
	return append(path, 0)
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{" 12,34 ", "12.34"},
		{" 1,234", "1.234"},
		{"", ""},
		{"   ", ""},
		{"-", ""},
		{" - ", ""},
		{"00 123", "00123"},
		{"1 2 , 3 4", "12.34"},
		{"5.6", "5.6"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.raw))
		})
	}
}

func TestCTCDecoder_Defaults(t *testing.T) {
	d := NewCTCDecoder(nil, 0)
	assert.Equal(t, DefaultBeamWidth, d.BeamWidth())
	assert.Equal(t, 14, d.Vocabulary().Size())
}

func TestCTCDecoder_DecodeReading(t *testing.T) {
	d := NewCTCDecoder(nil, 0)
	v := d.Vocabulary()

	m := peaked(pathFor(t, v, " 12,34 "), v.Size())
	assert.Equal(t, " 12,34 ", d.Raw(m))
	assert.Equal(t, "12.34", d.Decode(m))

	repeated := peaked(pathFor(t, v, "0011"), v.Size())
	assert.Equal(t, "0011", d.Decode(repeated))
}

func TestCTCDecoder_DecodeWithConfidence(t *testing.T) {
	v := DefaultVocabulary()
	m := peaked(pathFor(t, v, " 12,34 "), v.Size())

	for _, width := range []int{1, 8, DefaultBeamWidth} {
		d := NewCTCDecoder(v, width)
		got := d.DecodeWithConfidence(m)
		assert.Equal(t, "12.34", got.Value, "beam width %d", width)
		assert.InDelta(t, 0.91, got.Confidence, 1e-3, "beam width %d", width)
	}
}

func TestCTCDecoder_ConfidenceTracksAmbiguity(t *testing.T) {
	v := DefaultVocabulary()
	d := NewCTCDecoder(v, 0)
	one, two := v.LookupIndex("1"), v.LookupIndex("2")

	// a single timestep split 0.6 / 0.4 between "1" and "2"
	data := make([]float32, v.Size())
	data[one], data[two] = 0.6, 0.4
	m, err := NewScoreMatrix(data, 1, v.Size())
	require.NoError(t, err)

	got := d.DecodeWithConfidence(m)
	assert.Equal(t, "1", got.Value)
	assert.InDelta(t, 0.6, got.Confidence, 1e-6)
}

func TestCTCDecoder_DecodeBatchWithConfidence(t *testing.T) {
	v := DefaultVocabulary()
	d := NewCTCDecoder(v, 0)
	ms := []ScoreMatrix{
		peaked(pathFor(t, v, "7"), v.Size()),
		peaked([]int{0, 0}, v.Size()),
	}

	got := d.DecodeBatchWithConfidence(ms)
	require.Len(t, got, 2)
	assert.Equal(t, "7", got[0].Value)
	assert.Positive(t, got[0].Confidence)
	assert.Equal(t, Decoded{}, got[1], "an all-blank path has no characters to score")
	assert.Equal(t, d.DecodeBatch(ms), []string{got[0].Value, got[1].Value})
}

func TestCTCDecoder_DecodeIsPure(t *testing.T) {
	d := NewCTCDecoder(nil, 8)
	m := peaked(pathFor(t, d.Vocabulary(), "987,65"), 14)
	first := d.Decode(m)
	second := d.Decode(m)
	assert.Equal(t, first, second)
	assert.Equal(t, "987.65", first)
}

func TestCTCDecoder_DecodeBatchAndTensor(t *testing.T) {
	d := NewCTCDecoder(nil, 0)
	v := d.Vocabulary()
	a := peaked(pathFor(t, v, "1,2"), v.Size())
	b := peaked(pathFor(t, v, "3,4"), v.Size())
	require.Equal(t, a.T, b.T)

	assert.Equal(t, []string{"1.2", "3.4"}, d.DecodeBatch([]ScoreMatrix{a, b}))
	assert.Empty(t, d.DecodeBatch(nil))

	// interleave into [T, B, N]
	x := Tensor3{T: a.T, B: 2, N: v.Size(), Data: make([]float32, a.T*2*v.Size())}
	for step := range a.T {
		copy(x.Data[(step*2)*x.N:], a.Step(step))
		copy(x.Data[(step*2+1)*x.N:], b.Step(step))
	}
	got, err := d.DecodeTensor(x)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2", "3.4"}, got)
}

func TestCTCDecoder_EmptyMatrix(t *testing.T) {
	d := NewCTCDecoder(nil, 0)
	assert.Equal(t, "", d.Decode(ScoreMatrix{}))
}
