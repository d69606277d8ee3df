package detector

import (
	"testing"

	"github.com/MeKo-Tech/emeter/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonMaxSuppression(t *testing.T) {
	dets := []Detection{
		{Box: utils.NewBox(20, 20, 30, 30), Confidence: 0.7},
		{Box: utils.NewBox(0, 0, 10, 10), Confidence: 0.9},
		{Box: utils.NewBox(1, 1, 9, 9), Confidence: 0.8}, // heavy overlap with the 0.9 box
	}
	kept := NonMaxSuppression(dets, 0.5)
	require.Len(t, kept, 2)
	assert.InDelta(t, 0.9, kept[0].Confidence, 1e-9)
	assert.InDelta(t, 0.7, kept[1].Confidence, 1e-9)
}

func TestNonMaxSuppression_ClassAware(t *testing.T) {
	dets := []Detection{
		{ClassIndex: 0, Box: utils.NewBox(0, 0, 10, 10), Confidence: 0.9},
		{ClassIndex: 1, Box: utils.NewBox(0, 0, 10, 10), Confidence: 0.8},
	}
	assert.Len(t, NonMaxSuppression(dets, 0.5), 2)
}

func TestNonMaxSuppression_Trivial(t *testing.T) {
	assert.Empty(t, NonMaxSuppression(nil, 0.5))
	one := []Detection{{Box: utils.NewBox(0, 0, 1, 1), Confidence: 0.1}}
	assert.Equal(t, one, NonMaxSuppression(one, 0.5))
}

func TestFilterClass(t *testing.T) {
	dets := []Detection{
		{ClassIndex: 0, Confidence: 0.95},
		{ClassIndex: 1, Confidence: 0.99},
		{ClassIndex: 0, Confidence: 0.5},
		{ClassIndex: 0, Confidence: 0.59},
	}
	got := FilterClass(dets, 0, 0.59)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.95, got[0].Confidence, 1e-9)
	assert.InDelta(t, 0.59, got[1].Confidence, 1e-9)
}
