package recognizer

import (
	"image"
	"image/color"
	"testing"

	"github.com/MeKo-Tech/emeter/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			v := uint8((x * 255) / max(w-1, 1))
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestCropRegion(t *testing.T) {
	img := gradient(100, 80)

	crop, rotated, err := CropRegion(img, utils.NewBox(10, 10, 60, 30))
	require.NoError(t, err)
	assert.False(t, rotated)
	assert.Equal(t, 50, crop.Bounds().Dx())
	assert.Equal(t, 20, crop.Bounds().Dy())

	crop, rotated, err = CropRegion(img, utils.NewBox(10, 10, 30, 70))
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.Equal(t, 60, crop.Bounds().Dx())
	assert.Equal(t, 20, crop.Bounds().Dy())
}

func TestCropRegion_Errors(t *testing.T) {
	_, _, err := CropRegion(nil, utils.NewBox(0, 0, 1, 1))
	require.Error(t, err)

	img := gradient(10, 10)
	_, _, err = CropRegion(img, utils.NewBox(5, 5, 5, 8))
	require.Error(t, err)

	_, _, err = CropRegion(img, utils.NewBox(20, 20, 30, 30))
	require.Error(t, err)
}

func TestPrepareCrop_FixedSize(t *testing.T) {
	for _, size := range [][2]int{{200, 50}, {30, 90}, {384, 64}} {
		out, err := PrepareCrop(gradient(size[0], size[1]), DefaultImageHeight, DefaultImageWidth)
		require.NoError(t, err)
		assert.Equal(t, DefaultImageWidth, out.Bounds().Dx())
		assert.Equal(t, DefaultImageHeight, out.Bounds().Dy())
	}

	_, err := PrepareCrop(nil, 64, 384)
	require.Error(t, err)
	_, err = PrepareCrop(gradient(4, 4), 0, 384)
	require.Error(t, err)
}

func TestNormalizeForRecognition_Shape(t *testing.T) {
	out, err := PrepareCrop(gradient(120, 40), DefaultImageHeight, DefaultImageWidth)
	require.NoError(t, err)
	ten, err := NormalizeForRecognition(out)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, DefaultImageHeight, DefaultImageWidth}, ten.Shape)
	for _, v := range ten.Data {
		if v < 0 || v > 1 {
			t.Fatalf("value out of range: %v", v)
		}
	}
}

func TestRecognizer_ScoresFromOutput(t *testing.T) {
	r := &Recognizer{vocab: DefaultVocabulary()}
	data := make([]float32, 5*14)

	m, err := r.scoresFromOutput(data, []int64{5, 1, 14}, false)
	require.NoError(t, err)
	assert.Equal(t, 5, m.T)
	assert.Equal(t, 14, m.N)

	m, err = r.scoresFromOutput(data, []int64{1, 5, 14}, true)
	require.NoError(t, err)
	assert.Equal(t, 5, m.T)

	_, err = r.scoresFromOutput(make([]float32, 5*10), []int64{5, 1, 10}, false)
	require.Error(t, err)
}

func TestNewRecognizer_MissingModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = "/nonexistent/model.onnx"
	_, err := NewRecognizer(cfg)
	require.Error(t, err)
}
