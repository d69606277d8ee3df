package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/MeKo-Tech/emeter/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateMeterImage(t *testing.T) {
	cfg := DefaultMeterImageConfig()
	img, display := GenerateMeterImage(cfg)
	assert.Equal(t, cfg.Width, img.Bounds().Dx())
	assert.True(t, display.In(img.Bounds()))
	assert.Equal(t, cfg.Body, img.At(1, 1))
}

func TestEncodedImagesDecode(t *testing.T) {
	img, _ := GenerateMeterImage(DefaultMeterImageConfig())
	for _, data := range [][]byte{EncodeJPEG(t, img), EncodePNG(t, img), MeterJPEG(t)} {
		decoded, err := utils.DecodeImage(data)
		require.NoError(t, err)
		assert.Equal(t, img.Bounds(), decoded.Bounds())
	}
}

func TestFakeProcessor(t *testing.T) {
	f := &FakeProcessor{Values: []string{"1.5"}}
	img, _ := GenerateMeterImage(DefaultMeterImageConfig())

	res, err := f.Process(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.5"}, res.Values)
	assert.NotNil(t, res.Overlay)

	f.Set(nil, errors.New("boom"))
	_, err = f.Process(context.Background(), img)
	require.Error(t, err)
	assert.Equal(t, int64(2), f.Calls())

	gate := make(chan struct{})
	f.Set([]string{"2"}, nil)
	f.SetGate(gate)
	done := make(chan error, 1)
	go func() {
		_, err := f.Process(context.Background(), img)
		done <- err
	}()
	close(gate)
	require.NoError(t, <-done)

	require.NoError(t, f.Close())
	assert.Equal(t, int64(1), f.Closed())
}
