package pipeline

import (
	"errors"
	"image"
	"image/color"
	"strings"
	"sync/atomic"

	"github.com/MeKo-Tech/emeter/internal/detector"
	"github.com/MeKo-Tech/emeter/internal/recognizer"
)

type fakeDetector struct {
	dets   []detector.Detection
	err    error
	closed atomic.Int32
}

func (f *fakeDetector) Detect(image.Image) ([]detector.Detection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]detector.Detection(nil), f.dets...), nil
}

func (f *fakeDetector) Close() error {
	f.closed.Add(1)
	return nil
}

// fakeRecognizer answers each crop with the next text in texts.
type fakeRecognizer struct {
	texts  []string
	err    error
	calls  atomic.Int32
	closed atomic.Int32
	block  chan struct{}
}

func (f *fakeRecognizer) Recognize(crops []image.Image) ([]recognizer.ScoreMatrix, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]recognizer.ScoreMatrix, len(crops))
	for i := range crops {
		out[i] = scoresFor(f.texts[i%len(f.texts)])
	}
	return out, nil
}

func (f *fakeRecognizer) Close() error {
	f.closed.Add(1)
	if f.err != nil {
		return errors.New("close failed")
	}
	return nil
}

// scoresFor spells text in the default vocabulary as a peaked score matrix.
func scoresFor(text string) recognizer.ScoreMatrix {
	v := recognizer.DefaultVocabulary()
	n := v.Size()
	var path []int
	prev := -1
	for _, r := range strings.Split(text, "") {
		idx := v.LookupIndex(r)
		if idx == prev {
			path = append(path, 0)
		}
		path = append(path, idx)
		prev = idx
	}
	path = append(path, 0)
	data := make([]float32, len(path)*n)
	for t, c := range path {
		for k := range n {
			data[t*n+k] = 0.01
		}
		data[t*n+c] = 1 - 0.01*float32(n-1)
	}
	return recognizer.ScoreMatrix{T: len(path), N: n, Data: data}
}

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	return img
}
