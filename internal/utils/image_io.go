package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
)

// DefaultJPEGQuality is used when writing annotated results.
const DefaultJPEGQuality = 90

// LoadImage opens and decodes an image file. The content decides the format,
// not the extension: uploads are always stored as .jpg.
func LoadImage(path string) (image.Image, error) {
	if path == "" {
		return nil, &ImageProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: job-owned path
	if err != nil {
		return nil, &ImageProcessingError{Operation: "load", Path: path, Err: err}
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, &ImageProcessingError{Operation: "load", Path: path, Err: err}
	}
	return img, nil
}

// DecodeImage decodes JPEG, PNG or BMP bytes.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return img, nil
}

// DecodeImageConfig reads only the header, which is enough to reject non-images.
func DecodeImageConfig(data []byte) (image.Config, string, error) {
	if len(data) == 0 {
		return image.Config{}, "", errors.New("empty image data")
	}
	return image.DecodeConfig(bytes.NewReader(data))
}

// SaveJPEG encodes img as JPEG at path.
func SaveJPEG(img image.Image, path string) error {
	if img == nil {
		return &ImageProcessingError{Operation: "save", Path: path, Err: errors.New("nil image")}
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(DefaultJPEGQuality)); err != nil {
		return &ImageProcessingError{Operation: "save", Path: path, Err: err}
	}
	return nil
}
