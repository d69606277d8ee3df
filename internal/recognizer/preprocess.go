package recognizer

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/emeter/internal/onnx"
	"github.com/MeKo-Tech/emeter/internal/utils"
	"github.com/disintegration/imaging"
)

const (
	// DefaultImageHeight and DefaultImageWidth are the recognizer input size.
	DefaultImageHeight = 64
	DefaultImageWidth  = 384
)

// CropRegion extracts box from img. Crops taller than wide are rotated 90
// degrees so the digit row runs horizontally.
func CropRegion(img image.Image, box utils.Box) (image.Image, bool, error) {
	if img == nil {
		return nil, false, errors.New("input image is nil")
	}
	if box.Width() <= 0 || box.Height() <= 0 {
		return nil, false, fmt.Errorf("empty region box: %+v", box)
	}
	patch := utils.CropImageBox(img, box)
	b := patch.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, false, fmt.Errorf("region %+v lies outside the image", box)
	}
	if b.Dy() > b.Dx() {
		return utils.Rotate90(patch), true, nil
	}
	return patch, false, nil
}

// PrepareCrop resizes a crop to the fixed recognizer input size and applies
// histogram equalisation to lift low-contrast displays.
func PrepareCrop(crop image.Image, height, width int) (image.Image, error) {
	if crop == nil {
		return nil, errors.New("crop is nil")
	}
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	if b := crop.Bounds(); b.Dy() > b.Dx() {
		crop = utils.Rotate90(crop)
	}
	resized := imaging.Resize(crop, width, height, imaging.Linear)
	return utils.EqualizeHistogram(resized), nil
}

// NormalizeForRecognition converts a prepared crop to a [1, 3, H, W] tensor in [0,1].
func NormalizeForRecognition(img image.Image) (onnx.Tensor, error) {
	data, w, h, err := utils.NormalizeImage(img)
	if err != nil {
		return onnx.Tensor{}, err
	}
	return onnx.NewImageTensor(data, 3, h, w)
}
