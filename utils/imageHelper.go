package utils

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

const (
	coverMaxWidth = 1080

	// Instagram rejects images outside the 4:5 .. 1.91:1 range.
	minImageAspectRatio = 0.8
	maxImageAspectRatio = 1.91
)

func DecodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data))
}

// NormalizeCoverImage scales a cover down to the platform-safe width and
// re-encodes it as JPEG. Images already within bounds are re-encoded only.
func NormalizeCoverImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}

	if img.Bounds().Dx() > coverMaxWidth {
		img = imaging.Resize(img, coverMaxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %v", err)
	}
	return buf.Bytes(), nil
}

// MakeThumbnail renders a 200px-wide JPEG preview.
func MakeThumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}

	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %v", err)
	}
	return buf.Bytes(), nil
}

// CheckImageAspectRatio rejects images the feed endpoints will not accept.
func CheckImageAspectRatio(img image.Image) error {
	bounds := img.Bounds()
	if bounds.Dy() == 0 {
		return fmt.Errorf("image has zero height")
	}
	ratio := float64(bounds.Dx()) / float64(bounds.Dy())
	if ratio < minImageAspectRatio || ratio > maxImageAspectRatio {
		return fmt.Errorf("image aspect ratio %.2f is outside the supported range %.2f to %.2f",
			ratio, minImageAspectRatio, maxImageAspectRatio)
	}
	return nil
}
