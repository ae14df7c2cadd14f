package media

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

const previewBound = 600

// Preview renders a bounded JPEG preview of an uploaded image. Images already
// inside the bound are re-encoded as-is rather than upscaled.
func Preview(payload []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(payload), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > previewBound || bounds.Dy() > previewBound {
		img = imaging.Fit(img, previewBound, previewBound, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
