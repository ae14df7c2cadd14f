package media

import (
	"bytes"
	"image"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestPreviewFitsBounds(t *testing.T) {
	out, err := Preview(encodePNG(t, 1200, 900))
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("format = %q, want jpeg", format)
	}
	if cfg.Width > previewBound || cfg.Height > previewBound {
		t.Errorf("preview %dx%d exceeds bound %d", cfg.Width, cfg.Height, previewBound)
	}
}

func TestPreviewKeepsSmallImages(t *testing.T) {
	out, err := Preview(encodePNG(t, 50, 40))
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if cfg.Width != 50 || cfg.Height != 40 {
		t.Errorf("small image resized to %dx%d", cfg.Width, cfg.Height)
	}
}

func TestPreviewRejectsGarbage(t *testing.T) {
	if _, err := Preview([]byte("not an image")); err == nil {
		t.Fatal("expected error for non-image payload")
	}
}
