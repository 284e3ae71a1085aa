//go:build !gocv
// +build !gocv

package capture

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"go.uber.org/zap"

	"github.com/example/medscan/internal/fault"
)

func newTestSource(maxBytes int64) *Source {
	return NewSource(maxBytes, 85, CameraConfig{}, zap.NewNop())
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestNormalizeRejectsEmptyUpload(t *testing.T) {
	_, err := newTestSource(0).Normalize(nil)
	if !fault.IsKind(err, fault.InvalidInput) {
		t.Fatalf("expected invalid_input for empty upload, got %v", err)
	}
}

func TestNormalizeRejectsOversizedUpload(t *testing.T) {
	data := pngBytes(t, 64, 64)
	_, err := newTestSource(10).Normalize(data)
	if !fault.IsKind(err, fault.InvalidInput) {
		t.Fatalf("expected invalid_input for oversized upload, got %v", err)
	}
}

func TestNormalizeRejectsNonImagePayload(t *testing.T) {
	_, err := newTestSource(0).Normalize([]byte("definitely not an image"))
	if !fault.IsKind(err, fault.InvalidInput) {
		t.Fatalf("expected invalid_input for junk payload, got %v", err)
	}
}

func TestNormalizeRejectsTruncatedWebP(t *testing.T) {
	// Valid RIFF/WEBP magic with a garbage body must still fail closed.
	data := append([]byte("RIFF\x00\x00\x00\x00WEBP"), []byte("garbage")...)
	_, err := newTestSource(0).Normalize(data)
	if !fault.IsKind(err, fault.InvalidInput) {
		t.Fatalf("expected invalid_input for truncated webp, got %v", err)
	}
}

func TestNormalizeConvertsPNGToJPEG(t *testing.T) {
	encoded, err := newTestSource(0).Normalize(pngBytes(t, 32, 24))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if encoded.MIME != MIMEJPEG {
		t.Fatalf("expected %q, got %q", MIMEJPEG, encoded.MIME)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(encoded.Bytes))
	if err != nil {
		t.Fatalf("normalized output is not valid JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 32 || decoded.Bounds().Dy() != 24 {
		t.Fatalf("unexpected dimensions: %v", decoded.Bounds())
	}
}

func TestNormalizeDownscalesHugeImages(t *testing.T) {
	encoded, err := newTestSource(0).Normalize(pngBytes(t, maxSide+200, 40))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(encoded.Bytes))
	if err != nil {
		t.Fatalf("normalized output is not valid JPEG: %v", err)
	}
	if decoded.Bounds().Dx() > maxSide || decoded.Bounds().Dy() > maxSide {
		t.Fatalf("expected downscale to fit %d, got %v", maxSide, decoded.Bounds())
	}
}

func TestOpenDeviceWithoutCameraSupport(t *testing.T) {
	_, err := newTestSource(0).OpenDevice()
	if !fault.IsKind(err, fault.DeviceUnavailable) {
		t.Fatalf("expected device_unavailable without the gocv tag, got %v", err)
	}
}

func TestEncodedImageEmpty(t *testing.T) {
	var nilImage *EncodedImage
	if !nilImage.Empty() {
		t.Fatal("nil image must be empty")
	}
	if !(&EncodedImage{MIME: MIMEJPEG}).Empty() {
		t.Fatal("zero-byte image must be empty")
	}
	if (&EncodedImage{Bytes: []byte("x"), MIME: MIMEJPEG}).Empty() {
		t.Fatal("non-empty image must not be empty")
	}
}
