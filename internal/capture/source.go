package capture

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/example/medscan/internal/fault"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// maxSide bounds the longer edge of a normalized image. Uploads beyond it
// are downscaled before re-encoding so the analysis payload stays sane.
const maxSide = 2048

// CameraConfig selects the capture device and its resolution hint.
type CameraConfig struct {
	Index  int
	Width  int
	Height int
}

// Source converts uploaded files and live camera frames into JPEG
// EncodedImages. It is safe for concurrent use.
type Source struct {
	maxBytes int64
	quality  int
	camera   CameraConfig
	logger   *zap.Logger
}

// NewSource constructs a Source with the given upload cap, JPEG quality,
// and camera configuration.
func NewSource(maxBytes int64, quality int, camera CameraConfig, logger *zap.Logger) *Source {
	return &Source{
		maxBytes: maxBytes,
		quality:  quality,
		camera:   camera,
		logger:   logger.Named("capture"),
	}
}

// Normalize decodes an uploaded file and re-encodes it as JPEG at the
// configured quality. Empty, oversized, or undecodable payloads fail with
// an invalid-input classification.
func (s *Source) Normalize(data []byte) (*EncodedImage, error) {
	if len(data) == 0 {
		return nil, fault.New(fault.InvalidInput, "uploaded file is empty")
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fault.New(fault.InvalidInput,
			fmt.Sprintf("uploaded file exceeds %d bytes", s.maxBytes))
	}

	img, err := decodeImage(data)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidInput, "uploaded file is not a recognized image", err)
	}

	encoded, err := s.encodeJPEG(img)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidInput, "failed to re-encode image", err)
	}

	s.logger.Debug("normalized upload",
		zap.Int("input_bytes", len(data)),
		zap.Int("output_bytes", len(encoded.Bytes)))
	return encoded, nil
}

// OpenDevice acquires the camera as a scoped resource. The caller owns the
// returned handle and must close it exactly once.
func (s *Source) OpenDevice() (Device, error) {
	return openCamera(s.camera, s.quality, s.logger)
}

func (s *Source) encodeJPEG(img image.Image) (*EncodedImage, error) {
	bounds := img.Bounds()
	if bounds.Dx() > maxSide || bounds.Dy() > maxSide {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(s.quality)); err != nil {
		return nil, err
	}
	return &EncodedImage{Bytes: buf.Bytes(), MIME: MIMEJPEG}, nil
}

// decodeImage handles WebP through its dedicated decoder and everything
// else through the registered stdlib/x formats.
func decodeImage(data []byte) (image.Image, error) {
	if isWebP(data) {
		return webp.Decode(bytes.NewReader(data))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WEBP"))
}
