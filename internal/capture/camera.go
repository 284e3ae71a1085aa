//go:build gocv
// +build gocv

package capture

import (
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/example/medscan/internal/fault"
)

type cameraDevice struct {
	mu      sync.Mutex
	stream  *gocv.VideoCapture
	quality int
	closed  bool
	logger  *zap.Logger
}

func openCamera(cfg CameraConfig, quality int, logger *zap.Logger) (Device, error) {
	stream, err := gocv.OpenVideoCapture(cfg.Index)
	if err != nil {
		return nil, fault.Wrap(fault.DeviceUnavailable, "failed to open camera device", err)
	}
	if !stream.IsOpened() {
		_ = stream.Close()
		return nil, fault.New(fault.DeviceUnavailable, "camera device is not available")
	}

	// Resolution hint only; the driver may pick the nearest supported mode.
	if cfg.Width > 0 {
		stream.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		stream.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}

	logger.Info("camera device opened", zap.Int("index", cfg.Index))
	return &cameraDevice{stream: stream, quality: quality, logger: logger}, nil
}

// CaptureFrame reads the current frame and encodes it as JPEG.
func (d *cameraDevice) CaptureFrame() (*EncodedImage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fault.New(fault.DeviceUnavailable, "camera device is closed")
	}

	frame := gocv.NewMat()
	defer frame.Close()
	if ok := d.stream.Read(&frame); !ok || frame.Empty() {
		return nil, fault.New(fault.DeviceUnavailable, "failed to read a frame from the camera")
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame,
		[]int{gocv.IMWriteJpegQuality, d.quality})
	if err != nil {
		return nil, fault.Wrap(fault.DeviceUnavailable, "failed to encode camera frame", err)
	}
	defer buf.Close()

	// Copy out of the native buffer before it is freed.
	encoded := make([]byte, len(buf.GetBytes()))
	copy(encoded, buf.GetBytes())
	return &EncodedImage{Bytes: encoded, MIME: MIMEJPEG}, nil
}

// Close releases the stream. Safe to call more than once.
func (d *cameraDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.logger.Info("camera device released")
	return d.stream.Close()
}
