//go:build !gocv
// +build !gocv

package capture

import (
	"go.uber.org/zap"

	"github.com/example/medscan/internal/fault"
)

// Builds without the gocv tag have no camera backend; live capture reports
// the device as unavailable and only the upload path works.
func openCamera(CameraConfig, int, *zap.Logger) (Device, error) {
	return nil, fault.New(fault.DeviceUnavailable, "camera support is not built into this binary")
}
