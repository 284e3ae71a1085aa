package capture

// Device is a live camera stream held open for the duration of one capture
// episode. It is exclusively owned by its opener: CaptureFrame rasterizes
// the current frame at the configured quality, Close releases the stream
// and may be called more than once.
type Device interface {
	CaptureFrame() (*EncodedImage, error)
	Close() error
}
