// Package capture acquires image bytes from either a user upload or a live
// camera device and normalizes both into a single JPEG representation.
package capture

// MIMEJPEG is the only encoding produced by this package. Both acquisition
// paths converge on it.
const MIMEJPEG = "image/jpeg"

// EncodedImage is an immutable encoded payload with its declared MIME type.
type EncodedImage struct {
	Bytes []byte
	MIME  string
}

// Empty reports whether the image carries no payload.
func (e *EncodedImage) Empty() bool {
	return e == nil || len(e.Bytes) == 0
}
