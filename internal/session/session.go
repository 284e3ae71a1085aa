// Package session owns the capture-analyze-present orchestration: a finite
// state machine per scan session that sequences camera acquisition, image
// normalization, the remote analysis call, and failure recovery.
package session

import (
	"github.com/example/medscan/internal/analysis"
	"github.com/example/medscan/internal/capture"
	"github.com/example/medscan/internal/fault"
)

// State is the single mode a session is in. Exactly one value at a time.
type State string

const (
	StateIdle          State = "idle"
	StateCapturingLive State = "capturing_live"
	StateAnalyzing     State = "analyzing"
	StateResult        State = "result"
	StateFailed        State = "failed"
)

// View is an immutable snapshot of a session exposed to the presentation
// layer. Report and ErrorDetail are mutually exclusive; Image is present
// from the moment capture or upload completes until reset.
type View struct {
	ID          string
	State       State
	Image       *capture.EncodedImage
	Report      *analysis.Report
	ErrorDetail string
	ErrorKind   fault.Kind
}

// HasImage reports whether a preview payload is available.
func (v View) HasImage() bool {
	return !v.Image.Empty()
}
