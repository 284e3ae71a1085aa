package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/medscan/internal/analysis"
	"github.com/example/medscan/internal/capture"
	"github.com/example/medscan/internal/fault"
	"github.com/example/medscan/internal/logging"
)

// DeviceOpener acquires the live camera. Satisfied by *capture.Source.
type DeviceOpener interface {
	OpenDevice() (capture.Device, error)
}

// Publisher mirrors state transitions to an external store for liveness
// observation. Mirror failures never affect the session.
type Publisher interface {
	PublishState(ctx context.Context, sessionID string, state State) error
}

// Recorder receives telemetry for terminal transitions. It stores
// operational events only, never session results.
type Recorder interface {
	RecordScan(ctx context.Context, sessionID, event, errorKind string, latency time.Duration) error
}

// Controller is the state machine for one scan session. All events are
// serialized under its mutex; exactly one analysis call may be in flight,
// and its completion is the only path out of the analyzing state. A late
// completion for a session that has already been reset is discarded.
type Controller struct {
	id     string
	userID string

	opener   DeviceOpener
	analyzer analysis.Analyzer
	mirror   Publisher
	recorder Recorder
	logger   *zap.Logger
	timeout  time.Duration

	mu          sync.Mutex
	state       State
	image       *capture.EncodedImage
	report      *analysis.Report
	errorDetail string
	errorKind   fault.Kind
	device      capture.Device
	epoch       uint64
	lastEvent   time.Time
}

// NewController builds an idle session. Mirror and recorder may be nil.
func NewController(id, userID string, opener DeviceOpener, analyzer analysis.Analyzer,
	mirror Publisher, recorder Recorder, timeout time.Duration, logger *zap.Logger) *Controller {
	return &Controller{
		id:        id,
		userID:    userID,
		opener:    opener,
		analyzer:  analyzer,
		mirror:    mirror,
		recorder:  recorder,
		timeout:   timeout,
		logger:    logger.Named("session"),
		state:     StateIdle,
		lastEvent: time.Now(),
	}
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// UserID returns the owning user.
func (c *Controller) UserID() string { return c.userID }

// Snapshot returns the current presentation view.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// RequestCamera handles the request-camera intent. Valid only while idle;
// anywhere else it is a no-op. A device acquisition failure is reported as
// a failed session, recoverable via reset.
func (c *Controller) RequestCamera(ctx context.Context) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastEvent = time.Now()

	if c.state != StateIdle {
		c.ignoreLocked("request_camera")
		return c.viewLocked()
	}

	device, err := c.opener.OpenDevice()
	if err != nil {
		logging.WithOperation(c.logger, "session.request_camera", c.id).
			Warn("camera acquisition failed", zap.Error(err))
		c.failLocked(err)
		c.recordAsync("request_camera", string(fault.KindOf(err)), 0)
		return c.viewLocked()
	}

	c.device = device
	c.transitionLocked(StateCapturingLive)
	return c.viewLocked()
}

// ImageSelected handles a normalized upload. Valid only while idle. An
// empty payload is rejected without a state change so the session never
// enters analyzing without image bytes.
func (c *Controller) ImageSelected(ctx context.Context, image *capture.EncodedImage) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastEvent = time.Now()

	if c.state != StateIdle {
		c.ignoreLocked("image_selected")
		return c.viewLocked(), nil
	}
	if image.Empty() {
		return c.viewLocked(), fault.New(fault.InvalidInput, "selected image is empty")
	}

	c.beginAnalysisLocked(image)
	return c.viewLocked(), nil
}

// ShutterPressed captures the current camera frame and starts analysis.
// Valid only while capturing. The device is released exactly once on the
// way out, whether the capture succeeded or not; a device error is treated
// like a cancel for the resource and reported as a failure.
func (c *Controller) ShutterPressed(ctx context.Context) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastEvent = time.Now()

	if c.state != StateCapturingLive {
		c.ignoreLocked("shutter_pressed")
		return c.viewLocked()
	}

	image, err := c.device.CaptureFrame()
	c.releaseDeviceLocked()
	if err == nil && image.Empty() {
		err = fault.New(fault.DeviceUnavailable, "camera produced an empty frame")
	}
	if err != nil {
		logging.WithOperation(c.logger, "session.shutter_pressed", c.id).
			Warn("frame capture failed", zap.Error(err))
		c.failLocked(err)
		c.recordAsync("shutter_pressed", string(fault.KindOf(err)), 0)
		return c.viewLocked()
	}

	c.beginAnalysisLocked(image)
	return c.viewLocked()
}

// Cancel leaves live capture and releases the device. Valid only while
// capturing.
func (c *Controller) Cancel(ctx context.Context) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastEvent = time.Now()

	if c.state != StateCapturingLive {
		c.ignoreLocked("cancel")
		return c.viewLocked()
	}

	c.releaseDeviceLocked()
	c.transitionLocked(StateIdle)
	return c.viewLocked()
}

// Reset returns the session to idle, clearing the image and any result or
// error. Valid from the result and failed states, and from analyzing: the
// in-flight call cannot be cancelled, but bumping the epoch guarantees its
// late completion is discarded instead of applied.
func (c *Controller) Reset(ctx context.Context) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastEvent = time.Now()

	switch c.state {
	case StateResult, StateFailed, StateAnalyzing:
	default:
		c.ignoreLocked("reset")
		return c.viewLocked()
	}

	c.epoch++
	c.image = nil
	c.report = nil
	c.errorDetail = ""
	c.errorKind = ""
	c.transitionLocked(StateIdle)
	return c.viewLocked()
}

// expire releases any held device and invalidates in-flight work. Called by
// the manager when evicting an idle session.
func (c *Controller) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.releaseDeviceLocked()
	c.image = nil
	c.report = nil
	c.errorDetail = ""
	c.errorKind = ""
	c.state = StateIdle
}

func (c *Controller) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEvent
}

// beginAnalysisLocked stores the image, enters analyzing, and spawns the
// single outstanding analysis call for this episode.
func (c *Controller) beginAnalysisLocked(image *capture.EncodedImage) {
	c.image = image
	c.epoch++
	epoch := c.epoch
	c.transitionLocked(StateAnalyzing)

	go c.runAnalysis(epoch, image)
}

func (c *Controller) runAnalysis(epoch uint64, image *capture.EncodedImage) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	started := time.Now()
	report, err := c.analyzer.Analyze(ctx, image)
	c.completeAnalysis(epoch, report, err, time.Since(started))
}

// completeAnalysis applies a completion event atomically against the
// current state. Completions for a stale epoch, or arriving after the
// session left analyzing, are discarded without mutation.
func (c *Controller) completeAnalysis(epoch uint64, report *analysis.Report, err error, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAnalyzing || c.epoch != epoch {
		logging.WithOperation(c.logger, "session.analysis_complete", c.id).
			Debug("discarding stale analysis completion", zap.Uint64("epoch", epoch))
		return
	}

	if err != nil {
		c.failLocked(err)
		c.recordAsync("analysis_failed", string(fault.KindOf(err)), latency)
		return
	}

	c.report = report
	c.errorDetail = ""
	c.errorKind = ""
	c.transitionLocked(StateResult)
	c.recordAsync("analysis_succeeded", "", latency)
}

func (c *Controller) failLocked(err error) {
	c.errorDetail = fault.UserMessage(err)
	c.errorKind = fault.KindOf(err)
	c.report = nil
	c.transitionLocked(StateFailed)
}

// releaseDeviceLocked closes the camera at most once per episode.
func (c *Controller) releaseDeviceLocked() {
	if c.device == nil {
		return
	}
	if err := c.device.Close(); err != nil {
		logging.WithOperation(c.logger, "session.release_device", c.id).
			Warn("failed to close camera device", zap.Error(err))
	}
	c.device = nil
}

func (c *Controller) transitionLocked(next State) {
	prev := c.state
	c.state = next
	c.logger.Info("session transition",
		zap.String("session_id", c.id),
		zap.String("from", string(prev)),
		zap.String("to", string(next)))
	c.publishAsync(next)
}

func (c *Controller) ignoreLocked(event string) {
	c.logger.Debug("ignoring event for current state",
		zap.String("session_id", c.id),
		zap.String("event", event),
		zap.String("state", string(c.state)))
}

// publishAsync mirrors the new state best-effort off the event path.
func (c *Controller) publishAsync(state State) {
	if c.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.mirror.PublishState(ctx, c.id, state); err != nil {
			logging.WithOperation(c.logger, "session.publish_state", c.id).
				Warn("failed to mirror session state", zap.Error(err))
		}
	}()
}

// recordAsync writes telemetry best-effort off the event path.
func (c *Controller) recordAsync(event, errorKind string, latency time.Duration) {
	if c.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.recorder.RecordScan(ctx, c.id, event, errorKind, latency); err != nil {
			logging.WithOperation(c.logger, "session.record_scan", c.id).
				Warn("failed to record scan event", zap.Error(err))
		}
	}()
}

func (c *Controller) viewLocked() View {
	return View{
		ID:          c.id,
		State:       c.state,
		Image:       c.image,
		Report:      c.report,
		ErrorDetail: c.errorDetail,
		ErrorKind:   c.errorKind,
	}
}
