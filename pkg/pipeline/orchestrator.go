// Package pipeline runs the per-frame verification loop: detect faces,
// match them against the reference set, watch each recognized identity for
// a blink and record attendance once liveness is confirmed.
package pipeline

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/attendance"
	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/config"
	"github.com/MrCodeEU/rollcall/pkg/directory"
	"github.com/MrCodeEU/rollcall/pkg/events"
	"github.com/MrCodeEU/rollcall/pkg/liveness"
	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/recognition"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Defaults for the zero values of the corresponding Options fields.
const (
	DefaultPublishTimeout      = 2 * time.Second
	DefaultMaxOracleErrors     = 3
	DefaultDetectorStopTimeout = 5 * time.Second
)

// Options tunes the frame loop.
type Options struct {
	FrameSkip        int     // oracle runs on every (FrameSkip+1)-th frame
	Scale            float64 // downscale applied before the oracle
	AsyncDetection   bool
	FreshSamplesOnly bool // feed trackers only on frames the oracle ran
	Liveness         liveness.Config
	EvictAfterFrames int

	// PublishTimeout bounds each attendance event publish.
	PublishTimeout time.Duration
	// MaxOracleErrors consecutive oracle failures clear the current detections.
	MaxOracleErrors int
	// DetectorStopTimeout bounds the wait for an in-flight async detection on exit.
	DetectorStopTimeout time.Duration

	// Now returns the wall clock; defaults to time.Now.
	Now func() time.Time
	// FrameHook, if set, is called after every processed frame.
	FrameHook func(Overlay)
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		FrameSkip:        cfg.Pipeline.FrameSkip,
		Scale:            cfg.Camera.Scale,
		AsyncDetection:   cfg.Pipeline.AsyncDetection,
		FreshSamplesOnly: cfg.Liveness.FreshSamplesOnly,
		Liveness: liveness.Config{
			BlinkThreshold:            cfg.Liveness.BlinkThreshold,
			ConsecutiveFramesRequired: cfg.Liveness.ConsecutiveFramesRequired,
		},
		EvictAfterFrames: cfg.Liveness.EvictAfterFrames,
	}
}

// Deps are the collaborators of the frame loop.
type Deps struct {
	Oracle    recognition.Oracle
	Matcher   *recognition.Matcher
	Directory *directory.Directory
	Ledger    attendance.Ledger
	Publisher events.Publisher // optional
}

// Stats counts what the loop has done so far.
type Stats struct {
	Frames         int64 `json:"frames"`
	OracleRuns     int64 `json:"oracle_runs"`
	OracleErrors   int64 `json:"oracle_errors"`
	DroppedFrames  int64 `json:"dropped_frames"` // offered while the detector was busy
	Confirmations  int64 `json:"confirmations"`
	Recorded       int64 `json:"recorded"`
	LedgerFailures int64 `json:"ledger_failures"`
}

// observedFace is a detection with its resolved identity.
type observedFace struct {
	detection recognition.Detection
	match     recognition.Match
	record    directory.Record
}

// Orchestrator owns the tracker registry and the current detections. Step
// and Run must be called from a single goroutine; Overlay and Stats may be
// read concurrently.
type Orchestrator struct {
	opts      Options
	deps      Deps
	session   string
	trackers  *liveness.Registry
	detector  *asyncDetector
	current   []observedFace
	failures  int // consecutive oracle errors
	frame     int64
	overlay   atomic.Pointer[Overlay]
	stats     Stats
	statsSnap atomic.Pointer[Stats]
	log       *logrus.Entry
}

// New creates an orchestrator with a fresh session id.
func New(opts Options, deps Deps) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FrameSkip < 0 {
		opts.FrameSkip = 0
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.MaxOracleErrors <= 0 {
		opts.MaxOracleErrors = DefaultMaxOracleErrors
	}
	if opts.DetectorStopTimeout <= 0 {
		opts.DetectorStopTimeout = DefaultDetectorStopTimeout
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}

	session := uuid.New().String()
	o := &Orchestrator{
		opts:     opts,
		deps:     deps,
		session:  session,
		trackers: liveness.NewRegistry(opts.Liveness, opts.EvictAfterFrames),
		log:      logging.Component("pipeline").WithField("session", session),
	}
	o.overlay.Store(&Overlay{Session: session})
	o.statsSnap.Store(&Stats{})
	return o
}

// Session returns the id of this run.
func (o *Orchestrator) Session() string {
	return o.session
}

// Overlay returns the display state after the most recent frame.
func (o *Orchestrator) Overlay() Overlay {
	return *o.overlay.Load()
}

// Stats returns the counters as of the most recent frame.
func (o *Orchestrator) Stats() Stats {
	return *o.statsSnap.Load()
}

// Run processes frames from src until it is exhausted or ctx is cancelled.
// End of stream and cancellation are not errors.
func (o *Orchestrator) Run(ctx context.Context, src camera.Source) error {
	if o.opts.AsyncDetection {
		o.detector = newAsyncDetector(o.detect)
		o.detector.start(ctx)
		defer func() {
			if !o.detector.stop(o.opts.DetectorStopTimeout) {
				o.log.Warnf("Detection still running after %s, not waiting for it", o.opts.DetectorStopTimeout)
			}
			o.detector = nil
		}()
	}

	o.log.WithFields(logging.Fields{
		"frame_skip": o.opts.FrameSkip,
		"async":      o.opts.AsyncDetection,
	}).Info("Verification loop started")

	for {
		f, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				o.log.Info("Frame source exhausted")
				return nil
			}
			if ctx.Err() != nil {
				o.log.Info("Verification loop stopped")
				return nil
			}
			return err
		}
		o.Step(ctx, f)
	}
}

// Step processes one frame. Oracle, ledger and publisher failures are
// logged and never returned.
func (o *Orchestrator) Step(ctx context.Context, f camera.Frame) {
	index := o.frame
	o.frame++
	o.stats.Frames++
	now := o.opts.Now()
	log := o.log.WithField("frame", index)

	o.trackers.Rollover(now)

	fresh := o.refreshDetections(ctx, index, f.Data, log)

	seen := make(map[string]bool, len(o.current))
	faces := make([]FaceOverlay, 0, len(o.current))
	for _, face := range o.current {
		overlay := FaceOverlay{
			Box:   face.detection.Box.Scale(o.opts.Scale),
			Label: face.match.Label,
			Name:  recognition.Unknown,
		}
		if face.match.IsUnknown() {
			faces = append(faces, overlay)
			continue
		}

		tracker := o.track(ctx, face, index, now, log)
		if !seen[face.match.Label] && (fresh || !o.opts.FreshSamplesOnly) {
			seen[face.match.Label] = true
			o.sample(ctx, face, tracker, now, log)
		}

		overlay.Name = face.record.OfficialName
		overlay.ID = face.record.UniqueID
		overlay.Verified = tracker.Confirmed()
		if overlay.Verified {
			overlay.Status = MarkedStatus(face.record.UniqueID)
		} else {
			overlay.Status = StatusBlink
		}
		faces = append(faces, overlay)
	}

	o.trackers.Evict(index)

	snap := &Overlay{Session: o.session, Frame: index, Timestamp: now, Faces: faces}
	o.overlay.Store(snap)
	stats := o.stats
	o.statsSnap.Store(&stats)

	if o.opts.FrameHook != nil {
		o.opts.FrameHook(*snap)
	}
}

// refreshDetections runs or polls the oracle and reports whether the
// current detections came from this call.
func (o *Orchestrator) refreshDetections(ctx context.Context, index int64, data []byte, log *logrus.Entry) bool {
	due := index%int64(o.opts.FrameSkip+1) == 0

	if o.detector == nil {
		if !due {
			return false
		}
		o.stats.OracleRuns++
		dets, err := o.detect(ctx, data)
		return o.apply(detectResult{frame: index, detections: dets, err: err}, log)
	}

	if due {
		if o.detector.submit(index, data) {
			o.stats.OracleRuns++
		} else {
			o.stats.DroppedFrames++
		}
	}
	res, ok := o.detector.latest()
	if !ok {
		return false
	}
	return o.apply(res, log)
}

func (o *Orchestrator) apply(res detectResult, log *logrus.Entry) bool {
	if res.err != nil {
		o.stats.OracleErrors++
		o.failures++
		if !errors.Is(res.err, context.Canceled) {
			log.WithError(res.err).Warn("Face detection failed, skipping frame")
		}
		if o.failures >= o.opts.MaxOracleErrors && o.current != nil {
			log.Warnf("Dropping stale detections after %d consecutive oracle errors", o.failures)
			o.current = nil
		}
		return false
	}
	o.failures = 0

	faces := make([]observedFace, 0, len(res.detections))
	for _, d := range res.detections {
		m := o.deps.Matcher.Match(d.Embedding)
		face := observedFace{detection: d, match: m}
		if !m.IsUnknown() {
			face.record = o.deps.Directory.Resolve(m.Label)
		}
		faces = append(faces, face)
	}
	o.current = faces
	return true
}

func (o *Orchestrator) detect(ctx context.Context, data []byte) ([]recognition.Detection, error) {
	small, err := camera.Downscale(data, o.opts.Scale)
	if err != nil {
		return nil, err
	}
	return o.deps.Oracle.Detect(ctx, small)
}

// track returns the identity's tracker, restoring Confirmed when today's
// ledger already holds the identity.
func (o *Orchestrator) track(ctx context.Context, face observedFace, index int64, now time.Time, log *logrus.Entry) *liveness.Tracker {
	tracker, created := o.trackers.Track(face.match.Label, index)
	if !created {
		return tracker
	}

	recorded, err := o.deps.Ledger.Has(ctx, face.record.OfficialName, now)
	if err != nil {
		log.WithError(err).WithField("name", face.record.OfficialName).Warn("Could not check ledger")
		return tracker
	}
	if recorded {
		tracker.Confirm()
		log.WithField("name", face.record.OfficialName).Debug("Already recorded today")
	}
	return tracker
}

func (o *Orchestrator) sample(ctx context.Context, face observedFace, tracker *liveness.Tracker, now time.Time, log *logrus.Entry) {
	ear, ok := liveness.AverageEAR(face.detection.Landmarks)
	if !ok {
		return
	}
	if !tracker.Update(ear) {
		return
	}

	o.stats.Confirmations++
	o.mark(ctx, face.record, now, log)
}

func (o *Orchestrator) mark(ctx context.Context, r directory.Record, now time.Time, log *logrus.Entry) {
	log = log.WithFields(logging.Fields{"name": r.OfficialName, "id": r.UniqueID})

	outcome, err := o.deps.Ledger.Mark(ctx, r, now)
	if err != nil {
		o.stats.LedgerFailures++
		log.WithError(err).Error("Failed to record attendance")
		return
	}
	if outcome == attendance.AlreadyRecorded {
		log.Debug("Attendance already recorded")
		return
	}

	o.stats.Recorded++
	log.WithField("organization", r.Organization).Info("Liveness confirmed, attendance marked")

	pubCtx, cancel := context.WithTimeout(ctx, o.opts.PublishTimeout)
	defer cancel()
	if err := o.deps.Publisher.Publish(pubCtx, events.NewEvent(r, now, o.session)); err != nil {
		log.WithError(err).Warn("Failed to publish attendance event")
	}
}
