package liveness

import (
	"time"

	"github.com/MrCodeEU/rollcall/pkg/logging"
)

const dayLayout = "2006-01-02"

type trackedIdentity struct {
	tracker  *Tracker
	lastSeen int64
}

// Registry owns one Tracker per recognized label. Trackers are created on
// first use, dropped after evictAfter frames without a sighting, and all reset
// when the calendar day changes. It is owned by the frame loop and is not safe
// for concurrent use.
type Registry struct {
	cfg        Config
	evictAfter int64
	trackers   map[string]*trackedIdentity
	day        string
}

// NewRegistry creates an empty registry. evictAfter <= 0 disables eviction.
func NewRegistry(cfg Config, evictAfter int) *Registry {
	return &Registry{
		cfg:        cfg,
		evictAfter: int64(evictAfter),
		trackers:   make(map[string]*trackedIdentity),
	}
}

// Track returns the tracker for label, creating it if needed, and marks it
// as seen at frame. created is true when a new tracker was made.
func (r *Registry) Track(label string, frame int64) (t *Tracker, created bool) {
	ti, ok := r.trackers[label]
	if !ok {
		ti = &trackedIdentity{tracker: NewTracker(r.cfg)}
		r.trackers[label] = ti
		created = true
		logging.Component("liveness").WithField("label", label).Debug("Tracking new identity")
	}
	ti.lastSeen = frame
	return ti.tracker, created
}

// Lookup returns the tracker for label without creating or touching it.
func (r *Registry) Lookup(label string) (*Tracker, bool) {
	ti, ok := r.trackers[label]
	if !ok {
		return nil, false
	}
	return ti.tracker, true
}

// Rollover resets every tracker when now falls on a different calendar day
// than the previous call. It reports whether a reset happened.
func (r *Registry) Rollover(now time.Time) bool {
	day := now.Format(dayLayout)
	if r.day == day {
		return false
	}
	first := r.day == ""
	r.day = day
	if first {
		return false
	}

	n := len(r.trackers)
	r.trackers = make(map[string]*trackedIdentity)
	logging.Component("liveness").Infof("New day %s, reset %d trackers", day, n)
	return true
}

// Evict drops trackers not seen within the eviction window ending at frame
// and returns their labels.
func (r *Registry) Evict(frame int64) []string {
	if r.evictAfter <= 0 {
		return nil
	}

	var evicted []string
	for label, ti := range r.trackers {
		if frame-ti.lastSeen > r.evictAfter {
			delete(r.trackers, label)
			evicted = append(evicted, label)
		}
	}
	if len(evicted) > 0 {
		logging.Component("liveness").Debugf("Evicted %d idle trackers", len(evicted))
	}
	return evicted
}

// Len returns the number of live trackers.
func (r *Registry) Len() int {
	return len(r.trackers)
}
