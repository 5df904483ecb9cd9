package gatesync

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spoolsync/spoolsync/cmd/spoolsync/shared"
	"go.uber.org/zap"
)

// Prometheus metrics
var (
	publishesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spoolsync_publishes_total",
			Help: "The total number of successful gate map updates sent to moonraker",
		},
	)
	publishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spoolsync_publish_failures_total",
			Help: "The total number of gate map updates that moonraker rejected or that timed out",
		},
	)
	dedupedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spoolsync_deduped_total",
			Help: "The total number of tag reads skipped because the gate map already matched",
		},
	)
)

// Publisher pushes a spool & filament assignment to the printer firmware.
// Implementations must not retry internally, the engine owns the retry policy.
type Publisher interface {
	SetSpoolAndFilament(spool int, filament int, gate int) error
}

// Engine turns tag present/absent events into deduplicated gate map updates.
//
// It remembers the last assignment that moonraker confirmed and skips updates
// that would not change it. The cache is invalidated before every publish
// attempt, so a failed (or interrupted) call never suppresses the retry that
// follows when the same tag is read again.
type Engine struct {
	publisher    Publisher
	mu           sync.Mutex
	lastSpool    int
	lastFilament int
	hasLast      bool
	clearSpool   bool
	gate         int
}

// New creates an Engine. clearSpool mirrors the clear_spool config switch: when
// set, removing a tag (and starting the process) clears the gate assignment,
// and partial tag records are padded with zeroes instead of being ignored.
func New(publisher Publisher, clearSpool bool, gate int) *Engine {
	return &Engine{
		publisher:  publisher,
		clearSpool: clearSpool,
		gate:       gate,
	}
}

// OnTagPresent handles a read tag.
func (e *Engine) OnTagPresent(rec shared.TagRecord) {
	if !e.clearSpool && !rec.Complete() {
		zap.S().Infof("Did not find spool and filament records in tag (%s)", rec)
		return
	}

	spool := 0
	if rec.SpoolID != nil {
		spool = *rec.SpoolID
	}
	filament := 0
	if rec.FilamentID != nil {
		filament = *rec.FilamentID
	}

	_ = e.Sync(spool, filament)
}

// OnTagAbsent is called when no tag is present (or the tag has no data).
func (e *Engine) OnTagAbsent() {
	if e.clearSpool {
		_ = e.Sync(0, 0)
	}
}

// ClearOnStartup unsets the gate assignment once at process start, before the
// reader runs, so a stale assignment from a previous run never survives.
// It is a no-op unless clearSpool is set.
func (e *Engine) ClearOnStartup() {
	if e.clearSpool {
		_ = e.Sync(0, 0)
	}
}

// Sync pushes the given spool & filament to the printer unless the gate map
// already matches. A skipped duplicate returns nil. Publish failures are
// logged and returned, and leave the engine ready to retry the same values.
func (e *Engine) Sync(spool int, filament int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hasLast && e.lastSpool == spool && e.lastFilament == filament {
		zap.S().Infof("Read same spool #%d & filament #%d, skipping", spool, filament)
		dedupedTotal.Inc()
		return nil
	}

	zap.S().Infof("Sending spool #%d, filament #%d to moonraker", spool, filament)

	// Unset before the attempt: if the call fails halfway there is no way to
	// know what the printer holds, and the next identical read must retry.
	e.hasLast = false

	if err := e.publisher.SetSpoolAndFilament(spool, filament, e.gate); err != nil {
		zap.S().Errorf("Failed to set spool #%d & filament #%d: %s", spool, filament, err)
		publishFailures.Inc()
		return err
	}

	e.lastSpool = spool
	e.lastFilament = filament
	e.hasLast = true
	publishesTotal.Inc()
	return nil
}

// Last returns the last assignment confirmed by the printer. ok is false when
// no assignment is cached (startup, or after a failed publish).
func (e *Engine) Last() (spool int, filament int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSpool, e.lastFilament, e.hasLast
}
