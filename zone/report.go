package zone

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/joshuapare/zonekit/internal/logger"
)

// Policy decides what a Reporter does after logging.
type Policy struct {
	AbortOnCorruption bool          // abort on KindCorruption
	AbortOnError      bool          // abort on KindCallerError
	Pause             time.Duration // sleep after a non-aborting corruption report
}

// DefaultPolicy aborts on corruption and lets caller errors through.
func DefaultPolicy() Policy {
	return Policy{AbortOnCorruption: true}
}

// Reporter is the diagnostic channel. It is safe for concurrent use once configured.
type Reporter struct {
	policy Policy
	log    *slog.Logger

	// abort is called when the policy escalates. It defaults to panicking
	// with the *Error so a recovering caller can inspect it.
	abort  func(*Error)
	notify func(*Error)

	counts [numKinds]atomic.Uint64
}

// NewReporter returns a Reporter using p and the global logger.
func NewReporter(p Policy) *Reporter {
	return &Reporter{policy: p}
}

// SetLogger overrides the destination logger.
func (r *Reporter) SetLogger(l *slog.Logger) { r.log = l }

// SetAbort replaces the abort action.
func (r *Reporter) SetAbort(fn func(*Error)) { r.abort = fn }

// OnReport installs an observer called for every report before any abort.
func (r *Reporter) OnReport(fn func(*Error)) { r.notify = fn }

// Policy returns the active policy.
func (r *Reporter) Policy() Policy { return r.policy }

// Count returns how many reports of kind k have been made.
func (r *Reporter) Count(k Kind) uint64 {
	if k < 0 || k >= numKinds {
		return 0
	}
	return r.counts[k].Load()
}

// Report records e and applies the policy.
func (r *Reporter) Report(e *Error) {
	if r == nil {
		return
	}
	if e.Kind >= 0 && e.Kind < numKinds {
		r.counts[e.Kind].Add(1)
	}

	l := r.log
	if l == nil {
		l = logger.L
	}
	attrs := []any{"kind", e.Kind.String(), "op", e.Op}
	if e.Zone != "" {
		attrs = append(attrs, "zone", e.Zone)
	}
	if e.Ptr != 0 {
		attrs = append(attrs, "ptr", e.Ptr)
	}
	if e.Kind == KindExhaustion {
		l.Debug(e.Msg, attrs...)
	} else {
		l.Error(e.Msg, attrs...)
	}

	if r.notify != nil {
		r.notify(e)
	}

	switch {
	case e.Kind == KindCorruption && r.policy.AbortOnCorruption,
		e.Kind == KindCallerError && r.policy.AbortOnError:
		r.doAbort(e)
	case e.Kind == KindCorruption && r.policy.Pause > 0:
		time.Sleep(r.policy.Pause)
	}
}

// Corruption is shorthand for reporting damaged state.
func (r *Reporter) Corruption(zone, op string, ptr uintptr, msg string) {
	r.Report(&Error{Kind: KindCorruption, Op: op, Zone: zone, Ptr: ptr, Msg: msg})
}

// CallerError is shorthand for reporting misuse.
func (r *Reporter) CallerError(zone, op string, ptr uintptr, msg string) {
	r.Report(&Error{Kind: KindCallerError, Op: op, Zone: zone, Ptr: ptr, Msg: msg})
}

func (r *Reporter) doAbort(e *Error) {
	if r.abort != nil {
		r.abort(e)
		return
	}
	panic(e)
}
