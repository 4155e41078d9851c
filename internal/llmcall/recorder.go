package llmcall

import (
	"github.com/jackzampolin/tabextract/internal/extract"
	"github.com/jackzampolin/tabextract/internal/sink"
)

// Recorder handles fire-and-forget call recording via a Sink.
// It implements extract.Observer.
type Recorder struct {
	sink *sink.Sink
	opts RecordOptions
}

// NewRecorder creates a new call recorder.
func NewRecorder(s *sink.Sink, opts RecordOptions) *Recorder {
	return &Recorder{sink: s, opts: opts}
}

// ObserveAttempt captures an attempt asynchronously.
// This is non-blocking unless the sink queue is full.
func (r *Recorder) ObserveAttempt(e extract.AttemptEvent) {
	r.RecordCall(FromEvent(e, r.opts))
}

// RecordCall captures an already-constructed Call asynchronously.
func (r *Recorder) RecordCall(call *Call) {
	if r == nil || r.sink == nil || call == nil {
		return
	}
	r.sink.Send(call)
}

var _ extract.Observer = (*Recorder)(nil)
