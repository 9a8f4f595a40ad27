package syncer

// ProgressPhase identifies which part of a sync run an event belongs to.
type ProgressPhase string

const (
	PhaseScan   ProgressPhase = "scan"
	PhaseUpsert ProgressPhase = "upsert"
	PhaseRemove ProgressPhase = "remove"
	PhaseWait   ProgressPhase = "wait"
	PhaseDone   ProgressPhase = "done"
)

// ProgressEvent is one step of a sync run, published to the sink as the
// engine works through its plan.
type ProgressEvent struct {
	RunID   string        `json:"run_id"`
	Phase   ProgressPhase `json:"phase"`
	Path    string        `json:"path,omitempty"`
	Message string        `json:"message,omitempty"`
	Done    int           `json:"done"`
	Total   int           `json:"total"`
}

// ProgressSink is a bounded channel the caller drains. Publishing never
// blocks the run: when the consumer falls behind, events are dropped rather
// than stalling remote work on a slow UI.
type ProgressSink struct {
	ch chan ProgressEvent
}

// NewProgressSink creates a sink with the given buffer size.
func NewProgressSink(buffer int) *ProgressSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ProgressSink{
		ch: make(chan ProgressEvent, buffer),
	}
}

// Events returns the channel to drain.
func (p *ProgressSink) Events() <-chan ProgressEvent {
	return p.ch
}

// Close closes the event channel. Only the engine side calls this, after the
// run completes.
func (p *ProgressSink) Close() {
	close(p.ch)
}

func (p *ProgressSink) publish(ev ProgressEvent) {
	if p == nil {
		return
	}
	select {
	case p.ch <- ev:
	default:
	}
}
