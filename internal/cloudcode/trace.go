package cloudcode

import (
	"sync"
	"time"
)

// maxTraceEntries bounds the in-memory request trace ring buffer.
const maxTraceEntries = 50

// TraceAttempt records one account/endpoint attempt within a request.
type TraceAttempt struct {
	Account   string `json:"account"`
	Status    string `json:"status"`
	ErrorKind string `json:"errorKind,omitempty"`
}

// RequestTrace is a diagnostic-only record of one request's attempts. It is
// never consulted for routing decisions; it exists solely to be surfaced
// read-only at /health.
type RequestTrace struct {
	RequestID   string         `json:"requestId"`
	Model       string         `json:"model"`
	StartedAt   time.Time      `json:"startedAt"`
	Attempts    []TraceAttempt `json:"attempts"`
	FinalStatus string         `json:"finalStatus"`
}

// traceRing is a fixed-capacity, oldest-overwritten ring buffer of recent
// request traces, guarded by its own lock independent of the account pool.
type traceRing struct {
	mu      sync.Mutex
	entries []*RequestTrace
}

func newTraceRing() *traceRing {
	return &traceRing{entries: make([]*RequestTrace, 0, maxTraceEntries)}
}

func (r *traceRing) start(requestID, model string) *RequestTrace {
	t := &RequestTrace{RequestID: requestID, Model: model, StartedAt: time.Now()}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, t)
	if len(r.entries) > maxTraceEntries {
		r.entries = r.entries[len(r.entries)-maxTraceEntries:]
	}
	return t
}

// record appends one attempt outcome to t. Safe for concurrent use across
// traces, though a single trace is only ever touched by the request that
// owns it.
func (r *traceRing) record(t *RequestTrace, account, status, errorKind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Attempts = append(t.Attempts, TraceAttempt{Account: account, Status: status, ErrorKind: errorKind})
}

func (r *traceRing) finish(t *RequestTrace, finalStatus string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.FinalStatus = finalStatus
}

// Snapshot returns a shallow copy of the recorded traces, most recent last.
func (r *traceRing) Snapshot() []*RequestTrace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RequestTrace, len(r.entries))
	copy(out, r.entries)
	return out
}
