package ledger

import (
	"context"
	"sync"
)

// MemoryLedger is an in-process Ledger for LOCAL=1 and tests.
type MemoryLedger struct {
	mu            sync.Mutex
	TaskResponses []TaskResponse
	UsageLogs     []UsageLog
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger { return &MemoryLedger{} }

func (l *MemoryLedger) WriteTaskResponse(_ context.Context, r TaskResponse) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r.RawRequest, r.RawResponse = Sanitize(r.RawRequest), Sanitize(r.RawResponse)
	l.TaskResponses = append(l.TaskResponses, r)
}

func (l *MemoryLedger) WriteUsageLog(_ context.Context, u UsageLog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.UsageLogs = append(l.UsageLogs, u)
}
