package resultstore

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"labinsight/internal/domain"
)

// Memory is a process-local store bounded by size and TTL.
type Memory struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, []byte]
}

func NewMemory(size int, ttl time.Duration) *Memory {
	return &Memory{entries: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *Memory) Put(ctx context.Context, id string, report domain.FullReport) error {
	data, err := encode(report)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries.Peek(id); exists {
		return ErrDuplicateID
	}
	m.entries.Add(id, data)
	return nil
}

func (m *Memory) Take(ctx context.Context, id, filename string) (domain.FullReport, error) {
	m.mu.Lock()
	data, ok := m.entries.Peek(id)
	if ok {
		m.entries.Remove(id)
	}
	m.mu.Unlock()

	if !ok {
		return domain.FullReport{}, &domain.DataIntegrityError{ReportID: id, Reason: domain.MsgReportMissing}
	}
	return decode(id, filename, data)
}

func (m *Memory) Len() int {
	return m.entries.Len()
}

func (m *Memory) Close() error {
	m.entries.Purge()
	return nil
}
