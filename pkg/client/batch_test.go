package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/storage"
)

type recordingSender struct {
	mu      sync.Mutex
	batches [][]storage.Document
	err     error
}

func (s *recordingSender) Ingest(ctx context.Context, docs []storage.Document) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.batches = append(s.batches, docs)
	return len(docs), nil
}

func (s *recordingSender) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func doc(i int) storage.Document {
	return storage.Document{
		Index:     "orders",
		Timestamp: t0.Add(time.Duration(i) * time.Minute),
		Fields:    map[string]interface{}{"amount": float64(i)},
	}
}

func TestBatcher_FlushOnStop(t *testing.T) {
	s := &recordingSender{}
	b := NewBatcher(s, BatchConfig{MaxBatchSize: 100, FlushEvery: time.Hour}, logger.Nop())
	b.Start(context.Background())

	for i := 0; i < 10; i++ {
		b.Add(doc(i))
	}
	require.NoError(t, b.Stop())

	assert.Equal(t, 10, s.total())
	assert.Equal(t, int64(10), b.Sent())
	assert.Zero(t, b.Failed())
}

func TestBatcher_FlushWhenFull(t *testing.T) {
	s := &recordingSender{}
	b := NewBatcher(s, BatchConfig{MaxBatchSize: 5, FlushEvery: time.Hour}, logger.Nop())
	b.Start(context.Background())

	for i := 0; i < 12; i++ {
		b.Add(doc(i))
	}
	require.NoError(t, b.Stop())

	assert.Equal(t, 12, s.total())
	for _, batch := range s.batches {
		assert.NotEmpty(t, batch)
	}
}

func TestBatcher_PeriodicFlush(t *testing.T) {
	s := &recordingSender{}
	b := NewBatcher(s, BatchConfig{MaxBatchSize: 100, FlushEvery: 10 * time.Millisecond}, logger.Nop())
	b.Start(context.Background())
	defer b.Stop()

	b.Add(doc(1))
	assert.Eventually(t, func() bool { return s.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBatcher_FailureCounted(t *testing.T) {
	s := &recordingSender{err: errors.New("server down")}
	b := NewBatcher(s, BatchConfig{MaxBatchSize: 100}, logger.Nop())

	b.Add(doc(1))
	b.Add(doc(2))
	assert.Error(t, b.Flush())
	assert.Equal(t, int64(2), b.Failed())
	assert.NoError(t, b.Flush(), "failed documents are not requeued")
}

func TestNewBatcher_CapsBatchSize(t *testing.T) {
	b := NewBatcher(&recordingSender{}, BatchConfig{MaxBatchSize: 1 << 20}, logger.Nop())
	assert.Equal(t, config.MaxDocumentsPerRequest, b.config.MaxBatchSize)
	assert.Equal(t, 5*time.Second, b.config.FlushEvery)
}
