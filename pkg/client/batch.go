package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/storage"
)

// Sender delivers one batch of documents.
type Sender interface {
	Ingest(ctx context.Context, docs []storage.Document) (int, error)
}

// BatchConfig holds configuration for the batcher
type BatchConfig struct {
	MaxBatchSize int
	FlushEvery   time.Duration
}

// Batcher buffers documents and sends them when the buffer fills or
// periodically.
type Batcher struct {
	config BatchConfig
	sender Sender
	logger logger.Logger

	docs []storage.Document
	mu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	flushing atomic.Bool
	sent     atomic.Int64
	failed   atomic.Int64
}

// NewBatcher creates a batcher. MaxBatchSize is capped at the server's
// per-request limit.
func NewBatcher(sender Sender, cfg BatchConfig, log logger.Logger) *Batcher {
	if cfg.MaxBatchSize <= 0 || cfg.MaxBatchSize > config.MaxDocumentsPerRequest {
		cfg.MaxBatchSize = config.MaxDocumentsPerRequest
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 5 * time.Second
	}
	return &Batcher{
		config: cfg,
		sender: sender,
		logger: log,
		docs:   make([]storage.Document, 0, cfg.MaxBatchSize),
		done:   make(chan struct{}),
	}
}

// Start starts the periodic flush loop.
func (b *Batcher) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	go b.flushLoop()
}

// Add buffers a document. A full buffer is flushed in the background;
// only one background flush runs at a time.
func (b *Batcher) Add(d storage.Document) {
	b.mu.Lock()
	b.docs = append(b.docs, d)
	shouldFlush := len(b.docs) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.flush()
			b.flushing.Store(false)
		}()
	}
}

// Flush sends everything buffered and waits for the result.
func (b *Batcher) Flush() error {
	docs := b.take()
	if len(docs) == 0 {
		return nil
	}
	return b.send(docs)
}

// Stop ends the flush loop, waits for background flushes and sends what
// is left.
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.wg.Wait()
	return b.Flush()
}

// Sent and Failed count documents by delivery outcome.
func (b *Batcher) Sent() int64   { return b.sent.Load() }
func (b *Batcher) Failed() int64 { return b.failed.Load() }

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				b.flush()
				b.flushing.Store(false)
			}
		}
	}
}

func (b *Batcher) flush() {
	docs := b.take()
	if len(docs) == 0 {
		return
	}
	if err := b.send(docs); err != nil {
		b.logger.Warn("batch send failed", "documents", len(docs), "error", err)
	}
}

func (b *Batcher) take() []storage.Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.docs) == 0 {
		return nil
	}
	docs := make([]storage.Document, len(b.docs))
	copy(docs, b.docs)
	b.docs = b.docs[:0]
	return docs
}

func (b *Batcher) send(docs []storage.Document) error {
	parent := b.ctx
	if parent == nil {
		parent = context.Background()
	}
	// the final flush in Stop runs after cancel
	if parent.Err() != nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, config.WriteTimeout)
	defer cancel()

	n, err := b.sender.Ingest(ctx, docs)
	if err != nil {
		b.failed.Add(int64(len(docs)))
		return err
	}
	b.sent.Add(int64(n))
	return nil
}
