package server

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/cache"
	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/export"
	"github.com/nicktill/tinylens/pkg/ingest"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/query"
	"github.com/nicktill/tinylens/pkg/server/monitor"
	"github.com/nicktill/tinylens/pkg/storage"
	"github.com/nicktill/tinylens/pkg/storage/badger"
)

// Backend is a document store that also serves the KV interface.
type Backend interface {
	storage.Storage
	KV() storage.KV
}

// Server owns storage, the query and annotation services and the HTTP
// routes in front of them.
type Server struct {
	cfg    *config.Server
	logger logger.Logger

	store       Backend
	annotations *annotation.KVStore
	cache       cache.Cache
	engine      *query.Engine

	hub            *ingest.ChangeHub
	storageMonitor *monitor.StorageMonitor
	gcMonitor      *monitor.GCMonitor

	ingestHandler     *ingest.Handler
	queryHandler      *query.Handler
	annotationHandler *annotation.Handler
	exportHandler     *export.Handler
	renderer          *Renderer
}

// InitializeStorage opens BadgerDB on disk, or in memory when configured.
func InitializeStorage(cfg *config.Server, log logger.Logger) (Backend, error) {
	if cfg.InMemory {
		log.Info("initializing in-memory BadgerDB storage")
		return badger.New(badger.Config{InMemory: true, MaxMemoryMB: cfg.MaxMemoryMB})
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	log.Info("initializing BadgerDB storage", "path", cfg.DataDir, "max_memory_mb", cfg.MaxMemoryMB)
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// New opens storage per cfg and builds a server on it.
func New(ctx context.Context, cfg *config.Server, log logger.Logger) (*Server, error) {
	store, err := InitializeStorage(cfg, log)
	if err != nil {
		return nil, err
	}
	s, err := NewWithStorage(ctx, cfg, store, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// NewWithStorage builds a server on an already opened store. The server
// takes ownership of store and closes it in Close.
func NewWithStorage(ctx context.Context, cfg *config.Server, store Backend, log logger.Logger) (*Server, error) {
	annotations, err := annotation.NewKVStore(ctx, store.KV(), log.With("component", "annotations"))
	if err != nil {
		return nil, fmt.Errorf("failed to open annotation store: %w", err)
	}

	c := cache.New(cfg.Redis, log)
	engine := query.NewEngine(store, c, log.With("component", "query"))

	dataDir := cfg.DataDir
	if cfg.InMemory {
		dataDir = ""
	}
	storageMonitor := monitor.NewStorageMonitor(dataDir, cfg.MaxStorageBytes())

	hub := ingest.NewChangeHub(log.With("component", "ws"))

	ingestHandler := ingest.NewHandler(store, log.With("component", "ingest"))
	ingestHandler.SetStorageChecker(storageMonitor)

	renderer, err := NewRenderer(ctx, engine, annotations, log.With("component", "render"))
	if err != nil {
		annotations.Close()
		c.Close()
		return nil, err
	}

	return &Server{
		cfg:               cfg,
		logger:            log,
		store:             store,
		annotations:       annotations,
		cache:             c,
		engine:            engine,
		hub:               hub,
		storageMonitor:    storageMonitor,
		gcMonitor:         monitor.NewGCMonitor(),
		ingestHandler:     ingestHandler,
		queryHandler:      query.NewHandler(engine),
		annotationHandler: annotation.NewHandler(annotations, hub, log.With("component", "annotations")),
		exportHandler:     export.NewHandler(annotations, log.With("component", "export")),
		renderer:          renderer,
	}, nil
}

// Router builds the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	SetupRoutes(router, s)
	return router
}

// Close releases the annotation index, cache and storage.
func (s *Server) Close() error {
	var firstErr error
	for _, closer := range []func() error{s.annotations.Close, s.cache.Close, s.store.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
