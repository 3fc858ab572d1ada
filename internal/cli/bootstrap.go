package cli

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/catalog"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/engine"
	"github.com/stewardhq/steward/internal/heartbeat"
	"github.com/stewardhq/steward/internal/logging"
	"github.com/stewardhq/steward/internal/memory"
	"github.com/stewardhq/steward/internal/server"
	"github.com/stewardhq/steward/internal/store"
)

// app is the wired-up service graph shared by the serve and heartbeat
// commands.
type app struct {
	cfg      config.Config
	log      *zap.SugaredLogger
	db       *store.DB
	engine   *engine.Engine
	runner   *heartbeat.Runner
	searcher *memory.Searcher
}

func (a *app) close() {
	a.db.Close()
	a.log.Sync()
}

// newApp loads configuration, opens the database, and wires the engine.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Logging.Debug)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	dbPath := cfg.Database.Path
	if p := os.Getenv("STEWARD_DB"); p != "" {
		dbPath = p
	}
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	embedder := detectEmbedder(cfg, db, log)
	searcher := memory.NewSearcher(db, embedder, log)

	registry, err := catalog.NewBuiltinRegistry(db, embedder)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build action catalog: %w", err)
	}

	eng := engine.New(db, registry, embedder, searcher, log)
	runner := heartbeat.NewRunner(db, eng, log, cfg.Heartbeat.TaskBudget, cfg.Heartbeat.BatchSize)

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		engine:   eng,
		runner:   runner,
		searcher: searcher,
	}, nil
}

// detectEmbedder prefers Ollama when reachable, falling back to the TF-IDF
// embedder built from the ledger corpus.
func detectEmbedder(cfg config.Config, db *store.DB, log *zap.SugaredLogger) memory.Embedder {
	if memory.ProbeOllama(cfg.Embeddings.OllamaURL, cfg.Embeddings.Model) {
		log.Infow("embedder ready", "kind", "ollama", "model", cfg.Embeddings.Model)
		return memory.NewOllamaEmbedder(cfg.Embeddings.OllamaURL, cfg.Embeddings.Model, 768)
	}

	emb, err := memory.NewTFIDFEmbedder(db, 512)
	if err != nil {
		log.Warnw("tfidf embedder init failed, similarity search degraded", "error", err)
		return nil
	}
	log.Infow("embedder ready", "kind", "tfidf")
	return emb
}

func (a *app) httpServer() *server.Server {
	return server.New(a.db, a.engine, a.runner, a.searcher, a.log, VersionString())
}
