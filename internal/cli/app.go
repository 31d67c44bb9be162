package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/clustercoder/bubbleOne/internal/audit"
	"github.com/clustercoder/bubbleOne/internal/config"
	"github.com/clustercoder/bubbleOne/internal/engine"
	"github.com/clustercoder/bubbleOne/internal/llm"
	"github.com/clustercoder/bubbleOne/internal/logutil"
	"github.com/clustercoder/bubbleOne/internal/planner"
	"github.com/clustercoder/bubbleOne/internal/retrieval"
	"github.com/clustercoder/bubbleOne/internal/store"
)

// app is the object graph shared by commands that work on the local
// database.
type app struct {
	cfg       config.Config
	log       *slog.Logger
	db        *store.DB
	ledger    *audit.Ledger
	retriever *retrieval.Retriever
	local     *planner.Local
	engine    *engine.Engine
	worker    *engine.Worker

	closers []io.Closer
}

// newApp opens the database and builds the engine. extra sinks receive
// every audit event alongside the ledger and the log.
func newApp(cfg config.Config, log *slog.Logger, extra ...audit.Sink) (*app, error) {
	a := &app{cfg: cfg, log: log}

	var err error
	dbPath := cfg.Database.Path
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	if a.db, err = store.Open(dbPath); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, a.db)

	if a.retriever, err = a.buildRetriever(); err != nil {
		a.Close()
		return nil, err
	}

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		log.Warn("llm not configured, using rule-based plans", "err", err)
		client = nil
	} else if client != nil {
		log.Info("llm configured", "provider", cfg.LLM.Provider)
	}
	a.local = planner.NewLocal(a.retriever, client, log.With("component", "planner"))

	var p planner.Planner = a.local
	if cfg.Planner.URL != "" {
		p = planner.NewRemote(cfg.Planner.URL, cfg.Planner.Timeout)
		log.Info("remote planner", "url", cfg.Planner.URL)
	}

	a.ledger = audit.NewLedger(a.db, log.With("component", "ledger"))
	sinks := audit.Multi{a.ledger, audit.Logger{Log: log, Level: slog.LevelDebug}}
	sinks = append(sinks, extra...)

	a.engine = engine.New(a.db, p, sinks, log, engineOptions(cfg))
	a.engine.SetRetriever(a.retriever)
	a.worker = engine.NewWorker(a.engine)
	return a, nil
}

// setup loads configuration and the logger for a command.
func setup() (config.Config, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, nil, err
	}
	log, err := logutil.New(cfg.Logging)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}

func engineOptions(cfg config.Config) engine.Options {
	return engine.Options{
		AutoTriggerThreshold: cfg.Worker.AutoTriggerThreshold,
		Cooldown:             cfg.Worker.Cooldown,
		OverdueIgnore:        cfg.Worker.OverdueIgnore,
		RecomputeWindow:      cfg.Worker.RecomputeWindow,
		PlannerTimeout:       cfg.Planner.Timeout,
		Interval:             cfg.Worker.Interval,
		StripKeys:            cfg.Privacy.StripKeys,
	}
}

func (a *app) buildRetriever() (*retrieval.Retriever, error) {
	rc := a.cfg.Retrieval
	var emb retrieval.Embedder = retrieval.HashEmbedder{}

	switch rc.Embedder {
	case "ollama":
		if retrieval.ProbeOllama(a.cfg.LLM.OllamaURL, rc.EmbeddingModel) {
			emb = retrieval.NewOllamaEmbedder(a.cfg.LLM.OllamaURL, rc.EmbeddingModel, rc.Dimensions)
		} else {
			a.log.Warn("ollama embedder unreachable, falling back to hash embedder", "url", a.cfg.LLM.OllamaURL)
		}
	case "openai":
		if a.cfg.LLM.OpenAIKey == "" {
			a.log.Warn("openai embedder needs an api key, falling back to hash embedder")
		} else {
			emb = retrieval.NewOpenAIEmbedder(a.cfg.LLM.OpenAIKey, a.cfg.LLM.OpenAIURL, rc.EmbeddingModel)
		}
	}

	var index retrieval.Index
	switch rc.Backend {
	case "qdrant":
		dims := emb.Dimensions()
		if dims <= 0 {
			dims = rc.Dimensions
		}
		q, err := retrieval.NewQdrantIndex(rc.QdrantHost, rc.QdrantPort, rc.Collection, dims)
		if err != nil {
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		a.closers = append(a.closers, q)
		index = q
	default:
		index = retrieval.NewSQLiteIndex(a.db, emb.Model())
	}

	a.log.Info("retrieval", "embedder", emb.Model(), "backend", rc.Backend)
	return retrieval.New(emb, index, rc.TopK, a.log.With("component", "retrieval")), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
