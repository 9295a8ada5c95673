// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/markdave123-py/policyqa/internal/config"
	"github.com/markdave123-py/policyqa/internal/core"
	db "github.com/markdave123-py/policyqa/internal/core/database"
	"github.com/markdave123-py/policyqa/internal/core/ingestion_engine"
	"github.com/markdave123-py/policyqa/internal/core/llm"
	objectclient "github.com/markdave123-py/policyqa/internal/core/object-client"
	"github.com/markdave123-py/policyqa/internal/core/retrieval"
	"github.com/markdave123-py/policyqa/internal/core/tokenizer"
	"github.com/markdave123-py/policyqa/internal/logger"
	"github.com/markdave123-py/policyqa/internal/services"
)

const ingestWorkers = 2

type App struct {
	Config      *config.Config
	Coordinator *ingestion_engine.Coordinator
	Engine      *retrieval.Engine
	Documents   *services.DocumentService
	Registry    *prometheus.Registry
	Server      *Server

	closers []io.Closer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.FromContext(ctx)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	index, state, err := a.storage(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	objClient, err := objectclient.NewS3Client(appCtx, objectclient.S3Options{
		Region:    cfg.AwsRegion,
		AccessKey: cfg.AwsAccessKey,
		SecretKey: cfg.AwsSecretKey,
	})
	if err != nil {
		return nil, err
	}
	log.Info("object client initialized", "bucket", cfg.BucketName, "region", cfg.AwsRegion)

	embedder, llmProvider, err := a.providers(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	embedClient, err := llm.NewEmbeddingClient(embedder, llm.EmbeddingOptions{
		Dim:            cfg.EmbedDim,
		BatchSize:      cfg.EmbedBatchSize,
		Concurrency:    cfg.EmbedConcurrency,
		QueryCacheSize: 256,
		Retry:          llm.DefaultRetryPolicy(),
	})
	if err != nil {
		return nil, err
	}

	tok, err := tokenizer.NewTiktoken(cfg.TokenizerEncoding)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the tokenizer, %w", err)
	}

	chunking := ingestion_engine.ChunkerConfig{
		TargetTokens:   cfg.TargetTokens,
		OverlapTokens:  cfg.OverlapTokens,
		MinChunkTokens: cfg.MinChunkTokens,
		StitchPages:    cfg.StitchPages,
	}
	chunker := ingestion_engine.NewSemanticChunker(tok, chunking, ingestion_engine.NewContentFilter())

	useReadability := false
	extractor := ingestion_engine.NewFallbackExtractor(
		ingestion_engine.NewPDFPageExtractor(),
		ingestion_engine.NewDocconvExtractor("application/pdf", useReadability),
	)

	a.Coordinator = ingestion_engine.NewCoordinator(objClient, index, state, extractor, chunker, embedClient,
		&ingestion_engine.IngestConfig{
			DocID:       cfg.DocID,
			Bucket:      cfg.BucketName,
			ManifestKey: cfg.ManifestKey,
			Chunking:    chunking,
			Timeout:     cfg.IngestTimeout,
			Workers:     ingestWorkers,
		})

	sessions, err := retrieval.NewSessionRegistry(cfg.SessionWindow, cfg.MaxSessions)
	if err != nil {
		return nil, err
	}
	metrics := retrieval.NewMetrics(cfg.MetricsWindow, a.Registry)

	a.Engine = retrieval.NewEngine(engineConfig(cfg), a.Coordinator, embedClient, index,
		llm.NewRetryingLLM(llmProvider, llm.DefaultRetryPolicy()), sessions, metrics)

	a.Documents = services.NewDocumentService(objClient, cfg.BucketName, manifestKeyFor(cfg), a.Coordinator)

	a.Server = NewServer(cfg, a.Coordinator, a.Engine, a.Documents, a.Registry, log)

	ok = true
	return a, nil
}

// storage picks pgvector when DATABASE_URL is set, otherwise the in-memory
// index with a SQLite state file.
func (a *App) storage(ctx context.Context, cfg *config.Config) (core.VectorIndex, core.StateStore, error) {
	log := logger.FromContext(ctx)
	if cfg.LocalMode() {
		state, err := db.NewSQLiteStateStore(ctx, cfg.StateDBPath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, state)
		log.Info("local mode: in-memory vector index", "state_db", cfg.StateDBPath)
		return db.NewMemoryIndex(), state, nil
	}

	dbClient, err := db.NewDatabaseClient(ctx, cfg.DatabaseURL, cfg.EmbedDim)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, dbClient)
	log.Info("database initialized and ready")
	return dbClient, dbClient, nil
}

func (a *App) providers(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, core.LLMProvider, error) {
	switch cfg.AIProvider {
	case config.ProviderGemini:
		embedder, err := llm.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
		}
		a.closers = append(a.closers, embedder)
		gen, err := llm.NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.GenModel)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the language model, %w", err)
		}
		a.closers = append(a.closers, gen)
		return embedder, gen, nil
	case config.ProviderOpenAI:
		return llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbedModel, cfg.EmbedDim),
			llm.NewOpenAILLM(cfg.OpenAIAPIKey, cfg.GenModel), nil
	default:
		return nil, nil, fmt.Errorf("unsupported AI provider %q", cfg.AIProvider)
	}
}

func engineConfig(cfg *config.Config) retrieval.Config {
	rc := retrieval.DefaultConfig(cfg.DocID)
	rc.TopK = cfg.TopK
	rc.Threshold = cfg.Threshold
	rc.Temperature = float32(cfg.Temperature)
	rc.MaxTokens = cfg.MaxTokens
	rc.SnippetMaxChars = cfg.SnippetMaxChars
	rc.HistoryMessages = cfg.HistoryMessages
	rc.PriceInPerM = cfg.PriceInPerM
	rc.PriceOutPerM = cfg.PriceOutPerM
	return rc
}

// manifestKeyFor honors MANIFEST_KEY for the active document and the
// default layout for any other.
func manifestKeyFor(cfg *config.Config) func(string) string {
	return func(docID string) string {
		if docID == cfg.DocID && cfg.ManifestKey != "" {
			return cfg.ManifestKey
		}
		return ingestion_engine.ManifestKey(docID)
	}
}

// Start launches the refresh workers and schedules the first sync.
func (a *App) Start(ctx context.Context) {
	a.Coordinator.Start(ctx, ingestWorkers)
	if !a.Coordinator.Enqueue(a.Config.DocID) {
		logger.FromContext(ctx).Warn("initial sync not queued", "doc_id", a.Config.DocID)
	}
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
