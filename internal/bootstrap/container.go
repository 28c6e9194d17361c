package bootstrap

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"ragcore-service/internal/config"
	"ragcore-service/internal/pkg/logger"
	"ragcore-service/pkg/ragcore/chunk"
	"ragcore-service/pkg/ragcore/embedding"
	"ragcore-service/pkg/ragcore/generator"
	"ragcore-service/pkg/ragcore/ingest"
	"ragcore-service/pkg/ragcore/job"
	"ragcore-service/pkg/ragcore/lexical"
	"ragcore-service/pkg/ragcore/llm"
	"ragcore-service/pkg/ragcore/memory"
	"ragcore-service/pkg/ragcore/orchestrator"
	"ragcore-service/pkg/ragcore/planner"
	"ragcore-service/pkg/ragcore/retriever"
	"ragcore-service/pkg/ragcore/vectorindex"
)

// Container holds every wired RAG-core collaborator, the way the
// teacher's bootstrap.Container holds its services and controllers.
type Container struct {
	Logger logger.ILogger

	JobStore job.Store
	JobQueue job.Queue

	VectorStore  vectorindex.Store
	LexicalStore lexical.Store

	Embedder   *embedding.Embedder
	LLM        llm.Provider
	Retriever  *retriever.Retriever
	Memory     *memory.Memory
	Planner    *planner.Planner
	Generator  *generator.Generator

	Orchestrator *orchestrator.Orchestrator
	Worker       *ingest.Worker
}

// NewContainer wires config into every collaborator. A nil db (e.g. local
// smoke-testing without Postgres) switches the vector and job stores to
// their in-memory implementations; production wiring always supplies a
// live *gorm.DB.
func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{Addr: cfg.App.RedisURL}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}

	llmProvider := llm.NewOllamaProvider(cfg.LLM.BaseURL, cfg.LLM.Model)

	var embedProvider embedding.Provider = embedding.NewHTTPProvider(cfg.Embed.BaseURL, cfg.Embed.Model, cfg.Embed.Dimension)
	embedder := embedding.New(embedProvider, embedding.WithMaxBatch(cfg.Embed.MaxBatch))

	var vectorStore vectorindex.Store
	var jobStore job.Store
	if db != nil {
		vectorStore = vectorindex.NewPGVectorStore(db)
		jobStore = job.NewGORMStore(db)
	} else {
		log.Printf("[WARN] No database connection; falling back to in-memory vector and job stores")
		vectorStore = vectorindex.NewMemoryStore()
		jobStore = job.NewMemoryStore()
	}

	lexicalStore, err := lexical.NewFileStore(cfg.App.ChunksDir)
	if err != nil {
		log.Fatalf("[FATAL] Failed to open lexical index at %s: %v", cfg.App.ChunksDir, err)
	}

	var jobQueue job.Queue
	natsQueue, err := job.NewNATSQueue(cfg.NATS.URL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS JetStream: %v. Falling back to in-process queue", err)
		jobQueue = job.NewMemoryQueue()
	} else {
		jobQueue = natsQueue
	}

	splitter := chunk.New(cfg.Chunk.Size, cfg.Chunk.Overlap)

	reranker := retriever.NewLLMReranker(llmProvider)
	cachedEmbedFn := embedding.CachedQueryEmbedFn(embedFn(embedder), 5*time.Minute)
	retr := retriever.New(vectorStore, lexicalStore, cachedEmbedFn, retriever.WithReranker(reranker),
		retriever.WithTopKs(cfg.Retrieve.RetrievalTopK, cfg.Retrieve.RerankTopK, cfg.Retrieve.FinalTopK))

	mem := memory.New(rdb, llmProvider, memory.WithWindow(cfg.Memory.Window), memory.WithTTL(cfg.Memory.TTL))
	plan := planner.New(llmProvider)
	gen := generator.New(llmProvider)

	var expander orchestrator.QueryExpander
	if cfg.Retrieve.EnableQueryExpansion {
		expander = orchestrator.NewLLMQueryExpander(llmProvider)
	}

	orch := orchestrator.New(plan, retr, gen, mem, expander,
		orchestrator.WithMaxRetries(cfg.Retrieve.MaxRetries),
		orchestrator.WithQueryExpansion(cfg.Retrieve.EnableQueryExpansion),
	)

	worker := ingest.New(jobQueue, jobStore, splitter, embedder, vectorStore, lexicalStore)

	return &Container{
		Logger:       sysLogger,
		JobStore:     jobStore,
		JobQueue:     jobQueue,
		VectorStore:  vectorStore,
		LexicalStore: lexicalStore,
		Embedder:     embedder,
		LLM:          llmProvider,
		Retriever:    retr,
		Memory:       mem,
		Planner:      plan,
		Generator:    gen,
		Orchestrator: orch,
		Worker:       worker,
	}
}

// embedFn adapts the batching Embedder to the single-query embed closure
// the Retriever needs to turn a user's query into a search vector.
func embedFn(e *embedding.Embedder) func(ctx context.Context, query string) ([]float32, error) {
	return func(ctx context.Context, query string) ([]float32, error) {
		vectors, _, err := e.Embed(ctx, []string{query})
		if err != nil {
			return nil, err
		}
		return vectors[0], nil
	}
}
