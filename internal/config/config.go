package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Chunk    ChunkConfig
	Retrieve RetrieveConfig
	Memory   MemoryConfig
	Embed    EmbedConfig
	LLM      LLMConfig
	Persona  TenantPersonaDefaults
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	RedisURL           string
	ChunksDir          string
	UploadDir          string
}

type DatabaseConfig struct {
	Connection string
}

type NATSConfig struct {
	URL            string
	DurableName    string
	WorkerCount    int
}

// ChunkConfig carries CHUNK_SIZE/CHUNK_OVERLAP from spec.md §6.
type ChunkConfig struct {
	Size    int
	Overlap int
}

// RetrieveConfig carries the Hybrid Retriever's top-k ladder and the
// query-expansion retry settings from spec.md §6.
type RetrieveConfig struct {
	RetrievalTopK        int
	RerankTopK           int
	FinalTopK            int
	EnableQueryExpansion bool
	MaxRetries           int
}

// MemoryConfig carries the Conversation Memory window from spec.md §6.
type MemoryConfig struct {
	Window int
	TTL    time.Duration
}

type EmbedConfig struct {
	Provider  string // "http"
	BaseURL   string
	Model     string
	Dimension int
	MaxBatch  int
}

type LLMConfig struct {
	Provider  string // "ollama"
	BaseURL   string
	Model     string
}

// TenantPersonaDefaults carries the fallback persona fields spec.md §4.8/§6
// names (industry, brand tone, permitted languages, declared capabilities,
// prohibitions). A tenant's own persona record, once a per-tenant store
// exists, overrides these; until then every tenant gets these defaults.
type TenantPersonaDefaults struct {
	Industry     string
	BrandTone    string
	Languages    []string
	Capabilities []string
	Constraints  []string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log.csv"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			ChunksDir:          getEnv("CHUNKS_DIR", "./data/lexical"),
			UploadDir:          getEnv("UPLOAD_DIR", "./data/uploads"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		NATS: NATSConfig{
			URL:         getEnv("NATS_URL", "nats://localhost:4222"),
			DurableName: getEnv("INGEST_DURABLE_NAME", "ingestion-worker"),
			WorkerCount: getEnvAsInt("INGEST_WORKER_COUNT", 1),
		},
		Chunk: ChunkConfig{
			Size:    getEnvAsInt("CHUNK_SIZE", 512),
			Overlap: getEnvAsInt("CHUNK_OVERLAP", 50),
		},
		Retrieve: RetrieveConfig{
			RetrievalTopK:        getEnvAsInt("RETRIEVAL_TOP_K", 20),
			RerankTopK:           getEnvAsInt("RERANK_TOP_K", 10),
			FinalTopK:            getEnvAsInt("FINAL_TOP_K", 5),
			EnableQueryExpansion: getEnvAsBool("ENABLE_QUERY_EXPANSION", true),
			MaxRetries:           getEnvAsInt("MAX_RETRIES", 1),
		},
		Memory: MemoryConfig{
			Window: getEnvAsInt("MEMORY_WINDOW", 10),
			TTL:    getEnvAsDuration("MEMORY_TTL", 24*time.Hour),
		},
		Embed: EmbedConfig{
			Provider:  getEnv("EMBEDDING_PROVIDER", "http"),
			BaseURL:   getEnv("EMBEDDING_BASE_URL", "http://localhost:11434"),
			Model:     getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			Dimension: getEnvAsInt("EMBEDDING_DIMENSION", 1536),
			MaxBatch:  getEnvAsInt("EMBEDDING_MAX_BATCH", 128),
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", "ollama"),
			BaseURL:  getEnv("LLM_BASE_URL", "http://localhost:11434"),
			Model:    getEnv("LLM_MODEL", "llama3"),
		},
		Persona: TenantPersonaDefaults{
			Industry:     getEnv("PERSONA_INDUSTRY", "general business"),
			BrandTone:    getEnv("PERSONA_BRAND_TONE", "neutral and professional"),
			Languages:    getEnvAsList("PERSONA_LANGUAGES", []string{"en"}),
			Capabilities: getEnvAsList("PERSONA_CAPABILITIES", []string{"answer questions from the provided corpus"}),
			Constraints:  getEnvAsList("PERSONA_CONSTRAINTS", []string{"never answer from outside the provided context"}),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	strValue, exists := os.LookupEnv(key)
	if !exists || strValue == "" {
		return fallback
	}
	parts := strings.Split(strValue, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
