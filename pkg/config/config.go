package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	LLM        LLMConfig        `koanf:"llm"`
	Embedder   EmbedderConfig   `koanf:"embedder"`
	Vector     VectorConfig     `koanf:"vector"`
	Graph      GraphConfig      `koanf:"graph"`
	Cache      CacheConfig      `koanf:"cache"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Generation GenerationConfig `koanf:"generation"`
	RBAC       RBACConfig       `koanf:"rbac"`
	ERP        ERPConfig        `koanf:"erp"`
	Audit      AuditConfig      `koanf:"audit"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type LLMConfig struct {
	Provider    string `koanf:"provider"` // ollama
	Model       string `koanf:"model"`
	VisionModel string `koanf:"vision_model"`
	BaseURL     string `koanf:"base_url"`
}

type EmbedderConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

type VectorConfig struct {
	QdrantAddr     string `koanf:"qdrant_addr"`
	Collection     string `koanf:"collection"`
	ScoreThreshold float64 `koanf:"score_threshold"`
}

type GraphConfig struct {
	URI             string   `koanf:"uri"`
	Username        string   `koanf:"username"`
	Password        string   `koanf:"password"`
	Database        string   `koanf:"database"`
	RestrictedRoles []string `koanf:"restricted_roles"`
	Timeout         time.Duration `koanf:"timeout"`
}

type CacheConfig struct {
	RedisAddr    string        `koanf:"redis_addr"`
	TTL          time.Duration `koanf:"ttl"`
	SingleFlight bool          `koanf:"single_flight"`
}

type RetrievalConfig struct {
	K             int `koanf:"k"`
	MaxCandidates int `koanf:"max_candidates"`
	RerankK       int `koanf:"rerank_k"`
}

type GenerationConfig struct {
	MaxTokens    int           `koanf:"max_tokens"`
	Temperature  float64       `koanf:"temperature"`
	MaxAttempts  int           `koanf:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay"`
}

type RBACConfig struct {
	PolicyPath string `koanf:"policy_path"`
}

type ERPConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
}

type AuditConfig struct {
	SQLitePath string `koanf:"sqlite_path"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("telemetry.exporter", "stdout")

	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "llama3.1:8b-instruct-q5_K_M")
	k.Set("llm.vision_model", "llava")
	k.Set("llm.base_url", "http://localhost:11434")

	k.Set("embedder.base_url", "http://localhost:11434")
	k.Set("embedder.model", "nomic-embed-text")

	k.Set("vector.qdrant_addr", "localhost:6334")
	k.Set("vector.collection", "erp_knowledge")
	k.Set("vector.score_threshold", 0.0)

	k.Set("graph.uri", "bolt://localhost:7687")
	k.Set("graph.username", "neo4j")
	k.Set("graph.database", "neo4j")
	k.Set("graph.restricted_roles", []string{"sales_rep"})
	k.Set("graph.timeout", "5s")

	k.Set("cache.redis_addr", "localhost:6379")
	k.Set("cache.ttl", "1h")
	k.Set("cache.single_flight", true)

	k.Set("retrieval.k", 10)
	k.Set("retrieval.max_candidates", 20)
	k.Set("retrieval.rerank_k", 5)

	k.Set("generation.max_tokens", 1024)
	k.Set("generation.temperature", 0.7)
	k.Set("generation.max_attempts", 3)
	k.Set("generation.initial_delay", "200ms")

	k.Set("erp.base_url", "https://api.example-erp.com/v1")

	k.Set("audit.sqlite_path", "erpilot_audit.db")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (ERPILOT_CACHE_REDIS_ADDR -> cache.redis_addr)
	if err := k.Load(env.Provider("ERPILOT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "ERPILOT_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
