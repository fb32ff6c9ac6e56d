// Copyright 2026 © The Erpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Command erpilot serves the role-aware ERP answer pipeline over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erpilot-ai/erpilot/pkg/audit"
	"github.com/erpilot-ai/erpilot/pkg/cache"
	"github.com/erpilot-ai/erpilot/pkg/config"
	"github.com/erpilot-ai/erpilot/pkg/core"
	"github.com/erpilot-ai/erpilot/pkg/erp"
	"github.com/erpilot-ai/erpilot/pkg/generation"
	"github.com/erpilot-ai/erpilot/pkg/insights"
	"github.com/erpilot-ai/erpilot/pkg/llm"
	"github.com/erpilot-ai/erpilot/pkg/orchestrator"
	"github.com/erpilot-ai/erpilot/pkg/rbac"
	"github.com/erpilot-ai/erpilot/pkg/rerank"
	"github.com/erpilot-ai/erpilot/pkg/retrieval"
	"github.com/erpilot-ai/erpilot/pkg/retrieval/graph"
	ollamaembed "github.com/erpilot-ai/erpilot/pkg/retrieval/ollama"
	"github.com/erpilot-ai/erpilot/pkg/retrieval/qdrant"
	"github.com/erpilot-ai/erpilot/pkg/telemetry"
	"github.com/erpilot-ai/erpilot/pkg/tool"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	listen := flag.String("listen", ":8090", "HTTP listen address")
	flag.Parse()

	if err := run(*configPath, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "erpilot: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, listen string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitWithConfig("erpilot", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	// Authorization policy: file-based when configured, built-in otherwise.
	policy := rbac.DefaultPolicy()
	if cfg.RBAC.PolicyPath != "" {
		policy, err = rbac.LoadPolicy(cfg.RBAC.PolicyPath)
		if err != nil {
			return fmt.Errorf("failed to load rbac policy: %w", err)
		}
	}
	table := rbac.NewTable(policy)

	provider := llm.NewOllama(cfg.LLM.BaseURL).WithVisionModel(cfg.LLM.VisionModel)

	embedder := ollamaembed.NewEmbedder(cfg.Embedder.BaseURL, cfg.Embedder.Model)
	vectorStore, err := qdrant.New(cfg.Vector.QdrantAddr, cfg.Vector.Collection, embedder, float32(cfg.Vector.ScoreThreshold))
	if err != nil {
		return fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	defer vectorStore.Close()

	graphLookup, err := graph.NewLookup(graph.Config{
		URI:             cfg.Graph.URI,
		Username:        cfg.Graph.Username,
		Password:        cfg.Graph.Password,
		Database:        cfg.Graph.Database,
		RestrictedRoles: cfg.Graph.RestrictedRoles,
	}, provider, cfg.LLM.Model, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	defer graphLookup.Close(context.Background())

	retriever := retrieval.NewEngine(vectorStore, graphLookup, table, retrieval.Config{
		K:             cfg.Retrieval.K,
		MaxCandidates: cfg.Retrieval.MaxCandidates,
		GraphTimeout:  cfg.Graph.Timeout,
	}, logger, metrics)

	reranker := rerank.New(rerank.LexicalScorer{}, logger, metrics)

	generator := generation.New(provider, generation.Config{
		Model:        cfg.LLM.Model,
		MaxTokens:    cfg.Generation.MaxTokens,
		Temperature:  cfg.Generation.Temperature,
		MaxAttempts:  cfg.Generation.MaxAttempts,
		InitialDelay: cfg.Generation.InitialDelay,
	}, logger, metrics)

	erpClient := erp.NewRESTClient(cfg.ERP.BaseURL, cfg.ERP.APIKey)
	caps := []tool.Capability{
		tool.NewClockCapability(nil),
		tool.NewCalcCapability(),
	}
	caps = append(caps, tool.NewERPCapabilities(erpClient)...)
	registry, err := tool.NewRegistry(caps...)
	if err != nil {
		return fmt.Errorf("failed to build capability registry: %w", err)
	}
	dispatcher := tool.NewDispatcher(registry, table, logger, metrics)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	defer redisClient.Close()
	responseCache := cache.New(redisClient, cfg.Cache.TTL, logger, metrics)

	auditStore, err := audit.Open(cfg.Audit.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	defer auditStore.Close()

	o := orchestrator.New(orchestrator.Deps{
		Retriever:  retriever,
		Reranker:   reranker,
		Generator:  generator,
		Dispatcher: dispatcher,
		Insights:   insights.NewBounded(insights.NewLLMEngine(provider, cfg.LLM.Model), 4),
		Images:     provider,
		Cache:      responseCache,
		Audit:      auditStore,
		Logger:     logger,
		Metrics:    metrics,
	}, orchestrator.Options{
		SingleFlight: cfg.Cache.SingleFlight,
		TopK:         cfg.Retrieval.RerankK,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/query", handleQuery(o, logger))
	mux.HandleFunc("POST /v1/query/stream", handleQueryStream(o, logger))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("erpilot listening", "addr", listen, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
	}
	return nil
}

func handleQuery(o *orchestrator.Orchestrator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q core.Query
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if q.Question == "" {
			http.Error(w, "question is required", http.StatusBadRequest)
			return
		}

		resp := o.Answer(r.Context(), q)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.WarnContext(r.Context(), "failed to write response", "error", err)
		}
	}
}

// handleQueryStream streams chunks as NDJSON.
func handleQueryStream(o *orchestrator.Orchestrator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q core.Query
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if q.Question == "" {
			http.Error(w, "question is required", http.StatusBadRequest)
			return
		}

		chunks, err := o.AnswerStream(r.Context(), q)
		if err != nil {
			http.Error(w, "failed to start stream", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		enc := json.NewEncoder(w)
		for chunk := range chunks {
			if chunk.Error != nil {
				logger.WarnContext(r.Context(), "stream aborted", "error", chunk.Error)
				return
			}
			if err := enc.Encode(chunk); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
