// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/northbound/reflect-index/internal/config"
	"github.com/northbound/reflect-index/internal/embeddings"
	"github.com/northbound/reflect-index/internal/events"
	"github.com/northbound/reflect-index/internal/jobs"
	"github.com/northbound/reflect-index/internal/logger"
	"github.com/northbound/reflect-index/internal/queue"
	"github.com/northbound/reflect-index/internal/reflection"
	"github.com/northbound/reflect-index/internal/resolver"
	"github.com/northbound/reflect-index/internal/search"
	"github.com/northbound/reflect-index/internal/state"
	"github.com/northbound/reflect-index/internal/statusserver"
	"github.com/northbound/reflect-index/internal/vectorstore"
	"github.com/northbound/reflect-index/internal/watcher"
	"github.com/northbound/reflect-index/internal/worker"
)

var (
	httpPort    = flag.Int("http-port", 8090, "HTTP server port")
	logFile     = flag.String("log-file", "reflectindexd.log", "Log file path")
	workerCount = flag.Int("worker-count", 2, "Number of background reindex workers")
)

func main() {
	flag.Parse()

	if _, err := logger.Init(*logFile); err != nil {
		fmt.Printf("failed to initialize logger: %v, using stdout only\n", err)
	} else {
		logger.Printf("logger initialized, writing to %s", *logFile)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Printf("loaded config: logs_dir=%s qdrant_url=%s embedder=%s", cfg.LogsDir, cfg.QdrantURL, cfg.EmbedderKind())

	st, err := state.Load(cfg.StateFile)
	if err != nil {
		logger.Fatalf("failed to load watcher state: %v", err)
	}

	embedder, err := embeddings.NewEmbedder(cfg.EmbedderKind(), cfg.Embeddings)
	if err != nil {
		logger.Fatalf("failed to initialize embedder: %v", err)
	}
	defer embedder.Close()
	logger.Printf("initialized %s embedder (dimension %d)", embedder.Suffix(), embedder.Dimension())

	qdrantTarget := grpcTarget(cfg.QdrantURL)
	qdrantConn, err := grpc.NewClient(qdrantTarget, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Fatalf("failed to dial qdrant at %s: %v", qdrantTarget, err)
	}
	defer qdrantConn.Close()

	store, err := vectorstore.NewWithOptions(qdrantConn, cfg.VectorStore)
	if err != nil {
		logger.Fatalf("failed to initialize vector store: %v", err)
	}

	bus := events.NewBus()

	w, err := watcher.New(cfg.Watcher, st, embedder, store, bus)
	if err != nil {
		logger.Fatalf("failed to initialize watcher: %v", err)
	}

	watcherCtx, watcherCancel := context.WithCancel(context.Background())
	go func() {
		logger.Printf("starting watcher loop over %s", cfg.Watcher.LogsDir)
		if err := w.Run(watcherCtx); err != nil && err != context.Canceled {
			logger.Errorf("watcher stopped: %v", err)
		}
	}()

	r := resolver.New(store, cfg.LogsDir)
	embedders := map[string]embeddings.Embedder{embedder.Suffix(): embedder}
	engine := search.NewEngine(store, r, embedders)
	engine.DecayWeight = cfg.Search.DecayWeight
	engine.DecayScaleDays = cfg.Search.DecayScaleDays
	engine.UseNativeDecay = cfg.Search.UseNativeDecay
	engine.EnableDecay = cfg.Search.EnableDecay

	reflectionStore := reflection.New(store, embedder)

	statusSrv := statusserver.New(cfg.LogsDir, st, bus)
	searchHandler := search.NewHandler(engine, reflectionStore)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	redisClient, err := config.NewRedisClient(ctx)
	var jobQueue queue.Queue
	var workerCancel context.CancelFunc
	if err != nil {
		logger.Warnf("redis unavailable, reindex job queue disabled: %v", err)
	} else {
		jobQueue, err = queue.NewRedisQueue(redisClient, "reflectindexd:jobs")
		if err != nil {
			logger.Errorf("failed to create job queue: %v", err)
			jobQueue = nil
		} else {
			workerCtx, cancel := context.WithCancel(ctx)
			workerCancel = cancel
			handler := func(ctx context.Context, job queue.Job) error {
				switch job.Type {
				case jobs.JobTypeReindexProject:
					return jobs.HandleReindexProject(ctx, job, cfg.LogsDir, st)
				default:
					logger.Printf("unknown job type: %s", job.Type)
					return nil
				}
			}
			go func() {
				logger.Printf("starting %d reindex workers", *workerCount)
				if err := worker.StartWorkers(workerCtx, jobQueue, handler, *workerCount); err != nil {
					logger.Errorf("worker error: %v", err)
				}
			}()
		}
	}

	mux := http.NewServeMux()
	searchHandler.Mount(mux)
	statusSrv.Mount(mux)
	mux.HandleFunc("/admin/reindex", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if jobQueue == nil {
			http.Error(w, "job queue not available", http.StatusServiceUnavailable)
			return
		}
		project := r.URL.Query().Get("project")
		if project == "" {
			http.Error(w, "project is required", http.StatusBadRequest)
			return
		}
		err := jobs.EnqueueReindexProject(r.Context(), jobQueue, jobs.ReindexProjectPayload{
			Project:     project,
			RequestedAt: time.Now(),
			Reason:      "admin_api",
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *httpPort),
		Handler: mux,
	}

	go func() {
		logger.Printf("HTTP server listening on %d", *httpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	waitForShutdown(httpServer, watcherCancel, workerCancel)
}

// grpcTarget strips QDRANT_URL's scheme, since grpc.NewClient wants a bare
// host:port target and spec.md §6 documents QDRANT_URL with an http(s)
// prefix (e.g. "http://localhost:6333").
func grpcTarget(qdrantURL string) string {
	target := strings.TrimPrefix(qdrantURL, "https://")
	target = strings.TrimPrefix(target, "http://")
	return strings.TrimSuffix(target, "/")
}

func waitForShutdown(httpServer *http.Server, watcherCancel, workerCancel context.CancelFunc) {
	stopSig := make(chan os.Signal, 1)
	signal.Notify(stopSig, os.Interrupt, syscall.SIGTERM)
	<-stopSig

	logger.Println("shutting down")

	watcherCancel()
	if workerCancel != nil {
		workerCancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP shutdown error: %v", err)
	}

	if err := logger.GetDefault().Close(); err != nil {
		fmt.Printf("failed to close logger: %v\n", err)
	}
}
