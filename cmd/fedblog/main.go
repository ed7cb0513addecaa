// fedblog runs the federation engine as a single binary: it serves the
// ActivityPub HTTP surface and drains the durable job queue against a
// SQLite (default) or PostgreSQL database.
//
// Usage:
//
//	export URL=https://blog.example
//	export PRIVATE_KEY_PEM="$(cat key.pem)"
//	./fedblog
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/klppl/fedblog/internal/config"
	"github.com/klppl/fedblog/internal/db"
	"github.com/klppl/fedblog/internal/engine"
	"github.com/klppl/fedblog/internal/httpclient"
	"github.com/klppl/fedblog/internal/keys"
	"github.com/klppl/fedblog/internal/server"
)

const userAgent = "fedblog/1.0"

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting fedblog")

	cfg := config.Load()
	slog.Info("config loaded", "url", cfg.URL, "database", cfg.DatabaseURL)

	store, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err, "url", cfg.DatabaseURL)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	keyPair, err := keys.LoadFromPEM(cfg.PrivateKeyPEM)
	if err != nil {
		slog.Error("failed to load RSA key pair", "error", err)
		os.Exit(1)
	}
	slog.Info("RSA key pair ready")

	env := &processEnv{baseURL: cfg.URL}
	eng := &engine.Engine{
		Articles:   store,
		Users:      store,
		Queue:      store,
		Env:        env,
		HTTP:       httpclient.New(cfg.HTTPClientTimeout, userAgent),
		SigningKey: keyPair.Private,
		Log:        slog.Default(),
	}

	srv := server.New(cfg, eng, store)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < cfg.QueueWorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(ctx, id, store, eng, cfg.QueuePollInterval)
		}(i)
	}

	srv.Start(ctx) // blocks until ctx is cancelled
	wg.Wait()

	slog.Info("fedblog stopped")
}

// runWorker repeatedly claims the oldest pending job and drives it through
// the engine, matching §5's "concurrency lives in the driver, not the state
// machine" design: Engine.Process itself spawns nothing.
func runWorker(ctx context.Context, id int, store *db.Store, eng *engine.Engine, pollInterval time.Duration) {
	log := slog.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, job, ok, err := store.ClaimNext(ctx)
		if err != nil {
			log.Error("claim next job failed", "error", err)
			sleep(ctx, pollInterval)
			continue
		}
		if !ok {
			sleep(ctx, pollInterval)
			continue
		}

		result, err := eng.Process(ctx, job)
		if err != nil {
			log.Error("job processing error", "event_type", job.EventType, "error", err)
		}
		switch result {
		case engine.Finished:
			if err := store.Finish(ctx, jobID); err != nil {
				log.Error("finish job failed", "job_id", jobID, "error", err)
			}
		case engine.Retry:
			if err := store.Requeue(ctx, jobID); err != nil {
				log.Error("requeue job failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// processEnv implements engine.Env against the process's own configuration.
type processEnv struct {
	baseURL string
}

func (e *processEnv) URL() string            { return e.baseURL }
func (e *processEnv) TimestampNow() time.Time { return time.Now().UTC() }
func (e *processEnv) SigningKeyID(username string) string {
	return e.baseURL + "/users/" + username + "#main-key"
}
