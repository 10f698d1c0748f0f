// Package server exposes the engine over HTTP: pipeline submission,
// health and the live event stream. It is an observation and ingress
// surface only; execution semantics live in the engine.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v3"

	"github.com/shuttle-ci/shuttle/config"
	"github.com/shuttle-ci/shuttle/engine"
	"github.com/shuttle-ci/shuttle/event"
	"github.com/shuttle-ci/shuttle/log"
	"github.com/shuttle-ci/shuttle/pipeline"
	"github.com/shuttle-ci/shuttle/queue"
	"github.com/shuttle-ci/shuttle/runner"
	"github.com/shuttle-ci/shuttle/stash"
)

type Server struct {
	cfg    *config.Config
	eng    *engine.Engine
	events *event.Log
	jq     *queue.Queue
	l      *slog.Logger
}

func Command() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the shuttle server",
		Action: func(ctx context.Context, _ *cli.Command) error {
			return Run(ctx)
		},
	}
}

func Run(ctx context.Context) error {
	logger := log.SubLogger(log.FromContext(ctx), "server")

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := event.NewSqliteStore(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()
	events := event.NewLog(store)

	var rn runner.Runner
	switch cfg.Runner.Kind {
	case "docker":
		rn, err = runner.NewDocker(ctx, cfg.Runner.Image)
		if err != nil {
			return fmt.Errorf("failed to setup docker runner: %w", err)
		}
	case "local":
		rn = runner.NewLocal(ctx)
	default:
		return fmt.Errorf("unknown runner kind %q", cfg.Runner.Kind)
	}

	var persister stash.Persister
	switch cfg.Stash.Provider {
	case "redis":
		persister = stash.NewRedisPersister(cfg.Stash.RedisAddr, cfg.Stash.RedisTTL)
	case "memory":
	default:
		return fmt.Errorf("unknown stash provider %q", cfg.Stash.Provider)
	}

	eng := engine.New(ctx, rn, events, engine.Config{
		MaxConcurrency: cfg.Engine.MaxConcurrency,
		Workdir:        cfg.Engine.Workdir,
		StashPersister: persister,
	})

	// runs execute one at a time in submission order; branch
	// concurrency inside a run is the engine's business
	jq := queue.NewQueue(cfg.Server.QueueSize)
	jq.Start()
	defer jq.Stop()

	s := &Server{cfg: cfg, eng: eng, events: events, jq: jq, l: logger}

	logger.Info("starting shuttle server", "address", cfg.Server.ListenAddr)
	return http.ListenAndServe(cfg.Server.ListenAddr, s.Router())
}

func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()

	mux.HandleFunc("/events", s.Events)
	mux.Post("/pipelines", s.Submit)
	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return mux
}

// Submit accepts a YAML pipeline definition and enqueues one run of
// it. Validation failures are reported synchronously; execution
// progress streams over /events.
func (s *Server) Submit(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Submit")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := pipeline.Load(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	opts := pipeline.Options{
		FailFast:       s.cfg.Engine.FailFast,
		DefaultTimeout: s.cfg.Engine.DefaultTimeout,
		Branch:         r.URL.Query().Get("branch"),
		Tag:            r.URL.Query().Get("tag"),
	}

	ok := s.jq.Enqueue(queue.Job{
		Run: func() error {
			res, err := s.eng.Execute(context.WithoutCancel(r.Context()), p, opts)
			if err != nil {
				return err
			}
			l.Info("run finished", "pipeline", res.Pipeline, "run", res.RunID, "status", res.Status.String())
			return nil
		},
		OnFail: func(jobError error) {
			l.Error("pipeline run failed", "error", jobError)
		},
	})
	if !ok {
		l.Error("failed to enqueue pipeline: queue is full")
		http.Error(w, "queue is full", http.StatusServiceUnavailable)
		return
	}

	l.Info("pipeline enqueued", "pipeline", p.Name)
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "queued %s\n", p.Name)
}
