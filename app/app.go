// Package app owns the process-wide runtime services: the state store,
// recovery manager, retry manager, progress tracker, execution logger,
// streaming service, and HTTP server. An App is created once at startup
// and passed explicitly; initialization is idempotent per App.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/wrenchchatrepo/wrenchai-sub000/config"
	"github.com/wrenchchatrepo/wrenchai-sub000/execlog"
	"github.com/wrenchchatrepo/wrenchai-sub000/progress"
	"github.com/wrenchchatrepo/wrenchai-sub000/recovery"
	"github.com/wrenchchatrepo/wrenchai-sub000/retry"
	"github.com/wrenchchatrepo/wrenchai-sub000/server"
	"github.com/wrenchchatrepo/wrenchai-sub000/state"
	"github.com/wrenchchatrepo/wrenchai-sub000/store"
	"github.com/wrenchchatrepo/wrenchai-sub000/stream"
	"github.com/wrenchchatrepo/wrenchai-sub000/workflow"
)

// App is the application context.
type App struct {
	Config *config.Config
	Logger hclog.Logger

	State    *state.Store
	Recovery *recovery.Manager
	Retry    *retry.Manager
	Progress *progress.Tracker
	ExecLog  *execlog.Logger
	Streams  *stream.Service
	Index    store.Index
	Server   *server.Server

	graphs map[string]func() *workflow.Graph

	startOnce sync.Once
	stopOnce  sync.Once
	httpSrv   *http.Server
}

// New wires the runtime services from configuration. Call Start to launch
// the background loops and HTTP listener, Stop to shut down.
func New(cfg *config.Config) (*App, error) {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "wrenchai",
		Level: hclog.LevelFromString(cfg.Log.Level),
	})

	dataDir := cfg.Data.Dir
	stateStore := state.New(
		state.WithPersistenceDir(filepath.Join(dataDir, "state")),
		state.WithLogger(logger.Named("state")),
	)
	recoveryMgr := recovery.NewManager(stateStore,
		recovery.WithCheckpointDir(filepath.Join(dataDir, "checkpoints")),
		recovery.WithAutoCheckpointInterval(cfg.Checkpoint.AutoInterval),
		recovery.WithRetryPolicy(recovery.Policy{
			MaxRetries:    cfg.Retry.MaxRetries,
			InitialDelay:  cfg.Retry.InitialDelay,
			MaxDelay:      cfg.Retry.MaxDelay,
			BackoffFactor: 2.0,
			Jitter:        true,
			RetryOn: recovery.NewCategorySet(
				recovery.CategoryTransient, recovery.CategoryResource,
				recovery.CategoryDependency, recovery.CategoryTimeout,
			),
		}),
		recovery.WithLogger(logger.Named("recovery")),
	)
	retryMgr := retry.NewManager(
		retry.WithLogger(logger.Named("retry")),
		retry.WithMonitorDir(filepath.Join(dataDir, "retry")),
	)
	tracker := progress.NewTracker(
		progress.WithPersistenceDir(filepath.Join(dataDir, "progress")),
		progress.WithCheckpointInterval(cfg.Progress.CheckpointInterval),
		progress.WithBroadcastInterval(cfg.Progress.BroadcastInterval),
		progress.WithHistoryWindow(cfg.Progress.HistoryWindow),
		progress.WithLogger(logger.Named("progress")),
	)

	index, err := openIndex(cfg, dataDir)
	if err != nil {
		return nil, err
	}

	logOpts := []execlog.LoggerOption{
		execlog.WithStateStore(stateStore),
		execlog.WithProgressTracker(tracker),
		execlog.WithLogger(logger.Named("execlog")),
	}
	if index != nil {
		logOpts = append(logOpts, execlog.WithPersistHook(func(rec *execlog.Record) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := index.SaveExecution(ctx, rec); err != nil {
				logger.Warn("execution index save failed", "execution_id", rec.ExecutionID, "error", err)
			}
		}))
	}
	execLogger := execlog.NewLogger(filepath.Join(dataDir, "executions"), logOpts...)

	streams := stream.NewService(tracker, logger.Named("stream"))

	a := &App{
		Config:   cfg,
		Logger:   logger,
		State:    stateStore,
		Recovery: recoveryMgr,
		Retry:    retryMgr,
		Progress: tracker,
		ExecLog:  execLogger,
		Streams:  streams,
		Index:    index,
		graphs:   make(map[string]func() *workflow.Graph),
	}
	a.Server = server.New(server.RunnerFunc(a.runPlaybook), execLogger, tracker, streams, logger.Named("server"))
	tracker.SetBroadcaster(a.Server.Hub())
	a.registerBuiltinGraphs()
	return a, nil
}

func openIndex(cfg *config.Config, dataDir string) (store.Index, error) {
	switch cfg.Index.Driver {
	case "", "memory":
		return store.NewMemIndex(), nil
	case "sqlite":
		dsn := cfg.Index.DSN
		if dsn == "" {
			dsn = filepath.Join(dataDir, "wrenchai.db")
		}
		return store.NewSQLiteIndex(dsn)
	case "mysql":
		if cfg.Index.DSN == "" {
			return nil, fmt.Errorf("index driver mysql requires a DSN")
		}
		return store.NewMySQLIndex(cfg.Index.DSN)
	default:
		return nil, fmt.Errorf("unknown index driver %q", cfg.Index.Driver)
	}
}

// RegisterGraph makes a named workflow graph available to the playbook
// execution API. The builder runs once per execution so node closures stay
// run-scoped.
func (a *App) RegisterGraph(name string, build func() *workflow.Graph) {
	a.graphs[name] = build
}

// runPlaybook is the server's Runner: it resolves the named graph and
// executes it under the full subsystem stack.
func (a *App) runPlaybook(ctx context.Context, req server.RunRequest) (*workflow.Result, error) {
	build, ok := a.graphs[req.Name]
	if !ok {
		return nil, fmt.Errorf("playbook %q is not registered", req.Name)
	}
	engine, err := workflow.NewEngine(build(), a.State, a.Recovery,
		workflow.WithRetryManager(a.Retry),
		workflow.WithProgressTracker(a.Progress),
		workflow.WithExecutionLogger(a.ExecLog),
		workflow.WithLogger(a.Logger.Named("workflow")),
	)
	if err != nil {
		return nil, err
	}
	params := req.Parameters
	if params == nil {
		params = map[string]any{}
	}
	params["project"] = map[string]any{
		"name":           req.Project.Name,
		"description":    req.Project.Description,
		"repository_url": req.Project.RepositoryURL,
		"branch":         req.Project.Branch,
	}
	if len(req.Agents) > 0 {
		params["agents"] = req.Agents
	}
	return engine.Run(ctx, req.Name, params)
}

// Start launches the progress loops and the HTTP listener. It is
// idempotent and returns without waiting for the listener: listening and
// serving happen on a background goroutine, which logs a listen failure.
func (a *App) Start() error {
	var startErr error
	a.startOnce.Do(func() {
		a.Progress.Start()
		a.httpSrv = &http.Server{
			Addr:              a.Config.Server.Addr,
			Handler:           a.Server.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.Logger.Info("http server listening", "addr", a.Config.Server.Addr)
			if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.Logger.Error("http server stopped", "error", err)
			}
		}()
	})
	return startErr
}

// Stop shuts the runtime down: the HTTP server drains, the progress loops
// join, state is saved, and the index closes. Idempotent.
func (a *App) Stop(ctx context.Context) {
	a.stopOnce.Do(func() {
		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				a.Logger.Warn("http shutdown", "error", err)
			}
		}
		a.Progress.Stop()
		if err := a.State.Save(""); err != nil {
			a.Logger.Warn("state save on shutdown", "error", err)
		}
		if a.Index != nil {
			if err := a.Index.Close(); err != nil {
				a.Logger.Warn("index close", "error", err)
			}
		}
		a.Logger.Info("runtime stopped")
	})
}
