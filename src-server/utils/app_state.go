package utils

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"

	"edusched/src-server/academic"
	"edusched/src-server/conflict"
	"edusched/src-server/engine"
	"edusched/src-server/metric"
	"edusched/src-server/recurrence"
	"edusched/src-server/store"
)

type AppState struct {
	Config *Config
	BunDB  *bun.DB
	Store  *store.BunStore
	Engine *engine.Engine
	Metric *metric.Scheduler
	// date parser for the startText field of create requests
	When *when.Parser

	AppCloseSignalChan chan os.Signal

	// cancelled on shutdown; background loops run under it
	Ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	shutdownHooks []func()
}

func NewWhen() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

func NewAppState() *AppState {
	as := &AppState{
		AppCloseSignalChan: make(chan os.Signal, 1),
		When:               NewWhen(),
	}
	as.Ctx, as.cancel = context.WithCancel(context.Background())

	// env
	as.Config = NewConfig()

	// metrics
	as.Metric = metric.NewScheduler(prometheus.DefaultRegisterer)

	// database
	var err error
	as.BunDB, err = store.OpenSQLite(as.Config.GetDatabasePath())
	if err != nil {
		slog.Error("cannot open sqlite database", "error", err)
		os.Exit(1)
	}
	if err := store.CreateSchema(as.Ctx, as.BunDB); err != nil {
		slog.Error("can't create database schema", "error", err)
		os.Exit(1)
	}
	as.Store = store.NewBunStore(as.BunDB, as.Metric)

	// scheduling policy
	policies := conflict.NewPolicies(as.Config.GetPolicy())
	if path := as.Config.GetPolicyFile(); path != "" {
		policies, err = conflict.LoadPolicies(path, as.Config.GetPolicy())
		if err != nil {
			slog.Error("can't load policy file", "path", path, "error", err)
			os.Exit(1)
		}
	}

	// academic calendar; without one, events naming an academic year are rejected
	var provider academic.Provider
	if path := as.Config.GetAcademicCalendarFile(); path != "" {
		fp, err := academic.NewFileProvider(path)
		if err != nil {
			slog.Error("can't load academic calendar", "path", path, "error", err)
			os.Exit(1)
		}
		provider = fp
	}

	as.Engine = engine.New(engine.Deps{
		Store:    as.Store,
		Academic: provider,
		Metrics:  as.Metric,
		Policies: policies,
		Horizon:  as.Config.GetHorizon(),
		Expander: recurrence.Expander{MaxOccurrences: as.Config.GetMaxOccurrences()},
	})

	return as
}

// OnShutdown registers fn to run during GracefulShutdown, last registered
// first.
func (as *AppState) OnShutdown(fn func()) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.shutdownHooks = append(as.shutdownHooks, fn)
}

func (as *AppState) GracefulShutdown() {
	if as.cancel != nil {
		as.cancel()
	}
	as.mu.Lock()
	hooks := as.shutdownHooks
	as.shutdownHooks = nil
	as.mu.Unlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
	if as.BunDB != nil {
		if err := as.BunDB.Close(); err != nil {
			slog.Warn("can't close database", "error", err)
		}
	}
}
