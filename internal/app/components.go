package app

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/todddickerson/overskill-sub011/internal/autofix"
	"github.com/todddickerson/overskill-sub011/internal/build"
	"github.com/todddickerson/overskill-sub011/internal/config"
	"github.com/todddickerson/overskill-sub011/internal/coordinator"
	"github.com/todddickerson/overskill-sub011/internal/deploy"
	"github.com/todddickerson/overskill-sub011/internal/escalate"
	"github.com/todddickerson/overskill-sub011/internal/hosting"
	"github.com/todddickerson/overskill-sub011/internal/notify"
	"github.com/todddickerson/overskill-sub011/internal/pipeline"
	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
	"github.com/todddickerson/overskill-sub011/internal/toolchain"
)

// Components is the wired object graph shared by the server and the CLI.
type Components struct {
	Config      *config.Config
	Log         *zap.Logger
	Sources     sourcefile.Store
	Builder     *build.Orchestrator
	Deployer    *deploy.Orchestrator
	Pipeline    *pipeline.Service
	Hub         *notify.Hub
	Coordinator *coordinator.Coordinator

	stores *stores
}

func NewComponents(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Components, error) {
	if log == nil {
		log = zap.NewNop()
	}
	st, err := initStores(cfg, log)
	if err != nil {
		return nil, err
	}

	hub := notify.NewHub()

	var esc build.Escalator
	if cfg.Features.AIFixEscalation {
		gen, err := escalate.NewGeminiClient(ctx, cfg.AI.APIKey, cfg.AI.Model)
		if err != nil {
			log.Warn("fix escalation disabled", zap.Error(err))
		} else {
			esc = escalate.New(gen, st.sources, log)
			log.Info("fix escalation enabled", zap.String("model", gen.Name()))
		}
	}

	tool := toolchain.NewExecToolchain(cfg.Build.Command, cfg.Build.Timeout, log)
	builder := build.New(st.sources, tool, nil, autofix.New(st.sources, log), esc, build.Options{
		MaxAttempts:    cfg.Build.MaxAttempts,
		OutputDir:      cfg.Build.OutputDir,
		WorkRoot:       cfg.Build.WorkRoot,
		BackendURL:     cfg.Backend.URL,
		BackendAnonKey: cfg.Backend.AnonKey,
		OnTransition: func(appID string, _, to build.State, attempt int) {
			hub.Broadcast(appID, notify.Message{Kind: notify.KindBuildState, State: string(to), Content: attemptLabel(attempt)})
		},
	}, log)

	var provider hosting.Provider
	if client, err := hosting.NewClient(hosting.Config{
		BaseURL:   cfg.Hosting.APIBaseURL,
		AccountID: cfg.Hosting.AccountID,
		ZoneID:    cfg.Hosting.ZoneID,
		APIToken:  cfg.Hosting.APIToken,
		APIKey:    cfg.Hosting.APIKey,
		APIEmail:  cfg.Hosting.APIEmail,
	}, log); err != nil {
		log.Warn("hosting client unavailable; deployments will report missing configuration", zap.Error(err))
	} else {
		provider = client
	}
	deployer := deploy.New(cfg, provider, st.assets, st.records, log)

	svc := pipeline.New(builder, deployer, strings.TrimSuffix(st.assets.URL(""), "/"), hub, log)

	coord := coordinator.New(coordinator.Options{
		MaxConcurrent: cfg.Coordinator.MaxConcurrent,
		ResultTTL:     cfg.Coordinator.ResultTTL,
		OnFileChange:  func(appID, _ string) { st.cache.Invalidate(appID) },
	}, hub, deployer, log)

	return &Components{
		Config:      cfg,
		Log:         log,
		Sources:     st.sources,
		Builder:     builder,
		Deployer:    deployer,
		Pipeline:    svc,
		Hub:         hub,
		Coordinator: coord,
		stores:      st,
	}, nil
}

// WatchSources starts a directory watcher for appID when sources live on
// disk. Other backends learn about changes through the files endpoint.
func (c *Components) WatchSources(appID string) error {
	dir := c.stores.dir
	if dir == nil {
		return nil
	}
	return c.Coordinator.Watch(appID, func(ctx context.Context, appID string, onChange func(sourcefile.Change)) error {
		return dir.Watch(ctx, appID, c.Log, onChange)
	})
}

func (c *Components) Close() error {
	c.Coordinator.Close()
	return c.stores.Close()
}

func attemptLabel(attempt int) string {
	if attempt <= 0 {
		return ""
	}
	return "attempt " + strconv.Itoa(attempt)
}
