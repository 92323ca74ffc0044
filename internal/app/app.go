// Package app wires configuration, stores and services into a runnable
// server.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/todddickerson/overskill-sub011/internal/config"
	"github.com/todddickerson/overskill-sub011/internal/notify"
	"github.com/todddickerson/overskill-sub011/internal/pipeline"
	"github.com/todddickerson/overskill-sub011/internal/server"
)

type App struct {
	comps  *Components
	server *server.Server
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	comps, err := NewComponents(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	api := server.NewAPI(comps.Coordinator, &watchingPipeline{Service: comps.Pipeline, comps: comps}, comps.Sources, comps.Deployer, comps.Log)
	events := notify.NewHandler(comps.Hub, server.AppID, comps.Log)
	srv := server.New(cfg.Server.Port, server.NewMux(api, events, cfg.Server.AllowedOrigins), comps.Log)

	return &App{comps: comps, server: srv}, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if cerr := a.comps.Close(); err == nil {
		err = cerr
	}
	return err
}

// watchingPipeline starts watching an app's sources once it has a live
// deployment, so later edits reach preview subscribers.
type watchingPipeline struct {
	*pipeline.Service
	comps *Components
}

func (p *watchingPipeline) BuildAndDeploy(ctx context.Context, appID, env string) pipeline.Result {
	res := p.Service.BuildAndDeploy(ctx, appID, env)
	if res.Success {
		if err := p.comps.WatchSources(appID); err != nil {
			p.comps.Log.Warn("source watch not started", zap.String("app_id", appID), zap.Error(err))
		}
	}
	return res
}
