// Package pipeline chains build, package and deploy for one app.
package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/todddickerson/overskill-sub011/internal/build"
	"github.com/todddickerson/overskill-sub011/internal/deploy"
	"github.com/todddickerson/overskill-sub011/internal/notify"
	"github.com/todddickerson/overskill-sub011/internal/packager"
)

type Stage string

const (
	StageBuild   Stage = "build"
	StagePackage Stage = "package"
	StageDeploy  Stage = "deploy"
	StageDone    Stage = "done"
)

type Builder interface {
	Build(ctx context.Context, appID string) build.Result
}

type Deployer interface {
	Deploy(ctx context.Context, art *packager.Artifact) deploy.Result
}

type Broadcaster interface {
	Broadcast(appID string, msg notify.Message) int
}

type Result struct {
	AppID       string
	Environment string
	Success     bool
	Stage       Stage
	URL         string
	Error       string
	Build       build.Result
	Deploy      *deploy.Result
	Duration    time.Duration
}

type Service struct {
	builder      Builder
	deployer     Deployer
	hub          Broadcaster
	assetBaseURL string
	log          *zap.Logger
}

// New wires the stages. hub may be nil.
func New(builder Builder, deployer Deployer, assetBaseURL string, hub Broadcaster, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{builder: builder, deployer: deployer, hub: hub, assetBaseURL: assetBaseURL, log: log}
}

func (s *Service) Build(ctx context.Context, appID string) build.Result {
	return s.builder.Build(ctx, appID)
}

// BuildAndDeploy stops at the first stage that fails.
func (s *Service) BuildAndDeploy(ctx context.Context, appID, env string) Result {
	start := time.Now()
	env = strings.TrimSpace(env)
	if env == "" {
		env = "preview"
	}
	res := Result{AppID: appID, Environment: env, Stage: StageBuild}
	if err := validateTarget(appID, env); err != nil {
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res
	}
	log := s.log.With(zap.String("app_id", appID), zap.String("env", env))
	done := func() Result {
		res.Duration = time.Since(start)
		s.announce(res)
		return res
	}

	res.Build = s.builder.Build(ctx, appID)
	if !res.Build.Success {
		res.Error = res.Build.Error
		log.Warn("build failed", zap.Int("attempts", res.Build.Attempts), zap.String("reason", res.Build.Reason))
		return done()
	}

	res.Stage = StagePackage
	art, err := packager.Package(res.Build.Files, packager.Options{
		AppID:        appID,
		Environment:  env,
		AssetBaseURL: s.assetBaseURL,
	})
	if err != nil {
		res.Error = err.Error()
		log.Warn("packaging failed", zap.Error(err))
		return done()
	}
	log.Info("packaged artifact",
		zap.Int("inline", len(art.Inline)),
		zap.Int("offloaded", len(art.Assets)),
		zap.String("digest", art.Digest))

	res.Stage = StageDeploy
	dep := s.deployer.Deploy(ctx, art)
	res.Deploy = &dep
	if !dep.Success {
		res.Error = dep.Error
		return done()
	}
	res.Stage = StageDone
	res.Success = true
	res.URL = dep.URL
	return done()
}

func validateTarget(appID, env string) error {
	if err := packager.ValidateAppID(appID); err != nil {
		return err
	}
	return packager.ValidateEnvironment(env)
}

func (s *Service) announce(res Result) {
	if s.hub == nil {
		return
	}
	msg := notify.Message{Kind: notify.KindBuildState, State: string(res.Stage)}
	if res.Success {
		msg = notify.Message{Kind: notify.KindDeployed, State: string(res.Stage), URL: res.URL}
	} else {
		msg.Content = res.Error
	}
	s.hub.Broadcast(res.AppID, msg)
}
