// Package deploy publishes a packaged artifact to the hosting provider.
// Code upload and secrets are critical; asset uploads, routes and the
// final record are best-effort and reported alongside the result.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/todddickerson/overskill-sub011/internal/config"
	"github.com/todddickerson/overskill-sub011/internal/hosting"
	"github.com/todddickerson/overskill-sub011/internal/objectstore"
	"github.com/todddickerson/overskill-sub011/internal/packager"
)

type Result struct {
	Success       bool
	DeploymentID  string
	ScriptName    string
	URL           string
	SubdomainURL  string
	Routes        []string
	UploadedFiles []string
	Failures      []string
	Warnings      []string
	Error         string
	Duration      time.Duration
}

type Orchestrator struct {
	cfg      *config.Config
	provider hosting.Provider
	assets   objectstore.Store
	records  RecordStore
	log      *zap.Logger
	now      func() time.Time
}

func New(cfg *config.Config, provider hosting.Provider, assets objectstore.Store, records RecordStore, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if records == nil {
		records = NewMemoryRecordStore()
	}
	return &Orchestrator{cfg: cfg, provider: provider, assets: assets, records: records, log: log, now: time.Now}
}

// scriptName is the deterministic per-app resource name every upsert is
// keyed by.
func (o *Orchestrator) scriptName(appID, env string) string {
	return packager.ScriptName(o.cfg.Hosting.ScriptPrefix, appID, env)
}

// RoutePatterns lists the custom-domain routes for an app environment. An
// empty base domain means the app is only reachable on its subdomain URL.
func RoutePatterns(baseDomain, appID, env string) []string {
	domain := strings.Trim(strings.TrimSpace(baseDomain), ".")
	if domain == "" {
		return nil
	}
	host := strings.ToLower(appID) + "." + domain
	if env != "production" {
		host = env + "-" + host
		return []string{host + "/*"}
	}
	return []string{host + "/*", "www." + host + "/*"}
}

// Deploy runs the ordered deployment sequence for art.
func (o *Orchestrator) Deploy(ctx context.Context, art *packager.Artifact) Result {
	start := o.now()
	res := Result{DeploymentID: uuid.NewString()}
	finish := func() Result {
		res.Duration = o.now().Sub(start)
		return res
	}
	if art == nil {
		res.Error = "no artifact to deploy"
		return finish()
	}
	if err := validateTarget(art.AppID, art.Environment); err != nil {
		res.Error = err.Error()
		return finish()
	}

	if missing := o.cfg.MissingDeployConfig(); len(missing) > 0 {
		res.Error = "missing deployment configuration: " + strings.Join(missing, ", ")
		return finish()
	}
	if o.provider == nil || o.assets == nil {
		res.Error = "deployment collaborators are not configured"
		return finish()
	}

	log := o.log.With(zap.String("app_id", art.AppID), zap.String("env", art.Environment), zap.String("deployment_id", res.DeploymentID))
	name := o.scriptName(art.AppID, art.Environment)
	res.ScriptName = name

	// 1. Code.
	if err := o.provider.UploadScript(ctx, name, art.Script); err != nil {
		log.Error("script upload failed", zap.Error(err))
		res.Error = fmt.Sprintf("upload script %s: %v", name, err)
		return finish()
	}

	// 2. Assets, each independently.
	for _, a := range art.Assets {
		err := o.assets.Put(ctx, objectstore.Object{
			Key:          a.Key,
			Content:      a.Content,
			ContentType:  a.ContentType,
			CacheControl: a.CacheControl,
			Metadata:     map[string]string{"app-id": art.AppID, "sha256": a.SHA256},
		})
		if err != nil {
			log.Warn("asset upload failed", zap.String("path", a.Path), zap.Error(err))
			res.Failures = append(res.Failures, fmt.Sprintf("asset %s: %v", a.Path, err))
			continue
		}
		res.UploadedFiles = append(res.UploadedFiles, a.Path)
	}

	// 3. Secrets.
	for _, s := range o.secrets() {
		if err := o.provider.PutSecret(ctx, name, s.name, s.value); err != nil {
			log.Error("secret configuration failed", zap.String("secret", s.name), zap.Error(err))
			res.Error = fmt.Sprintf("configure secret %s: %v", s.name, err)
			return finish()
		}
	}

	// 4. Routing.
	sub, err := o.provider.EnableSubdomain(ctx, name)
	if err != nil {
		log.Warn("enable subdomain failed", zap.Error(err))
		res.Warnings = append(res.Warnings, fmt.Sprintf("enable subdomain: %v", err))
	}
	res.SubdomainURL = sub

	patterns := RoutePatterns(o.cfg.Hosting.BaseDomain, art.AppID, art.Environment)
	routeFailed := false
	for _, p := range patterns {
		err := o.provider.CreateRoute(ctx, p, name)
		if err != nil && !errors.Is(err, hosting.ErrRouteExists) {
			log.Warn("route configuration failed", zap.String("pattern", p), zap.Error(err))
			res.Failures = append(res.Failures, fmt.Sprintf("route %s: %v", p, err))
			routeFailed = true
			continue
		}
		res.Routes = append(res.Routes, p)
	}
	if len(res.Routes) > 0 && !routeFailed {
		res.URL = "https://" + strings.TrimSuffix(res.Routes[0], "/*")
	} else {
		res.URL = sub
	}
	if res.URL == "" {
		log.Error("deployment has no reachable url")
		res.Error = "deployment has no reachable URL: subdomain and custom routes are both unavailable"
		return finish()
	}
	res.Success = true

	// 5. Finalize.
	rec := Record{
		AppID:        art.AppID,
		Environment:  art.Environment,
		DeploymentID: res.DeploymentID,
		ScriptName:   name,
		URL:          res.URL,
		SubdomainURL: res.SubdomainURL,
		Routes:       res.Routes,
		DeployedAt:   o.now().UTC(),
		Status:       StatusComplete,
	}
	if err := o.records.Save(ctx, rec); err != nil {
		log.Warn("deployment record not saved", zap.Error(err))
		res.Warnings = append(res.Warnings, fmt.Sprintf("finalize: %v", err))
	}

	log.Info("deployment finished",
		zap.String("url", res.URL),
		zap.Int("assets", len(res.UploadedFiles)),
		zap.Int("failures", len(res.Failures)))
	return finish()
}

func validateTarget(appID, env string) error {
	if err := packager.ValidateAppID(appID); err != nil {
		return err
	}
	return packager.ValidateEnvironment(env)
}

type secret struct{ name, value string }

func (o *Orchestrator) secrets() []secret {
	return []secret{
		{packager.SecretBackendURL, o.cfg.Backend.URL},
		{packager.SecretAnonKey, o.cfg.Backend.AnonKey},
		{packager.SecretServiceKey, o.cfg.Backend.ServiceKey},
	}
}

type TeardownResult struct {
	ScriptName    string
	DeletedAssets int
}

// Teardown removes an app environment's offloaded assets, its script and
// its record.
func (o *Orchestrator) Teardown(ctx context.Context, appID, env string) (TeardownResult, error) {
	if err := validateTarget(appID, env); err != nil {
		return TeardownResult{}, err
	}
	res := TeardownResult{ScriptName: o.scriptName(appID, env)}
	if o.assets == nil {
		return res, fmt.Errorf("object store is not configured")
	}
	prefix := packager.AssetPrefix(appID, env)
	keys, err := o.assets.List(ctx, prefix)
	if err != nil {
		return res, fmt.Errorf("list assets: %w", err)
	}
	if len(keys) > 0 {
		n, err := o.assets.DeleteByPrefix(ctx, prefix)
		res.DeletedAssets = n
		if err != nil {
			return res, fmt.Errorf("delete assets: %w", err)
		}
	}
	if o.provider != nil {
		if err := o.provider.DeleteScript(ctx, res.ScriptName); err != nil {
			return res, fmt.Errorf("delete script: %w", err)
		}
	}
	if err := o.records.Delete(ctx, appID, env); err != nil {
		return res, fmt.Errorf("delete record: %w", err)
	}
	o.log.Info("teardown finished", zap.String("app_id", appID), zap.String("env", env), zap.Int("assets", res.DeletedAssets))
	return res, nil
}

// Live reports whether a completed deployment exists for the environment.
func (o *Orchestrator) Live(ctx context.Context, appID, env string) (bool, error) {
	rec, err := o.records.Latest(ctx, appID, env)
	if errors.Is(err, ErrNoRecord) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Status == StatusComplete, nil
}
