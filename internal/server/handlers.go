// Package server exposes build and deployment triggers over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/todddickerson/overskill-sub011/internal/build"
	"github.com/todddickerson/overskill-sub011/internal/coordinator"
	"github.com/todddickerson/overskill-sub011/internal/deploy"
	"github.com/todddickerson/overskill-sub011/internal/packager"
	"github.com/todddickerson/overskill-sub011/internal/pipeline"
	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
)

type Operations interface {
	Start(appID, kind string, fn coordinator.Func) (coordinator.Operation, error)
	Lookup(appID string) (coordinator.Operation, bool)
	Stop(appID string) bool
	FileChanged(ctx context.Context, appID, path string, content []byte) bool
}

type Pipeline interface {
	Build(ctx context.Context, appID string) build.Result
	BuildAndDeploy(ctx context.Context, appID, env string) pipeline.Result
}

type Teardowner interface {
	Teardown(ctx context.Context, appID, env string) (deploy.TeardownResult, error)
}

type API struct {
	ops   Operations
	pipe  Pipeline
	store sourcefile.Store
	td    Teardowner
	log   *zap.Logger
}

func NewAPI(ops Operations, pipe Pipeline, store sourcefile.Store, td Teardowner, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{ops: ops, pipe: pipe, store: store, td: td, log: log}
}

const maxFileBody = 8 << 20

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) startBuild(w http.ResponseWriter, r *http.Request) {
	appID := AppID(r)
	a.start(w, appID, "build", func(ctx context.Context) (any, error) {
		res := a.pipe.Build(ctx, appID)
		if !res.Success {
			return res, errors.New(firstLine(res.Error))
		}
		return res, nil
	})
}

func (a *API) startDeploy(w http.ResponseWriter, r *http.Request) {
	appID := AppID(r)
	env, err := environment(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.start(w, appID, "deploy:"+env, func(ctx context.Context) (any, error) {
		res := a.pipe.BuildAndDeploy(ctx, appID, env)
		if !res.Success {
			return res, errors.New(firstLine(res.Error))
		}
		return res, nil
	})
}

func (a *API) start(w http.ResponseWriter, appID, kind string, fn coordinator.Func) {
	op, err := a.ops.Start(appID, kind, fn)
	switch {
	case errors.Is(err, coordinator.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "operation": viewOf(op)})
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		a.log.Info("operation accepted", zap.String("app_id", appID), zap.String("kind", kind), zap.String("operation_id", op.ID))
		writeJSON(w, http.StatusAccepted, viewOf(op))
	}
}

func (a *API) operation(w http.ResponseWriter, r *http.Request) {
	op, ok := a.ops.Lookup(AppID(r))
	if !ok {
		writeError(w, http.StatusNotFound, coordinator.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(op))
}

func (a *API) stop(w http.ResponseWriter, r *http.Request) {
	if !a.ops.Stop(AppID(r)) {
		writeError(w, http.StatusNotFound, coordinator.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) teardown(w http.ResponseWriter, r *http.Request) {
	env, err := environment(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.td.Teardown(r.Context(), AppID(r), env)
	if err != nil {
		a.log.Warn("teardown failed", zap.String("app_id", AppID(r)), zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"script": res.ScriptName, "deletedAssets": res.DeletedAssets})
}

type fileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (a *API) putFile(w http.ResponseWriter, r *http.Request) {
	appID := AppID(r)
	var in fileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFileBody)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f := sourcefile.File{AppID: appID, Path: in.Path, Content: []byte(in.Content)}
	if err := a.store.Put(r.Context(), f); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	broadcast := a.ops.FileChanged(r.Context(), appID, in.Path, f.Content)
	writeJSON(w, http.StatusOK, map[string]any{"path": sourcefile.NormalizePath(in.Path), "broadcast": broadcast})
}

type operationView struct {
	ID         string      `json:"id"`
	AppID      string      `json:"appId"`
	Kind       string      `json:"kind"`
	Status     string      `json:"status"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	StartedAt  *time.Time  `json:"startedAt,omitempty"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
	Stage      string      `json:"stage,omitempty"`
	Build      *buildView  `json:"build,omitempty"`
	Deployment *deployView `json:"deployment,omitempty"`
}

type buildView struct {
	Success      bool     `json:"success"`
	State        string   `json:"state"`
	Attempts     int      `json:"attempts"`
	SelfHealed   bool     `json:"selfHealed"`
	FixesApplied []string `json:"fixesApplied,omitempty"`
	FixFailures  []string `json:"fixFailures,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Files        int      `json:"files"`
}

type deployView struct {
	Success       bool     `json:"success"`
	DeploymentID  string   `json:"deploymentId"`
	URL           string   `json:"url,omitempty"`
	SubdomainURL  string   `json:"subdomainUrl,omitempty"`
	Routes        []string `json:"routes,omitempty"`
	UploadedFiles int      `json:"uploadedFiles"`
	Failures      []string `json:"failures,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

func viewOf(op coordinator.Operation) operationView {
	v := operationView{
		ID:        op.ID,
		AppID:     op.AppID,
		Kind:      op.Kind,
		Status:    string(op.Status),
		Error:     op.Error,
		CreatedAt: op.CreatedAt,
	}
	if !op.StartedAt.IsZero() {
		t := op.StartedAt
		v.StartedAt = &t
	}
	if !op.FinishedAt.IsZero() {
		t := op.FinishedAt
		v.FinishedAt = &t
	}
	switch res := op.Result.(type) {
	case build.Result:
		v.Build = buildViewOf(res)
	case pipeline.Result:
		v.Build = buildViewOf(res.Build)
		v.Stage = string(res.Stage)
		if d := res.Deploy; d != nil {
			v.Deployment = &deployView{
				Success:       d.Success,
				DeploymentID:  d.DeploymentID,
				URL:           d.URL,
				SubdomainURL:  d.SubdomainURL,
				Routes:        d.Routes,
				UploadedFiles: len(d.UploadedFiles),
				Failures:      d.Failures,
				Warnings:      d.Warnings,
			}
		}
	}
	return v
}

func buildViewOf(res build.Result) *buildView {
	if res.State == "" && res.Attempts == 0 {
		return nil
	}
	return &buildView{
		Success:      res.Success,
		State:        string(res.State),
		Attempts:     res.Attempts,
		SelfHealed:   res.SelfHealed,
		FixesApplied: res.FixesApplied,
		FixFailures:  res.FixFailures,
		Reason:       res.Reason,
		Files:        len(res.Files),
	}
}

func environment(r *http.Request) (string, error) {
	env := r.URL.Query().Get("env")
	if env == "" {
		return "preview", nil
	}
	if err := packager.ValidateEnvironment(env); err != nil {
		return "", err
	}
	return env, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "operation failed"
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
