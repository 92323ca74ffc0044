package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todddickerson/overskill-sub011/internal/build"
	"github.com/todddickerson/overskill-sub011/internal/deploy"
	"github.com/todddickerson/overskill-sub011/internal/notify"
	"github.com/todddickerson/overskill-sub011/internal/packager"
	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
)

type fakeBuilder struct{ res build.Result }

func (f fakeBuilder) Build(context.Context, string) build.Result { return f.res }

type countingBuilder struct{ calls int }

func (c *countingBuilder) Build(context.Context, string) build.Result {
	c.calls++
	return built()
}

type fakeDeployer struct {
	got *packager.Artifact
	res deploy.Result
}

func (f *fakeDeployer) Deploy(_ context.Context, art *packager.Artifact) deploy.Result {
	f.got = art
	return f.res
}

type hubSpy struct{ msgs []notify.Message }

func (h *hubSpy) Broadcast(_ string, msg notify.Message) int {
	h.msgs = append(h.msgs, msg)
	return 1
}

func built() build.Result {
	return build.Result{Success: true, Attempts: 1, Files: []sourcefile.File{
		{Path: "index.html", Content: []byte("<html></html>")},
		{Path: "assets/logo.png", Content: []byte("png")},
	}}
}

func TestBuildAndDeploy(t *testing.T) {
	dep := &fakeDeployer{res: deploy.Result{Success: true, URL: "https://app.example.com"}}
	hub := &hubSpy{}
	svc := New(fakeBuilder{built()}, dep, "https://cdn.example.com", hub, nil)

	res := svc.BuildAndDeploy(context.Background(), "app", "")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, "preview", res.Environment)
	assert.Equal(t, "https://app.example.com", res.URL)

	require.NotNil(t, dep.got)
	assert.Equal(t, "preview", dep.got.Environment)
	require.Len(t, dep.got.Assets, 1)
	assert.Equal(t, "https://cdn.example.com/apps/app/preview/assets/logo.png", dep.got.Assets[0].URL)

	require.Len(t, hub.msgs, 1)
	assert.Equal(t, notify.KindDeployed, hub.msgs[0].Kind)
	assert.Equal(t, "https://app.example.com", hub.msgs[0].URL)
}

func TestBuildFailureSkipsDeploy(t *testing.T) {
	dep := &fakeDeployer{}
	svc := New(fakeBuilder{build.Result{Error: "tsc exited 2", Attempts: 2}}, dep, "", nil, nil)

	res := svc.BuildAndDeploy(context.Background(), "app", "production")
	assert.False(t, res.Success)
	assert.Equal(t, StageBuild, res.Stage)
	assert.Equal(t, "tsc exited 2", res.Error)
	assert.Nil(t, dep.got)
	assert.Nil(t, res.Deploy)
}

func TestEmptyBuildOutputFailsPackaging(t *testing.T) {
	dep := &fakeDeployer{}
	svc := New(fakeBuilder{build.Result{Success: true}}, dep, "", nil, nil)

	res := svc.BuildAndDeploy(context.Background(), "app", "preview")
	assert.False(t, res.Success)
	assert.Equal(t, StagePackage, res.Stage)
	assert.Nil(t, dep.got)
}

func TestDeployFailureIsReported(t *testing.T) {
	hub := &hubSpy{}
	dep := &fakeDeployer{res: deploy.Result{Error: "missing deployment configuration: SUPABASE_URL"}}
	svc := New(fakeBuilder{built()}, dep, "", hub, nil)

	res := svc.BuildAndDeploy(context.Background(), "app", "preview")
	assert.False(t, res.Success)
	assert.Equal(t, StageDeploy, res.Stage)
	assert.Contains(t, res.Error, "SUPABASE_URL")
	require.NotNil(t, res.Deploy)
	require.Len(t, hub.msgs, 1)
	assert.Equal(t, notify.KindBuildState, hub.msgs[0].Kind)
	assert.Equal(t, "deploy", hub.msgs[0].State)
}

func TestBuildAndDeployRejectsUnsafeTargets(t *testing.T) {
	for _, tc := range []struct{ app, env string }{
		{"app", "preview\nglobalThis.pwned = 1; //"},
		{"Foo_Bar", "preview"},
		{"", "preview"},
	} {
		b := &countingBuilder{}
		dep := &fakeDeployer{}
		hub := &hubSpy{}
		res := New(b, dep, "", hub, nil).BuildAndDeploy(context.Background(), tc.app, tc.env)

		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "invalid name")
		assert.Zero(t, b.calls)
		assert.Nil(t, dep.got)
		assert.Empty(t, hub.msgs)
	}
}
