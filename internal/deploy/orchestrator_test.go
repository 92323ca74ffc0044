package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todddickerson/overskill-sub011/internal/config"
	"github.com/todddickerson/overskill-sub011/internal/hosting"
	"github.com/todddickerson/overskill-sub011/internal/objectstore"
	"github.com/todddickerson/overskill-sub011/internal/packager"
	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
)

type fakeProvider struct {
	mu          sync.Mutex
	scripts     map[string][]byte
	secrets     map[string]string
	routes      []string
	deleted     []string
	uploadErr   error
	secretErr   error
	subdomain   error
	routeErrFor map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{scripts: map[string][]byte{}, secrets: map[string]string{}, routeErrFor: map[string]error{}}
}

func (f *fakeProvider) UploadScript(_ context.Context, name string, script []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.scripts[name] = script
	return nil
}

func (f *fakeProvider) PutSecret(_ context.Context, _, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.secretErr != nil {
		return f.secretErr
	}
	f.secrets[name] = value
	return nil
}

func (f *fakeProvider) CreateRoute(_ context.Context, pattern, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.routeErrFor[pattern]; err != nil {
		return err
	}
	f.routes = append(f.routes, pattern)
	return nil
}

func (f *fakeProvider) EnableSubdomain(_ context.Context, script string) (string, error) {
	if f.subdomain != nil {
		return "", f.subdomain
	}
	return "https://" + script + ".acme.workers.dev", nil
}

func (f *fakeProvider) DeleteScript(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return nil
}

// flakyStore fails uploads for chosen keys.
type flakyStore struct {
	*objectstore.MemoryStore
	failKeys map[string]bool
}

func (s *flakyStore) Put(ctx context.Context, obj objectstore.Object) error {
	if s.failKeys[obj.Key] {
		return errors.New("503 slow down")
	}
	return s.MemoryStore.Put(ctx, obj)
}

type brokenRecords struct{ *MemoryRecordStore }

func (brokenRecords) Save(context.Context, Record) error { return errors.New("db down") }

func fullConfig() *config.Config {
	return &config.Config{
		Hosting: config.HostingConfig{AccountID: "acct", ZoneID: "zone", APIToken: "tok", BaseDomain: "overskill.app", ScriptPrefix: "overskill"},
		Storage: config.StorageConfig{Endpoint: "r2", AccessKey: "a", SecretKey: "s", Bucket: "apps"},
		Backend: config.BackendConfig{URL: "https://db.example.com", AnonKey: "anon", ServiceKey: "service"},
	}
}

func artifact(t *testing.T, env string) *packager.Artifact {
	t.Helper()
	art, err := packager.Package([]sourcefile.File{
		{Path: "index.html", Content: []byte("<html></html>")},
		{Path: "assets/logo.png", Content: []byte("png")},
		{Path: "assets/hero.jpg", Content: []byte("jpg")},
	}, packager.Options{AppID: "app1", Environment: env, AssetBaseURL: "https://cdn.example.com"})
	require.NoError(t, err)
	return art
}

func TestDeployHappyPath(t *testing.T) {
	prov := newFakeProvider()
	assets := objectstore.NewMemoryStore("https://cdn.example.com")
	records := NewMemoryRecordStore()
	o := New(fullConfig(), prov, assets, records, nil)

	res := o.Deploy(context.Background(), artifact(t, "production"))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "overskill-app1-production", res.ScriptName)
	assert.Equal(t, "https://app1.overskill.app", res.URL)
	assert.Equal(t, "https://overskill-app1-production.acme.workers.dev", res.SubdomainURL)
	assert.Equal(t, []string{"app1.overskill.app/*", "www.app1.overskill.app/*"}, res.Routes)
	assert.Equal(t, []string{"assets/hero.jpg", "assets/logo.png"}, res.UploadedFiles)
	assert.Empty(t, res.Failures)
	assert.NotEmpty(t, res.DeploymentID)

	assert.Contains(t, string(prov.scripts["overskill-app1-production"]), "FILES")
	assert.Equal(t, map[string]string{
		"SUPABASE_URL":         "https://db.example.com",
		"SUPABASE_ANON_KEY":    "anon",
		"SUPABASE_SERVICE_KEY": "service",
	}, prov.secrets)

	obj, ok := assets.Object("apps/app1/production/assets/logo.png")
	require.True(t, ok)
	assert.Equal(t, "image/png", obj.ContentType)

	rec, err := records.Latest(context.Background(), "app1", "production")
	require.NoError(t, err)
	assert.Equal(t, res.DeploymentID, rec.DeploymentID)
	assert.Equal(t, StatusComplete, rec.Status)

	live, err := o.Live(context.Background(), "app1", "production")
	require.NoError(t, err)
	assert.True(t, live)
}

func TestDeployRouteFailureFallsBackToSubdomain(t *testing.T) {
	prov := newFakeProvider()
	prov.routeErrFor["www.app1.overskill.app/*"] = errors.New("zone not active")
	o := New(fullConfig(), prov, objectstore.NewMemoryStore(""), nil, nil)

	res := o.Deploy(context.Background(), artifact(t, "production"))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"app1.overskill.app/*"}, res.Routes)
	assert.Equal(t, res.SubdomainURL, res.URL)
	assert.Equal(t, "https://overskill-app1-production.acme.workers.dev", res.URL)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0], "zone not active")
}

func TestDeployTreatsExistingRouteAsConfigured(t *testing.T) {
	prov := newFakeProvider()
	prov.routeErrFor["preview-app1.overskill.app/*"] = fmt.Errorf("%w: preview-app1.overskill.app/*", hosting.ErrRouteExists)
	o := New(fullConfig(), prov, objectstore.NewMemoryStore(""), nil, nil)

	res := o.Deploy(context.Background(), artifact(t, "preview"))
	require.True(t, res.Success)
	assert.Equal(t, []string{"preview-app1.overskill.app/*"}, res.Routes)
	assert.Equal(t, "https://preview-app1.overskill.app", res.URL)
	assert.Empty(t, res.Failures)
}

func TestDeployAssetFailureIsNotFatal(t *testing.T) {
	store := &flakyStore{
		MemoryStore: objectstore.NewMemoryStore(""),
		failKeys:    map[string]bool{"apps/app1/preview/assets/hero.jpg": true},
	}
	o := New(fullConfig(), newFakeProvider(), store, nil, nil)

	res := o.Deploy(context.Background(), artifact(t, "preview"))
	require.True(t, res.Success)
	assert.Equal(t, []string{"assets/logo.png"}, res.UploadedFiles)
	require.Len(t, res.Failures, 1)
	assert.True(t, strings.HasPrefix(res.Failures[0], "asset assets/hero.jpg"))
}

func TestDeployCriticalFailures(t *testing.T) {
	t.Run("script upload", func(t *testing.T) {
		prov := newFakeProvider()
		prov.uploadErr = errors.New("script too large")
		assets := objectstore.NewMemoryStore("")
		res := New(fullConfig(), prov, assets, nil, nil).Deploy(context.Background(), artifact(t, "preview"))
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "script too large")
		keys, _ := assets.List(context.Background(), "")
		assert.Empty(t, keys, "no assets are uploaded after a failed code upload")
	})
	t.Run("secrets", func(t *testing.T) {
		prov := newFakeProvider()
		prov.secretErr = errors.New("forbidden")
		res := New(fullConfig(), prov, objectstore.NewMemoryStore(""), nil, nil).Deploy(context.Background(), artifact(t, "preview"))
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "SUPABASE_URL")
		assert.Empty(t, prov.routes)
	})
}

func TestDeployEnumeratesEveryMissingCredential(t *testing.T) {
	prov := newFakeProvider()
	o := New(&config.Config{}, prov, objectstore.NewMemoryStore(""), nil, nil)

	res := o.Deploy(context.Background(), artifact(t, "preview"))
	assert.False(t, res.Success)
	for _, want := range []string{"CLOUDFLARE_ACCOUNT_ID", "CLOUDFLARE_API_TOKEN", "R2_BUCKET_NAME", "SUPABASE_URL", "SUPABASE_ANON_KEY", "SUPABASE_SERVICE_KEY"} {
		assert.Contains(t, res.Error, want)
	}
	assert.Empty(t, prov.scripts)
}

func TestDeployFinalizeFailureIsWarning(t *testing.T) {
	o := New(fullConfig(), newFakeProvider(), objectstore.NewMemoryStore(""), brokenRecords{NewMemoryRecordStore()}, nil)
	res := o.Deploy(context.Background(), artifact(t, "preview"))
	require.True(t, res.Success)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "db down")
}

func TestDeployIsRepeatable(t *testing.T) {
	prov := newFakeProvider()
	assets := objectstore.NewMemoryStore("")
	o := New(fullConfig(), prov, assets, nil, nil)
	art := artifact(t, "preview")

	first := o.Deploy(context.Background(), art)
	second := o.Deploy(context.Background(), art)
	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, first.URL, second.URL)
	assert.NotEqual(t, first.DeploymentID, second.DeploymentID)
	keys, _ := assets.List(context.Background(), "")
	assert.Len(t, keys, 2)
}

func TestTeardown(t *testing.T) {
	prov := newFakeProvider()
	assets := objectstore.NewMemoryStore("")
	o := New(fullConfig(), prov, assets, nil, nil)
	require.True(t, o.Deploy(context.Background(), artifact(t, "preview")).Success)
	require.True(t, o.Deploy(context.Background(), artifact(t, "production")).Success)

	res, err := o.Teardown(context.Background(), "app1", "preview")
	require.NoError(t, err)
	assert.Equal(t, 2, res.DeletedAssets)
	assert.Equal(t, []string{"overskill-app1-preview"}, prov.deleted)

	keys, _ := assets.List(context.Background(), "")
	assert.Equal(t, []string{"apps/app1/production/assets/hero.jpg", "apps/app1/production/assets/logo.png"}, keys)

	live, err := o.Live(context.Background(), "app1", "preview")
	require.NoError(t, err)
	assert.False(t, live)
}

func TestDeployRejectsUnsafeTargets(t *testing.T) {
	prov := newFakeProvider()
	o := New(fullConfig(), prov, objectstore.NewMemoryStore(""), nil, nil)

	art := artifact(t, "preview")
	art.Environment = "preview\nglobalThis.pwned = 1; //"
	res := o.Deploy(context.Background(), art)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid name")
	assert.Empty(t, prov.scripts)

	_, err := o.Teardown(context.Background(), "Foo_Bar", "preview")
	assert.ErrorIs(t, err, packager.ErrInvalidName)
	assert.Empty(t, prov.deleted)
}

func TestDistinctAppsGetDistinctScripts(t *testing.T) {
	prov := newFakeProvider()
	o := New(fullConfig(), prov, objectstore.NewMemoryStore(""), nil, nil)

	for _, id := range []string{"foo-bar", "foobar"} {
		art, err := packager.Package([]sourcefile.File{{Path: "index.html", Content: []byte(id)}},
			packager.Options{AppID: id, Environment: "preview"})
		require.NoError(t, err)
		require.True(t, o.Deploy(context.Background(), art).Success)
	}
	assert.Len(t, prov.scripts, 2)

	_, err := o.Teardown(context.Background(), "foo-bar", "preview")
	require.NoError(t, err)
	assert.Equal(t, []string{"overskill-foo-bar-preview"}, prov.deleted)
	assert.Contains(t, prov.scripts, "overskill-foobar-preview")
}

func TestDeployWithoutAnyURLFails(t *testing.T) {
	prov := newFakeProvider()
	prov.subdomain = errors.New("subdomain api unavailable")
	cfg := fullConfig()
	cfg.Hosting.BaseDomain = ""
	records := NewMemoryRecordStore()
	o := New(cfg, prov, objectstore.NewMemoryStore(""), records, nil)

	res := o.Deploy(context.Background(), artifact(t, "preview"))
	assert.False(t, res.Success)
	assert.Empty(t, res.URL)
	assert.Contains(t, res.Error, "no reachable URL")

	live, err := o.Live(context.Background(), "app1", "preview")
	require.NoError(t, err)
	assert.False(t, live)
}

func TestRoutePatterns(t *testing.T) {
	assert.Nil(t, RoutePatterns("", "app", "preview"))
	assert.Equal(t, []string{"preview-app.example.com/*"}, RoutePatterns("example.com.", "app", "preview"))
}
