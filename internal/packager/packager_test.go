package packager

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
)

func file(p string, content []byte) sourcefile.File {
	return sourcefile.File{Path: p, Content: content}
}

func sampleTree() []sourcefile.File {
	return []sourcefile.File{
		file("index.html", []byte("<!doctype html><div id=root></div>")),
		file("assets/index-BfXy3kLq.js", []byte("console.log('hi')")),
		file("assets/logo.png", []byte{0x89, 'P', 'N', 'G'}),
		file("assets/vendor-9c1d2e3f.js", bytes.Repeat([]byte("a"), OffloadThreshold+1)),
		file("robots.txt", []byte("User-agent: *")),
	}
}

func TestPlacement(t *testing.T) {
	art, err := Package(sampleTree(), Options{AppID: "app", AssetBaseURL: "https://cdn.example.com/"})
	require.NoError(t, err)

	var inline, offloaded []string
	for _, f := range art.Inline {
		inline = append(inline, f.Path)
	}
	for _, a := range art.Assets {
		offloaded = append(offloaded, a.Path)
	}
	assert.Equal(t, []string{"assets/index-BfXy3kLq.js", "index.html", "robots.txt"}, inline)
	assert.Equal(t, []string{"assets/logo.png", "assets/vendor-9c1d2e3f.js"}, offloaded)

	logo := art.Assets[0]
	assert.Equal(t, "apps/app/preview/assets/logo.png", logo.Key)
	assert.Equal(t, "https://cdn.example.com/apps/app/preview/assets/logo.png", logo.URL)
	assert.Equal(t, "image/png", logo.ContentType)
	assert.Len(t, logo.SHA256, 64)
}

func TestPlacementRule(t *testing.T) {
	assert.True(t, Offloaded("a.png", 10))
	assert.True(t, Offloaded("fonts/Inter.WOFF2", 10))
	assert.False(t, Offloaded("app.js", OffloadThreshold))
	assert.True(t, Offloaded("app.js", OffloadThreshold+1))
}

func TestPackageIsDeterministic(t *testing.T) {
	tree := sampleTree()
	first, err := Package(tree, Options{AppID: "app"})
	require.NoError(t, err)

	reversed := make([]sourcefile.File, len(tree))
	for i, f := range tree {
		reversed[len(tree)-1-i] = f
	}
	second, err := Package(reversed, Options{AppID: "app"})
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("artifacts differ (-first +second):\n%s", diff)
	}
}

func TestCacheControl(t *testing.T) {
	cases := map[string]string{
		"index.html":               CacheNoCache,
		"about/index.htm":          CacheNoCache,
		"assets/index-BfXy3kLq.js": CacheImmutable,
		"assets/app.3f2a9c1d.css":  CacheImmutable,
		"assets/my-component.js":   CacheDefault,
		"favicon.ico":              CacheDefault,
		"robots.txt":               CacheDefault,
	}
	for p, want := range cases {
		assert.Equal(t, want, CacheControl(p), p)
	}
}

func TestEntrypointEmbedsFilesAndRoutes(t *testing.T) {
	art, err := Package(sampleTree(), Options{AppID: "app", Environment: "production", AssetBaseURL: "https://cdn.example.com"})
	require.NoError(t, err)
	script := string(art.Script)

	assert.Contains(t, script, `"/index.html":{"body":`)
	assert.Contains(t, script, `"/assets/logo.png":{"url":"https://cdn.example.com/apps/app/production/assets/logo.png"`)
	assert.Contains(t, script, "/rest/v1")
	assert.Contains(t, script, "/auth/v1")
	assert.Contains(t, script, "env.SUPABASE_SERVICE_KEY")
	assert.Contains(t, script, "env.SUPABASE_ANON_KEY")
	assert.Contains(t, script, `FILES["/index.html"]`)
	assert.False(t, strings.Contains(script, strings.Repeat("a", 100)), "large file must not be inlined")
	assert.Len(t, art.Digest, 64)
}

func TestBinaryInlineFileIsBase64(t *testing.T) {
	art, err := Package([]sourcefile.File{
		file("index.html", []byte("<html>")),
		file("data.bin", []byte{0xff, 0xfe, 0x00}),
	}, Options{AppID: "app"})
	require.NoError(t, err)
	assert.Contains(t, string(art.Script), `"/data.bin":{"body":"//4A","b64":true`)
}

func TestPackageRejectsBadInput(t *testing.T) {
	_, err := Package(sampleTree(), Options{})
	assert.Error(t, err)

	_, err = Package(nil, Options{AppID: "app"})
	assert.Error(t, err)

	_, err = Package([]sourcefile.File{file("a.js", nil), file("./a.js", nil)}, Options{AppID: "app"})
	assert.ErrorContains(t, err, "duplicate")
}

func TestPackageRejectsUnsafeNames(t *testing.T) {
	for _, opts := range []Options{
		{AppID: "app", Environment: "preview\nglobalThis.pwned = 1; //"},
		{AppID: "app\nglobalThis.pwned = 1; //"},
		{AppID: "Foo_Bar"},
		{AppID: "app", Environment: "pre-view"},
	} {
		_, err := Package(sampleTree(), opts)
		assert.ErrorIs(t, err, ErrInvalidName, "%q/%q", opts.AppID, opts.Environment)
	}
}

func TestEntrypointInterpolatesOnlyJSONLiterals(t *testing.T) {
	script, err := renderEntrypoint(&Artifact{AppID: "a\nglobalThis.pwned = 1; //", Environment: "x\u2028y"})
	require.NoError(t, err)

	lines := strings.Split(string(script), "\n")
	assert.Equal(t, "// Generated by overskill. Do not edit.", lines[0])
	assert.Equal(t, `const APP_ID = "a\nglobalThis.pwned = 1; //";`, lines[1])
	assert.Equal(t, `const ENVIRONMENT = "x\u2028y";`, lines[2])
	for _, l := range lines {
		assert.NotEqual(t, "globalThis.pwned = 1; //\";", l)
	}
}
