// Package packager turns a built file tree into a deployable worker bundle
// plus the set of files offloaded to object storage.
package packager

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
)

// OffloadThreshold is the size above which any file is offloaded.
const OffloadThreshold = 50000

var assetExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".avif": true,
	".ico": true, ".bmp": true, ".svg": true, ".tif": true, ".tiff": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp3": true, ".wav": true, ".ogg": true, ".m4a": true, ".flac": true,
	".mp4": true, ".webm": true, ".mov": true, ".avi": true,
	".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".7z": true, ".rar": true,
	".pdf": true,
}

// IsAssetPath reports whether p has an extension from the asset set.
func IsAssetPath(p string) bool {
	return assetExtensions[strings.ToLower(path.Ext(p))]
}

// Offloaded applies the placement rule.
func Offloaded(p string, size int) bool {
	return IsAssetPath(p) || size > OffloadThreshold
}

const (
	CacheImmutable = "public, max-age=31536000, immutable"
	CacheNoCache   = "no-cache"
	CacheDefault   = "public, max-age=3600"
)

var fingerprint = regexp.MustCompile(`[-.]([A-Za-z0-9_]{8,})\.[A-Za-z0-9]+$`)

// IsFingerprinted reports whether the file name carries a content hash,
// as bundlers emit for index-BfXy3kLq.js or app.3f2a9c1d.css.
func IsFingerprinted(p string) bool {
	m := fingerprint.FindStringSubmatch(path.Base(p))
	if m == nil {
		return false
	}
	hash := m[1]
	if strings.ContainsAny(hash, "0123456789") {
		return true
	}
	return strings.ToLower(hash) != hash && strings.ToUpper(hash) != hash
}

// CacheControl picks the cache directive for a served path.
func CacheControl(p string) string {
	switch ext := strings.ToLower(path.Ext(p)); {
	case ext == ".html" || ext == ".htm":
		return CacheNoCache
	case IsFingerprinted(p):
		return CacheImmutable
	default:
		return CacheDefault
	}
}

var contentTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript; charset=utf-8",
	".mjs":   "application/javascript; charset=utf-8",
	".json":  "application/json; charset=utf-8",
	".map":   "application/json; charset=utf-8",
	".txt":   "text/plain; charset=utf-8",
	".xml":   "application/xml",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".mp3":   "audio/mpeg",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".wasm":  "application/wasm",
	".pdf":   "application/pdf",
}

// ContentType resolves a MIME type, preferring a fixed table so output
// does not depend on the host's mime database.
func ContentType(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// InlineFile is embedded in the bundle's file map.
type InlineFile struct {
	Path         string
	Content      []byte
	ContentType  string
	CacheControl string
}

// Asset is uploaded to object storage and proxied by the bundle.
type Asset struct {
	Path         string
	Key          string
	URL          string
	Content      []byte
	ContentType  string
	CacheControl string
	SHA256       string
}

// Artifact is the packager's output. Inline and Assets are sorted by path.
type Artifact struct {
	AppID       string
	Environment string
	Script      []byte
	Digest      string
	Inline      []InlineFile
	Assets      []Asset
}

// Secret names the generated entrypoint reads from its environment.
const (
	SecretBackendURL = "SUPABASE_URL"
	SecretAnonKey    = "SUPABASE_ANON_KEY"
	SecretServiceKey = "SUPABASE_SERVICE_KEY"
)

type Options struct {
	AppID       string
	Environment string
	// AssetBaseURL is the public origin offloaded objects are served from.
	AssetBaseURL string
	// KeyPrefix prefixes object keys; defaults to AssetPrefix(AppID, Environment).
	KeyPrefix string
}

// AssetPrefix is the object-key prefix holding one app environment's assets.
func AssetPrefix(appID, env string) string {
	if env == "" {
		env = "preview"
	}
	return fmt.Sprintf("apps/%s/%s/", appID, env)
}

// Package places every file, then renders the entrypoint. Equal inputs give
// byte-identical artifacts regardless of input order.
func Package(files []sourcefile.File, opts Options) (*Artifact, error) {
	if opts.Environment == "" {
		opts.Environment = "preview"
	}
	if err := ValidateAppID(opts.AppID); err != nil {
		return nil, fmt.Errorf("packager: %w", err)
	}
	if err := ValidateEnvironment(opts.Environment); err != nil {
		return nil, fmt.Errorf("packager: %w", err)
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = AssetPrefix(opts.AppID, opts.Environment)
	}

	byPath := make(map[string]sourcefile.File, len(files))
	for _, f := range files {
		p := sourcefile.NormalizePath(f.Path)
		if p == "" {
			continue
		}
		if _, dup := byPath[p]; dup {
			return nil, fmt.Errorf("packager: duplicate path %s", p)
		}
		f.Path = p
		byPath[p] = f
	}
	if len(byPath) == 0 {
		return nil, errors.New("packager: no files to package")
	}
	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	art := &Artifact{AppID: opts.AppID, Environment: opts.Environment}
	for _, p := range paths {
		f := byPath[p]
		if Offloaded(p, len(f.Content)) {
			sum := sha256.Sum256(f.Content)
			key := prefix + p
			art.Assets = append(art.Assets, Asset{
				Path:         p,
				Key:          key,
				URL:          joinURL(opts.AssetBaseURL, key),
				Content:      f.Content,
				ContentType:  ContentType(p),
				CacheControl: CacheControl(p),
				SHA256:       hex.EncodeToString(sum[:]),
			})
			continue
		}
		art.Inline = append(art.Inline, InlineFile{
			Path:         p,
			Content:      f.Content,
			ContentType:  ContentType(p),
			CacheControl: CacheControl(p),
		})
	}

	script, err := renderEntrypoint(art)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(script)
	art.Script = script
	art.Digest = hex.EncodeToString(sum[:])
	return art, nil
}

func joinURL(base, key string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "/" + key
	}
	return base + "/" + key
}

// encodeBody keeps text readable in the bundle and base64s the rest.
func encodeBody(b []byte) (string, bool) {
	if utf8.Valid(b) {
		return string(b), false
	}
	return base64.StdEncoding.EncodeToString(b), true
}
