package packager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
)

type inlineEntry struct {
	Body  string `json:"body"`
	B64   bool   `json:"b64,omitempty"`
	Type  string `json:"type"`
	Cache string `json:"cache"`
}

type assetEntry struct {
	URL   string `json:"url"`
	Type  string `json:"type"`
	Cache string `json:"cache"`
}

var entrypoint = template.Must(template.New("worker").Parse(`// Generated by overskill. Do not edit.
const APP_ID = {{.AppID}};
const ENVIRONMENT = {{.Environment}};
const FILES = {{.Files}};
const ASSETS = {{.Assets}};

const CORS = {
  "Access-Control-Allow-Origin": "*",
  "Access-Control-Allow-Methods": "GET, HEAD, POST, PUT, PATCH, DELETE, OPTIONS",
  "Access-Control-Allow-Headers": "authorization, content-type, apikey, prefer, x-client-info",
};

function decode(file) {
  if (!file.b64) return file.body;
  const bin = atob(file.body);
  const bytes = new Uint8Array(bin.length);
  for (let i = 0; i < bin.length; i++) bytes[i] = bin.charCodeAt(i);
  return bytes;
}

function serveFile(request, file) {
  const headers = { "Content-Type": file.type, "Cache-Control": file.cache };
  if (request.method === "HEAD") return new Response(null, { headers });
  return new Response(decode(file), { headers });
}

async function serveAsset(request, asset) {
  const upstream = await fetch(asset.url, { method: request.method === "HEAD" ? "HEAD" : "GET" });
  if (!upstream.ok) return new Response("Not found", { status: 404 });
  const resp = new Response(upstream.body, upstream);
  resp.headers.set("Content-Type", asset.type);
  resp.headers.set("Cache-Control", asset.cache);
  return resp;
}

// /api/auth/* goes to /auth/v1 with the public key; reads go to /rest/v1
// with the public key; writes go to /rest/v1 with the privileged key.
async function proxyApi(request, env, url) {
  if (!env.SUPABASE_URL) return new Response("Backend not configured", { status: 503, headers: CORS });
  let rest = url.pathname.slice("/api".length) || "/";
  let base = "/rest/v1";
  const isAuth = rest === "/auth" || rest.startsWith("/auth/");
  if (isAuth) {
    base = "/auth/v1";
    rest = rest.slice("/auth".length) || "/";
  }
  const readOnly = request.method === "GET" || request.method === "HEAD";
  const key = !isAuth && !readOnly ? env.SUPABASE_SERVICE_KEY : env.SUPABASE_ANON_KEY;

  const target = new URL(base + rest, env.SUPABASE_URL);
  target.search = url.search;
  const headers = new Headers(request.headers);
  headers.delete("host");
  headers.set("apikey", key);
  if (!headers.has("Authorization") || (!isAuth && !readOnly)) {
    headers.set("Authorization", "Bearer " + key);
  }
  headers.set("x-app-id", APP_ID);

  const init = { method: request.method, headers, redirect: "manual" };
  if (!readOnly) init.body = await request.arrayBuffer();
  const upstream = await fetch(target.toString(), init);
  const resp = new Response(upstream.body, upstream);
  for (const [k, v] of Object.entries(CORS)) resp.headers.set(k, v);
  return resp;
}

export default {
  async fetch(request, env) {
    const url = new URL(request.url);
    if (url.pathname === "/api" || url.pathname.startsWith("/api/")) {
      if (request.method === "OPTIONS") return new Response(null, { status: 204, headers: CORS });
      return proxyApi(request, env, url);
    }

    let path = decodeURIComponent(url.pathname);
    if (path.endsWith("/")) path += "index.html";
    if (Object.prototype.hasOwnProperty.call(ASSETS, path)) return serveAsset(request, ASSETS[path]);
    if (Object.prototype.hasOwnProperty.call(FILES, path)) return serveFile(request, FILES[path]);

    const root = FILES["/index.html"];
    if (root) return serveFile(request, root);
    return new Response("Not found", { status: 404 });
  },
};
`))

// renderEntrypoint produces the worker script. Map keys are served paths
// with a leading slash; encoding/json sorts them.
func renderEntrypoint(art *Artifact) ([]byte, error) {
	files := make(map[string]inlineEntry, len(art.Inline))
	for _, f := range art.Inline {
		body, b64 := encodeBody(f.Content)
		files["/"+f.Path] = inlineEntry{Body: body, B64: b64, Type: f.ContentType, Cache: f.CacheControl}
	}
	assets := make(map[string]assetEntry, len(art.Assets))
	for _, a := range art.Assets {
		assets["/"+a.Path] = assetEntry{URL: a.URL, Type: a.ContentType, Cache: a.CacheControl}
	}

	filesJSON, err := json.Marshal(files)
	if err != nil {
		return nil, fmt.Errorf("packager: encode files: %w", err)
	}
	assetsJSON, err := json.Marshal(assets)
	if err != nil {
		return nil, fmt.Errorf("packager: encode assets: %w", err)
	}
	idJSON, err := json.Marshal(art.AppID)
	if err != nil {
		return nil, fmt.Errorf("packager: encode app id: %w", err)
	}
	envJSON, err := json.Marshal(art.Environment)
	if err != nil {
		return nil, fmt.Errorf("packager: encode environment: %w", err)
	}

	// Only JSON literals are interpolated into the script.
	var buf bytes.Buffer
	err = entrypoint.Execute(&buf, map[string]string{
		"AppID":       string(idJSON),
		"Environment": string(envJSON),
		"Files":       string(filesJSON),
		"Assets":      string(assetsJSON),
	})
	if err != nil {
		return nil, fmt.Errorf("packager: render entrypoint: %w", err)
	}
	return buf.Bytes(), nil
}
