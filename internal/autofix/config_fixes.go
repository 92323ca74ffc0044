package autofix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
)

const (
	packageManifest   = "package.json"
	moduleDeclFile    = "src/types/modules.d.ts"
	globalDeclFile    = "src/types/global.d.ts"
	npmConfigFile     = ".npmrc"
	legacyPeerSetting = "legacy-peer-deps=true"
)

// getOrNew returns the stored file at p, or an empty one when it does not
// exist yet.
func (en *Engine) getOrNew(ctx context.Context, appID, p string) (sourcefile.File, bool, error) {
	f, err := en.store.Get(ctx, appID, p)
	if err == nil {
		return f, true, nil
	}
	if errors.Is(err, sourcefile.ErrNotFound) {
		return sourcefile.File{AppID: appID, Path: p, Kind: sourcefile.KindForPath(p)}, false, nil
	}
	return sourcefile.File{}, false, err
}

func (en *Engine) installPackage(ctx context.Context, appID, pkg string) FixResult {
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return declined("no package to install")
	}
	f, err := en.store.Get(ctx, appID, packageManifest)
	if err != nil {
		return FixResult{Error: fmt.Sprintf("read %s: %v", packageManifest, err), File: packageManifest}
	}

	var manifest map[string]json.RawMessage
	if err := json.Unmarshal(f.Content, &manifest); err != nil {
		return FixResult{Error: fmt.Sprintf("malformed %s: %v", packageManifest, err), File: f.Path}
	}
	if manifest == nil {
		manifest = map[string]json.RawMessage{}
	}
	deps, err := stringMap(manifest["dependencies"])
	if err != nil {
		return FixResult{Error: fmt.Sprintf("malformed dependencies in %s: %v", packageManifest, err), File: f.Path}
	}
	devDeps, err := stringMap(manifest["devDependencies"])
	if err != nil {
		return FixResult{Error: fmt.Sprintf("malformed devDependencies in %s: %v", packageManifest, err), File: f.Path}
	}
	if _, ok := deps[pkg]; ok {
		return FixResult{Error: fmt.Sprintf("%s is already a dependency", pkg), File: f.Path}
	}
	if _, ok := devDeps[pkg]; ok {
		return FixResult{Error: fmt.Sprintf("%s is already a dev dependency", pkg), File: f.Path}
	}
	deps[pkg] = "latest"
	raw, err := json.Marshal(deps)
	if err != nil {
		return FixResult{Error: err.Error(), File: f.Path}
	}
	manifest["dependencies"] = raw

	out, err := marshalIndent(manifest)
	if err != nil {
		return FixResult{Error: err.Error(), File: f.Path}
	}
	return en.save(ctx, f, out, fmt.Sprintf("Installed package %s", pkg))
}

func stringMap(raw json.RawMessage) (map[string]string, error) {
	m := map[string]string{}
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

func marshalIndent(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (en *Engine) declareModule(ctx context.Context, appID, module string) FixResult {
	module = strings.TrimSpace(module)
	if module == "" {
		return declined("no module to declare")
	}
	f, _, err := en.getOrNew(ctx, appID, moduleDeclFile)
	if err != nil {
		return FixResult{Error: err.Error(), File: moduleDeclFile}
	}
	decl := fmt.Sprintf("declare module '%s';", module)
	text := f.Text()
	if strings.Contains(text, decl) || strings.Contains(text, fmt.Sprintf(`declare module "%s"`, module)) {
		return FixResult{Error: fmt.Sprintf("module %s is already declared", module), File: f.Path}
	}
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return en.save(ctx, f, text+decl+"\n", fmt.Sprintf("Added type declaration for module %s", module))
}

var (
	blockComment = regexp.MustCompile(`(?s)(?:^|\s)/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`(?m)(?:^|\s)//[^"\n]*$`)
	trailingComa = regexp.MustCompile(`,(\s*[}\]])`)
)

func (en *Engine) fixProjectReferences(ctx context.Context, appID, configPath string) FixResult {
	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		return declined("no referenced project")
	}
	if path.Ext(configPath) != ".json" {
		configPath = path.Join(configPath, "tsconfig.json")
	}
	f, err := en.load(ctx, appID, configPath)
	if err != nil {
		return FixResult{Error: err.Error(), File: configPath}
	}

	// tsconfig allows comments and trailing commas.
	src := blockComment.ReplaceAllString(f.Text(), "")
	src = lineComment.ReplaceAllString(src, "")
	src = trailingComa.ReplaceAllString(src, "$1")

	var cfg map[string]json.RawMessage
	if err := json.Unmarshal([]byte(src), &cfg); err != nil {
		return FixResult{Error: fmt.Sprintf("malformed %s: %v", f.Path, err), File: f.Path}
	}
	if cfg == nil {
		cfg = map[string]json.RawMessage{}
	}
	opts := map[string]any{}
	if raw, ok := cfg["compilerOptions"]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return FixResult{Error: fmt.Sprintf("malformed compilerOptions in %s: %v", f.Path, err), File: f.Path}
		}
		if opts == nil {
			opts = map[string]any{}
		}
	}
	if composite, _ := opts["composite"].(bool); composite {
		if _, hasNoEmit := opts["noEmit"]; !hasNoEmit {
			return FixResult{Error: fmt.Sprintf("%s already builds as a composite project", f.Path), File: f.Path}
		}
	}
	opts["composite"] = true
	delete(opts, "noEmit")
	raw, err := json.Marshal(opts)
	if err != nil {
		return FixResult{Error: err.Error(), File: f.Path}
	}
	cfg["compilerOptions"] = raw

	out, err := marshalIndent(cfg)
	if err != nil {
		return FixResult{Error: err.Error(), File: f.Path}
	}
	return en.save(ctx, f, out, fmt.Sprintf("Enabled composite build in %s", f.Path))
}

var windowInterface = regexp.MustCompile(`interface\s+Window\s*\{`)

func (en *Engine) declareGlobalProperty(ctx context.Context, appID, prop string) FixResult {
	prop = strings.TrimSpace(prop)
	if prop == "" {
		return declined("no global property to declare")
	}
	f, exists, err := en.getOrNew(ctx, appID, globalDeclFile)
	if err != nil {
		return FixResult{Error: err.Error(), File: globalDeclFile}
	}
	text := f.Text()
	member := regexp.MustCompile(`\b` + regexp.QuoteMeta(prop) + `\??\s*:`)
	if member.MatchString(text) {
		return FixResult{Error: fmt.Sprintf("window.%s is already declared", prop), File: f.Path}
	}

	line := "    " + prop + ": any;"
	switch {
	case !exists || strings.TrimSpace(text) == "":
		text = "export {};\n\ndeclare global {\n  interface Window {\n" + line + "\n  }\n}\n"
	case windowInterface.MatchString(text):
		loc := windowInterface.FindStringIndex(text)
		text = text[:loc[1]] + "\n" + line + text[loc[1]:]
	default:
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += "\ndeclare global {\n  interface Window {\n" + line + "\n  }\n}\n"
	}
	return en.save(ctx, f, text, fmt.Sprintf("Declared global property window.%s", prop))
}

func (en *Engine) relaxPeerDependencies(ctx context.Context, appID string) FixResult {
	f, _, err := en.getOrNew(ctx, appID, npmConfigFile)
	if err != nil {
		return FixResult{Error: err.Error(), File: npmConfigFile}
	}
	text := f.Text()
	for _, l := range strings.Split(text, "\n") {
		if strings.ReplaceAll(strings.TrimSpace(l), " ", "") == legacyPeerSetting {
			return FixResult{Error: "legacy peer dependency resolution is already enabled", File: f.Path}
		}
	}
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return en.save(ctx, f, text+legacyPeerSetting+"\n", "Enabled legacy-peer-deps in .npmrc")
}
