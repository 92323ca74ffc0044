package packager

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidName = errors.New("invalid name")

var (
	appIDPattern       = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,40}$`)
	environmentPattern = regexp.MustCompile(`^[a-z][a-z0-9]{0,15}$`)
	prefixUnsafe       = regexp.MustCompile(`[^a-z0-9-]+`)
)

// ValidateAppID accepts lowercase DNS-label style ids. App ids reach object
// keys, hostnames and the provider resource name unchanged.
func ValidateAppID(id string) error {
	if !appIDPattern.MatchString(id) {
		return fmt.Errorf("%w: app id %q must match %s", ErrInvalidName, id, appIDPattern)
	}
	return nil
}

// ValidateEnvironment accepts short lowercase environment names without
// dashes, so the environment is always the last segment of a script name.
func ValidateEnvironment(env string) error {
	if !environmentPattern.MatchString(env) {
		return fmt.Errorf("%w: environment %q must match %s", ErrInvalidName, env, environmentPattern)
	}
	return nil
}

const maxScriptName = 63

// ScriptName is the provider resource name for an app environment. For
// valid app ids and environments it is injective; names that would exceed
// the provider limit keep a hash of the full app id instead of being cut.
func ScriptName(prefix, appID, env string) string {
	prefix = strings.Trim(prefixUnsafe.ReplaceAllString(strings.ToLower(prefix), "-"), "-")
	head := ""
	if prefix != "" {
		head = prefix + "-"
	}
	name := head + appID + "-" + env
	if len(name) <= maxScriptName {
		return name
	}
	sum := sha256.Sum256([]byte(appID))
	tag := hex.EncodeToString(sum[:])[:10]
	room := maxScriptName - len(head) - len(tag) - len(env) - 2
	if room < 1 {
		return tag + "-" + env
	}
	short := strings.TrimRight(appID[:min(room, len(appID))], "-")
	return head + short + "-" + tag + "-" + env
}
