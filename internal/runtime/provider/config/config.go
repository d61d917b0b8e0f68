package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	envSecretRefPrefix = "env://"
	refSuffix          = "_REF"
)

// Env resolves provider configuration from an environment lookup.
// Every value NAME may instead be supplied indirectly through NAME_REF, which holds
// a secret reference of the form "env://OTHER_VAR" or "OTHER_VAR".
type Env struct {
	lookup func(string) (string, bool)
}

// OSEnv resolves against the process environment.
func OSEnv() Env {
	return Env{lookup: os.LookupEnv}
}

// MapEnv resolves against a fixed map, for tests.
func MapEnv(values map[string]string) Env {
	return Env{lookup: func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}}
}

// Value returns the secret-ref value when NAME_REF resolves, else the literal NAME,
// else fallback.
func (e Env) Value(name string, fallback string) string {
	literal := strings.TrimSpace(e.get(name))
	if literal == "" {
		literal = fallback
	}
	ref := strings.TrimSpace(e.get(name + refSuffix))
	if ref == "" {
		return literal
	}
	value, err := ResolveSecretRef(ref, e.lookup)
	if err != nil {
		return literal
	}
	return value
}

// Duration parses NAME as a Go duration, returning fallback when unset or invalid.
func (e Env) Duration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(e.get(name))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (e Env) get(name string) string {
	if e.lookup == nil {
		return ""
	}
	v, _ := e.lookup(name)
	return v
}

// ResolveSecretRef resolves a secret reference using the supplied lookup function.
func ResolveSecretRef(ref string, lookup func(string) (string, bool)) (string, error) {
	name, err := parseSecretRefName(ref)
	if err != nil {
		return "", err
	}
	if lookup == nil {
		return "", fmt.Errorf("secret lookup function is required")
	}
	value, ok := lookup(name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("secret_ref %q resolved empty value", name)
	}
	return value, nil
}

// RedactSecret returns a deterministic redacted marker for non-empty secret material.
func RedactSecret(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	return "***redacted***"
}

func parseSecretRefName(ref string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return "", fmt.Errorf("secret_ref is required")
	}
	if strings.HasPrefix(trimmed, envSecretRefPrefix) {
		name := strings.TrimSpace(strings.TrimPrefix(trimmed, envSecretRefPrefix))
		if name == "" {
			return "", fmt.Errorf("secret_ref %q is missing env var name", ref)
		}
		if strings.Contains(name, "/") {
			return "", fmt.Errorf("secret_ref %q contains unsupported path separator", ref)
		}
		return name, nil
	}
	if strings.Contains(trimmed, "://") {
		return "", fmt.Errorf("secret_ref %q uses unsupported scheme", ref)
	}
	if strings.Contains(trimmed, "/") {
		return "", fmt.Errorf("secret_ref %q contains unsupported path separator", ref)
	}
	return trimmed, nil
}
