// Package secrets resolves sensitive configuration values from a secrets
// manager, falling back to the process environment.
package secrets

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Source looks up a single secret by key
type Source interface {
	Lookup(key string) (string, bool)
}

// EnvSource reads secrets from the process environment
type EnvSource struct{}

// Lookup implements Source
func (EnvSource) Lookup(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// DopplerSource reads secrets through the Doppler CLI
type DopplerSource struct {
	Project string
	Config  string
	Timeout time.Duration

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewDopplerSource returns a Doppler-backed source, or an error when the CLI
// is not installed
func NewDopplerSource(project, config string) (*DopplerSource, error) {
	if _, err := exec.LookPath("doppler"); err != nil {
		return nil, fmt.Errorf("doppler CLI not found: %w", err)
	}
	return &DopplerSource{
		Project: project,
		Config:  config,
		Timeout: 5 * time.Second,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}, nil
}

// Lookup implements Source
func (d *DopplerSource) Lookup(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
	defer cancel()

	out, err := d.run(ctx, "doppler", "secrets", "get", key,
		"--project", d.Project,
		"--config", d.Config,
		"--plain")
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(string(out))
	return v, v != ""
}

// Chain tries each source in order
type Chain []Source

// Lookup implements Source
func (c Chain) Lookup(key string) (string, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// Get returns the secret for key or fallback
func Get(s Source, key, fallback string) string {
	if v, ok := s.Lookup(key); ok {
		return v
	}
	return fallback
}
