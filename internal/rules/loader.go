// Package rules loads operator-supplied detection patterns from YAML and
// merges them onto the built-in lists.
package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ghostlayer/server/internal/detector"
)

// Bundle is the on-disk rule file.
type Bundle struct {
	Version    string   `yaml:"version"`
	Critical   []string `yaml:"critical_user_agents"`
	UserAgents []string `yaml:"user_agents"`
	Referrers  []string `yaml:"referrers"`
}

// Loaded is the merged pattern set plus the rule file's hash for audit.
type Loaded struct {
	Version  string
	Patterns detector.Patterns
	SHA256   string
}

type Loader struct {
	File string
}

func NewLoader(file string) *Loader {
	return &Loader{File: file}
}

// Load reads and validates the rule file. An empty File yields the
// built-in patterns unchanged.
func (l *Loader) Load(ctx context.Context) (*Loaded, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(l.File) == "" {
		return &Loaded{Version: "builtin", Patterns: detector.DefaultPatterns()}, nil
	}

	raw, err := os.ReadFile(l.File)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(raw)
}

// Parse validates a rule document and merges it onto the defaults.
func Parse(raw []byte) (*Loaded, error) {
	var b Bundle
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := validate(b); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(raw)
	return &Loaded{
		Version: b.Version,
		Patterns: detector.DefaultPatterns().Merge(detector.Patterns{
			Critical:   b.Critical,
			UserAgents: b.UserAgents,
			Referrers:  b.Referrers,
		}),
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

func validate(b Bundle) error {
	if strings.TrimSpace(b.Version) == "" {
		return errors.New("rules: version is required")
	}
	if len(b.Critical)+len(b.UserAgents)+len(b.Referrers) == 0 {
		return errors.New("rules: no patterns defined")
	}

	lists := []struct {
		name   string
		tokens []string
	}{
		{"critical_user_agents", b.Critical},
		{"user_agents", b.UserAgents},
		{"referrers", b.Referrers},
	}
	for _, l := range lists {
		for i, t := range l.tokens {
			if strings.TrimSpace(t) == "" {
				return fmt.Errorf("rules: %s[%d] is empty", l.name, i)
			}
		}
	}
	return nil
}
