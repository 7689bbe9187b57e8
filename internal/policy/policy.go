// Package policy loads and validates the watched-policy registry. Each
// entry describes one document under watch: where to fetch it, who gets
// notified on changes, and when it is checked.
package policy

import (
	"fmt"
	"net/mail"
	"os"
	"strings"

	kerrors "github.com/harunnryd/kanshi/internal/errors"
	"github.com/harunnryd/kanshi/internal/pathutil"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Policy is one watched document.
type Policy struct {
	Name       string   `yaml:"name"`
	OwnerKey   string   `yaml:"owner_key"`
	SourceURL  string   `yaml:"source_url"`
	DocURL     string   `yaml:"doc_url"`
	Recipients []string `yaml:"recipients"`
	CC         []string `yaml:"cc"`
	Schedule   string   `yaml:"schedule"`

	// Per-policy overrides. Zero means "use the global config value".
	DriftCeiling  float64 `yaml:"drift_ceiling"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// Registry holds all watched policies keyed by owner key.
type Registry struct {
	policies []Policy
	byOwner  map[string]*Policy
}

type registryFile struct {
	Policies []Policy `yaml:"policies"`
}

// LoadRegistry reads and validates a policies.yaml file.
func LoadRegistry(path string) (*Registry, error) {
	expanded, err := pathutil.Expand(path)
	if err != nil {
		return nil, kerrors.InvalidInput(fmt.Sprintf("invalid policies path: %v", err))
	}

	raw, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kerrors.NotFound(fmt.Sprintf("policies file not found: %s", expanded))
		}
		return nil, fmt.Errorf("failed to read policies file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, kerrors.InvalidInput(fmt.Sprintf("failed to parse policies file: %v", err))
	}

	return NewRegistry(file.Policies)
}

// NewRegistry validates the given policies and indexes them by owner key.
func NewRegistry(policies []Policy) (*Registry, error) {
	byOwner := make(map[string]*Policy, len(policies))
	for i := range policies {
		p := &policies[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byOwner[p.OwnerKey]; dup {
			return nil, kerrors.InvalidInput(fmt.Sprintf("duplicate owner_key %q", p.OwnerKey))
		}
		byOwner[p.OwnerKey] = p
	}
	return &Registry{policies: policies, byOwner: byOwner}, nil
}

// Validate checks a single policy entry for structural problems.
func (p *Policy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return kerrors.InvalidInput("policy name is required")
	}
	if strings.TrimSpace(p.OwnerKey) == "" {
		return kerrors.InvalidInput(fmt.Sprintf("policy %q: owner_key is required", p.Name))
	}
	if strings.TrimSpace(p.SourceURL) == "" {
		return kerrors.InvalidInput(fmt.Sprintf("policy %q: source_url is required", p.Name))
	}
	if len(p.Recipients) == 0 {
		return kerrors.InvalidInput(fmt.Sprintf("policy %q: at least one recipient is required", p.Name))
	}
	for _, addr := range append(append([]string{}, p.Recipients...), p.CC...) {
		if _, err := mail.ParseAddress(addr); err != nil {
			return kerrors.InvalidInput(fmt.Sprintf("policy %q: invalid address %q", p.Name, addr))
		}
	}
	if p.Schedule != "" {
		if _, err := cron.ParseStandard(p.Schedule); err != nil {
			return kerrors.InvalidInput(fmt.Sprintf("policy %q: invalid schedule %q: %v", p.Name, p.Schedule, err))
		}
	}
	if p.DriftCeiling < 0 || p.DriftCeiling > 1 {
		return kerrors.InvalidInput(fmt.Sprintf("policy %q: drift_ceiling must be within [0,1]", p.Name))
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return kerrors.InvalidInput(fmt.Sprintf("policy %q: min_confidence must be within [0,1]", p.Name))
	}
	return nil
}

// All returns every policy in registry order.
func (r *Registry) All() []Policy {
	out := make([]Policy, len(r.policies))
	copy(out, r.policies)
	return out
}

// Get returns the policy for the given owner key.
func (r *Registry) Get(ownerKey string) (*Policy, error) {
	p, ok := r.byOwner[ownerKey]
	if !ok {
		return nil, kerrors.NotFound(fmt.Sprintf("no policy registered for owner_key %q", ownerKey))
	}
	return p, nil
}

// Len reports how many policies are registered.
func (r *Registry) Len() int {
	return len(r.policies)
}
