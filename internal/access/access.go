// Package access decides which sites may write which documents.
package access

import (
	"fmt"
	"os"
	"path"
	"sync"

	"gopkg.in/yaml.v3"
)

// AllowAll grants every site write access to every document.
type AllowAll struct{}

// CanWrite always returns true.
func (AllowAll) CanWrite(string, string) bool { return true }

// Policy is a YAML-defined write policy.
//
//	default: deny
//	rules:
//	  - site: alice
//	    documents: ["notes/*", "todo"]
//	  - site: "*"
//	    documents: ["public/*"]
//	    read_only: false
//
// Rules are matched in order; the first rule whose site and document
// patterns both match decides. Patterns use path.Match syntax. Without a
// matching rule the default applies.
type Policy struct {
	Default string `yaml:"default"`
	Rules   []Rule `yaml:"rules"`
}

// Rule grants (or with ReadOnly, denies) writes on matching documents.
type Rule struct {
	Site      string   `yaml:"site"`
	Documents []string `yaml:"documents"`
	ReadOnly  bool     `yaml:"read_only"`
}

const (
	defaultAllow = "allow"
	defaultDeny  = "deny"
)

// ParsePolicy decodes and validates a YAML policy.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPolicy reads a YAML policy file.
func LoadPolicy(file string) (*Policy, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return p, nil
}

// Validate checks the default and every pattern.
func (p *Policy) Validate() error {
	switch p.Default {
	case "", defaultAllow, defaultDeny:
	default:
		return fmt.Errorf("policy default must be %q or %q, got %q", defaultAllow, defaultDeny, p.Default)
	}
	for i, r := range p.Rules {
		if r.Site == "" {
			return fmt.Errorf("rule %d: site is required", i)
		}
		if _, err := path.Match(r.Site, ""); err != nil {
			return fmt.Errorf("rule %d: bad site pattern %q: %w", i, r.Site, err)
		}
		if len(r.Documents) == 0 {
			return fmt.Errorf("rule %d: at least one document pattern is required", i)
		}
		for _, d := range r.Documents {
			if _, err := path.Match(d, ""); err != nil {
				return fmt.Errorf("rule %d: bad document pattern %q: %w", i, d, err)
			}
		}
	}
	return nil
}

// CanWrite reports whether site may emit write operations for docID.
func (p *Policy) CanWrite(site, docID string) bool {
	for _, r := range p.Rules {
		if !match(r.Site, site) {
			continue
		}
		for _, d := range r.Documents {
			if match(d, docID) {
				return !r.ReadOnly
			}
		}
	}
	return p.Default != defaultDeny
}

func match(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// Reloadable wraps a policy file that can be re-read at runtime.
//
// Thread-safety: CanWrite and Reload are safe for concurrent use.
type Reloadable struct {
	file string

	mu     sync.RWMutex
	policy *Policy
}

// NewReloadable loads file once.
func NewReloadable(file string) (*Reloadable, error) {
	p, err := LoadPolicy(file)
	if err != nil {
		return nil, err
	}
	return &Reloadable{file: file, policy: p}, nil
}

// Reload re-reads the file. On error the previous policy stays in force.
func (r *Reloadable) Reload() error {
	p, err := LoadPolicy(r.file)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.policy = p
	r.mu.Unlock()
	return nil
}

// CanWrite implements the authorizer contract with the current policy.
func (r *Reloadable) CanWrite(site, docID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy.CanWrite(site, docID)
}
