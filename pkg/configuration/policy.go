package configuration

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// PolicyTier is one rung of the visibility ladder.
type PolicyTier struct {
	MaxRank int    `yaml:"max_rank"`
	Level   string `yaml:"level"`
}

// Policy holds the business rules that are data rather than code: the
// visibility ladder and the normalizer abbreviation table.
type Policy struct {
	Scope struct {
		Tiers           []PolicyTier `yaml:"tiers"`
		Fallback        string       `yaml:"fallback"`
		CommandRoles    []string     `yaml:"command_roles"`
		SuperAdminRoles []string     `yaml:"super_admin_roles"`
	} `yaml:"scope"`
	Abbreviations map[string]string `yaml:"abbreviations"`
}

// LoadPolicy reads a policy file. A missing file yields an empty policy and
// callers fall back to built-in defaults.
func LoadPolicy(path string) (*Policy, error) {
	p := &Policy{}
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, errors.Wrapf(err, "read policy %s", path)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		if errors.Is(err, io.EOF) {
			return p, nil
		}
		return nil, errors.Wrapf(err, "parse policy %s", path)
	}
	return p, nil
}
