package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/iota-uz/roster/pkg/authz"
)

type fixtureCase struct {
	User   string   `yaml:"user"`
	Roles  []string `yaml:"roles"`
	Object string   `yaml:"object"`
	Action string   `yaml:"action"`
	Allow  bool     `yaml:"allow"`
	Note   string   `yaml:"note,omitempty"`
}

type fixtureFile struct {
	Cases []fixtureCase `yaml:"cases"`
}

type mismatch struct {
	User     string   `json:"user,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Object   string   `json:"object"`
	Action   string   `json:"action"`
	Expected bool     `json:"expected"`
	Casbin   bool     `json:"casbin"`
	Note     string   `json:"note,omitempty"`
}

type checker interface {
	CheckCaller(ctx context.Context, userID string, roles []string, object, action string) (bool, error)
}

func loadFixtures(path string) ([]fixtureCase, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var f fixtureFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i, c := range f.Cases {
		if c.Object == "" || c.Action == "" {
			return nil, fmt.Errorf("%s: case %d needs object and action", path, i+1)
		}
		if c.User == "" && len(c.Roles) == 0 {
			return nil, fmt.Errorf("%s: case %d needs a user or roles", path, i+1)
		}
	}
	return f.Cases, nil
}

func runFixtures(ctx context.Context, svc checker, cases []fixtureCase) ([]mismatch, error) {
	var out []mismatch
	for _, c := range cases {
		got, err := svc.CheckCaller(ctx, c.User, c.Roles, c.Object, authz.NormalizeAction(c.Action))
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", c.Object, c.Action, err)
		}
		if got != c.Allow {
			out = append(out, mismatch{
				User:     c.User,
				Roles:    c.Roles,
				Object:   c.Object,
				Action:   c.Action,
				Expected: c.Allow,
				Casbin:   got,
				Note:     c.Note,
			})
		}
	}
	return out, nil
}
