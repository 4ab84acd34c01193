package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/iota-uz/roster/modules/roster/domain/member"
	"github.com/iota-uz/roster/modules/roster/domain/structure"
	"github.com/iota-uz/roster/modules/roster/infrastructure/persistence"
	"github.com/iota-uz/roster/pkg/composables"
)

// structureFile is the YAML layout of `structure load`.
type structureFile struct {
	Commands []struct {
		Name      string `yaml:"name"`
		Regionals []struct {
			Name      string   `yaml:"name"`
			Divisions []string `yaml:"divisions"`
		} `yaml:"regionals"`
	} `yaml:"commands"`
	Roles []struct {
		Name    string `yaml:"name"`
		MinRank string `yaml:"min_rank"`
		MaxRank string `yaml:"max_rank"`
	} `yaml:"roles"`
}

type structureCounts struct {
	Commands  int `json:"commands"`
	Regionals int `json:"regionals"`
	Divisions int `json:"divisions"`
	Roles     int `json:"roles"`
}

func readStructureFile(path string) (*structureFile, []structure.Role, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, withCode(exitUsage, errors.Wrapf(err, "read %s", path))
	}
	var f structureFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, nil, withCode(exitValidation, errors.Wrapf(err, "parse %s", path))
	}

	roles := make([]structure.Role, 0, len(f.Roles))
	for i, r := range f.Roles {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return nil, nil, withCode(exitValidation, fmt.Errorf("roles[%d]: name is required", i))
		}
		lo, err := member.ParseRank(r.MinRank)
		if err != nil {
			return nil, nil, withCode(exitValidation, fmt.Errorf("roles[%d].min_rank: %w", i, err))
		}
		hi, err := member.ParseRank(r.MaxRank)
		if err != nil {
			return nil, nil, withCode(exitValidation, fmt.Errorf("roles[%d].max_rank: %w", i, err))
		}
		if lo.Known() && hi.Known() && lo > hi {
			return nil, nil, withCode(exitValidation, fmt.Errorf("roles[%d]: min_rank %s is junior to max_rank %s", i, lo, hi))
		}
		roles = append(roles, structure.Role{Name: name, MinRank: lo, MaxRank: hi})
	}
	for i, c := range f.Commands {
		if strings.TrimSpace(c.Name) == "" {
			return nil, nil, withCode(exitValidation, fmt.Errorf("commands[%d]: name is required", i))
		}
	}
	return &f, roles, nil
}

func loadStructure(ctx context.Context, repo *persistence.StructureRepository, f *structureFile, roles []structure.Role) (structureCounts, error) {
	var n structureCounts
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		for _, c := range f.Commands {
			commandID, err := repo.UpsertCommand(txCtx, strings.TrimSpace(c.Name))
			if err != nil {
				return err
			}
			n.Commands++
			for _, r := range c.Regionals {
				regionalID, err := repo.UpsertRegional(txCtx, commandID, strings.TrimSpace(r.Name))
				if err != nil {
					return err
				}
				n.Regionals++
				for _, d := range r.Divisions {
					if _, err := repo.UpsertDivision(txCtx, regionalID, strings.TrimSpace(d)); err != nil {
						return err
					}
					n.Divisions++
				}
			}
		}
		for _, role := range roles {
			if _, err := repo.UpsertRole(txCtx, role); err != nil {
				return err
			}
			n.Roles++
		}
		return nil
	})
	return n, err
}

func newStructureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "structure",
		Short: "Maintain the command/regional/division tree and the role catalog",
	}

	var file string
	load := &cobra.Command{
		Use:   "load",
		Short: "Upsert the structure described by a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, roles, err := readStructureFile(file)
			if err != nil {
				return err
			}
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := openPool(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx := composables.WithPool(cmd.Context(), pool)
			n, err := loadStructure(ctx, persistence.NewStructureRepository(), f, roles)
			if err != nil {
				return withCode(exitDBWrite, err)
			}
			return writeJSONLine(cmd.OutOrStdout(), n)
		},
	}
	load.Flags().StringVar(&file, "file", "", "YAML structure file (required)")
	_ = load.MarkFlagRequired("file")
	cmd.AddCommand(load)
	return cmd
}
