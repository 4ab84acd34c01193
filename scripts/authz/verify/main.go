// Command verify checks the shipped Casbin policy against a fixture file of
// expected decisions and prints every mismatch as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/iota-uz/roster/pkg/authz"
)

func main() {
	var (
		modelPath    = flag.String("model", "config/access/model.conf", "Casbin model file")
		policyPath   = flag.String("policy", "config/access/policy.csv", "Casbin policy file")
		fixturesPath = flag.String("fixtures", "config/access/fixtures.yaml", "YAML file of expected decisions")
	)
	flag.Parse()

	svc, err := authz.NewService(authz.Config{
		ModelPath:    *modelPath,
		PolicyPath:   *policyPath,
		FlagProvider: authz.StaticFlags(authz.ModeEnforce),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load policy: %v\n", err)
		os.Exit(2)
	}
	cases, err := loadFixtures(*fixturesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixtures: %v\n", err)
		os.Exit(2)
	}

	mismatches, err := runFixtures(context.Background(), svc, cases)
	if err != nil {
		fmt.Fprintf(os.Stderr, "evaluate: %v\n", err)
		os.Exit(2)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, m := range mismatches {
		_ = enc.Encode(m)
	}
	fmt.Fprintf(os.Stderr, "%d cases, %d mismatches\n", len(cases), len(mismatches))
	if len(mismatches) > 0 {
		os.Exit(1)
	}
}
