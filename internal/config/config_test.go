package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rosterline/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, ft := range []domain.FlowType{domain.FlowVenueSetup, domain.FlowStaffSetup, domain.FlowPhaseSetup} {
		f, ok := cfg.Flow(ft)
		if !ok {
			t.Fatalf("default config missing flow %s", ft)
		}
		if f.EstimatedMinutes() <= 0 {
			t.Fatalf("flow %s has no estimate", ft)
		}
	}
}

func TestDomainSteps(t *testing.T) {
	f, _ := Default().Flow(domain.FlowVenueSetup)
	steps := f.DomainSteps()
	if len(steps) != len(f.Steps) {
		t.Fatalf("steps = %d want %d", len(steps), len(f.Steps))
	}
	if m, ok := domain.MetaInt(steps[0].Metadata, domain.MetaEstimatedMinutes); !ok || m != f.Steps[0].EstimatedMinutes {
		t.Fatalf("step estimate not carried: %v %v", m, ok)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "empty", yaml: "flows: []", want: "config.flows is required"},
		{name: "lower case type", yaml: "flows:\n  - type: venue\n    steps:\n      - {id: a, title: A}\n", want: "upper case"},
		{name: "no steps", yaml: "flows:\n  - type: VENUE\n", want: "has no steps"},
		{name: "duplicate step", yaml: "flows:\n  - type: VENUE\n    steps:\n      - {id: a, title: A}\n      - {id: a, title: B}\n", want: "not unique"},
		{name: "duplicate flow", yaml: "flows:\n  - type: VENUE\n    steps:\n      - {id: a, title: A}\n  - type: VENUE\n    steps:\n      - {id: a, title: A}\n", want: "defined twice"},
		{name: "negative estimate", yaml: "flows:\n  - type: VENUE\n    steps:\n      - {id: a, title: A, estimated_minutes: -1}\n", want: "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if len(cfg.Flows) != 3 {
		t.Fatalf("expected built-in catalog, got %d flows", len(cfg.Flows))
	}
	custom := "flows:\n  - type: MENU_SETUP\n    steps:\n      - {id: menu, title: Menu}\n"
	if err := os.WriteFile(filepath.Join(dir, "rosterline.yml"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("load custom: %v", err)
	}
	if _, ok := cfg.Flow("MENU_SETUP"); !ok {
		t.Fatalf("custom flow not loaded")
	}
}

func TestLoadServerEnv(t *testing.T) {
	t.Setenv("ROSTERLINE_JWT_SECRET", "s3cret")
	e, err := LoadServerEnv()
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	if e.JWTSecret != "s3cret" || e.BasePath != "/v0" || e.Addr == "" {
		t.Fatalf("unexpected env: %+v", e)
	}
	t.Setenv("ROSTERLINE_DEV_LOGIN", "maybe")
	if _, err := LoadServerEnv(); err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}
