package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestIAMAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "iam.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read alert rules: %v", err)
	}
	var spec alertSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("parse alert rules: %v", err)
	}
	if len(spec.Groups) != 1 {
		t.Fatalf("expected one group, got %d", len(spec.Groups))
	}

	metrics := []string{
		"odyssey_auth_attempts_total",
		"odyssey_authz_decisions_total",
		"odyssey_jobs_failures_total",
	}
	seen := make(map[string]bool)
	for _, rule := range spec.Groups[0].Rules {
		if rule.Alert == "" || rule.Expr == "" {
			t.Fatalf("rule missing alert or expr: %+v", rule)
		}
		if rule.Labels["severity"] == "" {
			t.Fatalf("rule %s missing severity", rule.Alert)
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["runbook"] == "" {
			t.Fatalf("rule %s missing annotations", rule.Alert)
		}
		for _, m := range metrics {
			if strings.Contains(rule.Expr, m) {
				seen[m] = true
			}
		}
	}
	for _, m := range metrics {
		if !seen[m] {
			t.Fatalf("no alert references %s", m)
		}
	}
}
