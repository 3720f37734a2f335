package config

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestBindFlagsOverridesDefaults(t *testing.T) {
	cfg := Default()
	cmd := &cobra.Command{Use: "node"}
	BindFlags(cmd, &cfg)

	if err := cmd.Flags().Parse([]string{"--node-name=n1", "--advanced-heartbeat=250", "-e"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Name != "n1" {
		t.Fatalf("expected node-name to bind, got %q", cfg.Name)
	}
	if cfg.Heartbeat != 250 {
		t.Fatalf("expected heartbeat override, got %d", cfg.Heartbeat)
	}
	if !cfg.Empty {
		t.Fatalf("expected -e to set Empty")
	}
}
