package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndYAML(t *testing.T) {
	path := writeTempConfig(t, "host: 127.0.0.1\nports:\n  tcp: 9000\n")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Host != "127.0.0.1" || c.Ports.TCP != 9000 {
		t.Fatalf("unexpected config: %+v", c)
	}
	if c.RequestResponseConf.Timeout.MaxMs <= c.RequestResponseConf.Timeout.DefaultMs {
		t.Fatal("expected default timeout bounds to still hold")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeTempConfig(t, "host: 127.0.0.1\n")
	t.Setenv("BROKER_HOST", "10.0.0.5")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Host != "10.0.0.5" {
		t.Fatalf("expected env override to win, got %q", c.Host)
	}
}

func TestValidateRejectsBadTimeoutBounds(t *testing.T) {
	c := Default()
	c.RequestResponseConf.Timeout.MaxMs = c.RequestResponseConf.Timeout.DefaultMs
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for max <= default")
	}
}

func TestValidateRejectsMissingTLSMaterial(t *testing.T) {
	c := Default()
	c.Ports.TLS = 4443
	c.SSL = nil
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for tls port without ssl material")
	}
}
