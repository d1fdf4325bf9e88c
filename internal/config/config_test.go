package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vmhost.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
[runtime]
scripts_dir = "/srv/scripts"
scenes = ["lobby.yaml", "hall.yaml"]
blacklist = ["cube_mesh"]
call_timeout = "10ms"
debug_logging = true

[loop]
tick_rate = "100ms"

[logging]
format = "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.ScriptsDir != "/srv/scripts" || len(cfg.Runtime.Scenes) != 2 || cfg.Runtime.Blacklist[0] != "cube_mesh" {
		t.Errorf("runtime = %+v", cfg.Runtime)
	}
	if cfg.Runtime.CallTimeout != 10*time.Millisecond || !cfg.Runtime.DebugLogging {
		t.Errorf("runtime = %+v", cfg.Runtime)
	}
	if !cfg.Runtime.Enabled {
		t.Error("enabled should keep its default")
	}
	if cfg.Loop.TickRate != 100*time.Millisecond || cfg.Loop.FixedStep != 20*time.Millisecond {
		t.Errorf("loop = %+v", cfg.Loop)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "info" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.StartTime == 0 {
		t.Error("StartTime not set")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()
	cases := []struct {
		body string
		want string
	}{
		{"[loop]\nfixed_step = \"0s\"", "fixed_step"},
		{"[feed]\nenabled = true", "token_hash"},
		{"[database]\nenabled = true\ndsn = \"\"", "database.dsn"},
		{"[loop\n", "parse config"},
	}
	for _, tc := range cases {
		_, err := Load(writeConfig(t, tc.body))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%q: err = %v, want %q", tc.body, err, tc.want)
		}
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}
