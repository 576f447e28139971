package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadParsesYAML(t *testing.T) {
	p := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 8448
storage:
  db_path: "/tmp/rg"
federation:
  server_name: "example.org"
  queue_capacity: 2048
  workers: 8
rate_limit:
  rps: 2.5
  burst: 5
compaction:
  enabled: true
  cron: "0 3 * * *"
logging:
  level: "debug"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8448" {
		t.Fatalf("Addr = %q", cfg.Addr())
	}
	if cfg.Federation.ServerName != "example.org" || cfg.Federation.Workers != 8 {
		t.Fatalf("federation config: %+v", cfg.Federation)
	}
	if cfg.RateLimit.RPS != 2.5 || cfg.RateLimit.Burst != 5 {
		t.Fatalf("rate limit config: %+v", cfg.RateLimit)
	}
	if !cfg.Compaction.Enabled || cfg.Compaction.Cron != "0 3 * * *" {
		t.Fatalf("compaction config: %+v", cfg.Compaction)
	}
}

func TestEffectiveConfigFileWins(t *testing.T) {
	fileCfg := &Config{}
	fileCfg.Server.Address = "0.0.0.0"
	fileCfg.Server.Port = 9000
	fileCfg.Storage.DBPath = "/file/db"
	fileCfg.Federation.ServerName = "file.example"

	envCfg := &Config{}
	envCfg.Storage.DBPath = "/env/db"

	flags := Flags{Set: map[string]bool{}}
	eff, err := LoadEffectiveConfig(flags, fileCfg, true, envCfg)
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if eff.Source != "config" || eff.DBPath != "/file/db" || eff.ServerName != "file.example" {
		t.Fatalf("unexpected effective config: %+v", eff)
	}
}

func TestEffectiveConfigFlagsWin(t *testing.T) {
	fileCfg := &Config{}
	fileCfg.Storage.DBPath = "/file/db"
	fileCfg.Federation.ServerName = "file.example"

	flags := Flags{
		Addr: ":7000",
		DB:   "/flag/db",
		Name: "flag.example",
		Set:  map[string]bool{"addr": true, "db": true, "name": true},
	}
	eff, err := LoadEffectiveConfig(flags, fileCfg, true, &Config{})
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if eff.Source != "flags" || eff.Addr != ":7000" || eff.DBPath != "/flag/db" || eff.ServerName != "flag.example" {
		t.Fatalf("unexpected effective config: %+v", eff)
	}
}

func TestEffectiveConfigEnvFallback(t *testing.T) {
	t.Setenv("ROOMGRAPH_ADDR", "127.0.0.1:8449")
	t.Setenv("ROOMGRAPH_DB_PATH", "/env/db")
	t.Setenv("ROOMGRAPH_SERVER_NAME", "env.example")
	t.Setenv("ROOMGRAPH_RATE_RPS", "7.5")

	envCfg, used := ParseConfigEnvs()
	if !used {
		t.Fatalf("env not detected")
	}
	flags := Flags{Set: map[string]bool{}}
	eff, err := LoadEffectiveConfig(flags, &Config{}, false, envCfg)
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if eff.Source != "env" || eff.Addr != "127.0.0.1:8449" || eff.ServerName != "env.example" {
		t.Fatalf("unexpected effective config: %+v", eff)
	}
	if eff.Config.RateLimit.RPS != 7.5 {
		t.Fatalf("env rate limit not applied: %+v", eff.Config.RateLimit)
	}
}

func TestExplicitConfigFlagRequiresFile(t *testing.T) {
	flags := Flags{Config: "/does/not/exist.yaml", Set: map[string]bool{"config": true}}
	if _, err := LoadEffectiveConfig(flags, &Config{}, false, &Config{}); err == nil {
		t.Fatalf("explicit --config without a file must fail")
	}
}
