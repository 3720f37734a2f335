package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeINI(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "resql.conf")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write ini: %v", err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Heartbeat != 1000 || !cfg.Fsync || cfg.LogLevel != LogInfo {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadParsesAllSections(t *testing.T) {
	path := writeINI(t, `
# comment
[node]
name = n1
bind-url = tcp://u@127.0.0.1:7600
log-level = debug
in-memory = true

[cluster]
name = mycluster
nodes = tcp://u@10.0.0.1:7600 tcp://u@10.0.0.2:7600

[advanced]
heartbeat = 500
fsync = false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "n1" || cfg.BindURL != "tcp://u@127.0.0.1:7600" {
		t.Fatalf("unexpected node fields: %+v", cfg)
	}
	if cfg.LogLevel != LogDebug || !cfg.InMemory {
		t.Fatalf("unexpected node flags: %+v", cfg)
	}
	if cfg.ClusterName != "mycluster" || len(cfg.Nodes) != 2 {
		t.Fatalf("unexpected cluster fields: %+v", cfg)
	}
	if cfg.Heartbeat != 500 || cfg.Fsync {
		t.Fatalf("unexpected advanced fields: %+v", cfg)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeINI(t, "[node]\nbogus = 1\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown key to error")
	}
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	path := writeINI(t, "[node]\nlog-level = TRACE\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unrecognized log level to error")
	}
}

func TestSplitURLListTruncatesAt16(t *testing.T) {
	urls := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		urls = append(urls, "tcp://u@host:1")
	}
	got := splitURLList(joinSpace(urls))
	if len(got) != 16 {
		t.Fatalf("expected truncation to 16 entries, got %d", len(got))
	}
}

func joinSpace(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
