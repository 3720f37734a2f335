// Package config implements the INI + CLI configuration loader of
// spec.md §6: a small hand-rolled INI reader for the three recognized
// sections (node, cluster, advanced), overlaid by CLI flags that
// mirror every key as `--section-key=value`.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LogLevel is one of the four recognized node.log-level values.
type LogLevel string

const (
	LogDebug LogLevel = "DEBUG"
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// Config is the fully-resolved node configuration, INI defaults
// overlaid by any CLI flags the caller applied on top.
type Config struct {
	// node
	Name          string
	BindURL       string
	AdvertiseURL  string
	SourceAddr    string
	SourcePort    int
	LogLevel      LogLevel
	LogDestination string // "stdout" | "file"
	Directory     string
	InMemory      bool

	// cluster
	ClusterName string
	Nodes       []string // space-separated URL list, split

	// advanced
	Heartbeat int64 // ms
	Fsync     bool

	// process flags, not persisted to the INI file
	Empty bool // -e/--empty: wipe persistent state
	Wipe  bool // -w/--wipe: wipe and exit
}

// Default returns the documented defaults (spec.md §6): heartbeat
// 1000ms, fsync true, INFO logging to stdout.
func Default() Config {
	return Config{
		LogLevel:       LogInfo,
		LogDestination: "stdout",
		Heartbeat:      1000,
		Fsync:          true,
	}
}

// Load reads an INI file at path (section headers `[node]`,
// `[cluster]`, `[advanced]`, `key = value` lines, `#`/`;` comments) on
// top of Default(). A missing file is not an error — Default() alone
// is returned.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	if err := parseINI(f, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func parseINI(r io.Reader, cfg *Config) error {
	section := ""
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, ";") {
			continue
		}
		if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") {
			section = strings.ToLower(strings.TrimSpace(text[1 : len(text)-1]))
			continue
		}
		idx := strings.Index(text, "=")
		if idx < 0 {
			return fmt.Errorf("line %d: expected key = value", line)
		}
		key := strings.ToLower(strings.TrimSpace(text[:idx]))
		val := strings.TrimSpace(text[idx+1:])
		if err := applyKey(cfg, section, key, val); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

func applyKey(cfg *Config, section, key, val string) error {
	switch section {
	case "node":
		return applyNodeKey(cfg, key, val)
	case "cluster":
		return applyClusterKey(cfg, key, val)
	case "advanced":
		return applyAdvancedKey(cfg, key, val)
	default:
		return fmt.Errorf("unrecognized section %q", section)
	}
}

func applyNodeKey(cfg *Config, key, val string) error {
	switch key {
	case "name":
		cfg.Name = val
	case "bind-url":
		cfg.BindURL = val
	case "advertise-url":
		cfg.AdvertiseURL = val
	case "source-addr":
		cfg.SourceAddr = val
	case "source-port":
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("node.source-port: %w", err)
		}
		cfg.SourcePort = port
	case "log-level":
		lvl := LogLevel(strings.ToUpper(val))
		switch lvl {
		case LogDebug, LogInfo, LogWarn, LogError:
			cfg.LogLevel = lvl
		default:
			return fmt.Errorf("node.log-level: unrecognized value %q", val)
		}
	case "log-destination":
		if val != "stdout" && val != "file" {
			return fmt.Errorf("node.log-destination: unrecognized value %q", val)
		}
		cfg.LogDestination = val
	case "directory":
		cfg.Directory = val
	case "in-memory":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("node.in-memory: %w", err)
		}
		cfg.InMemory = b
	default:
		return fmt.Errorf("unrecognized node key %q", key)
	}
	return nil
}

func applyClusterKey(cfg *Config, key, val string) error {
	switch key {
	case "name":
		cfg.ClusterName = val
	case "nodes":
		cfg.Nodes = splitURLList(val)
	default:
		return fmt.Errorf("unrecognized cluster key %q", key)
	}
	return nil
}

func applyAdvancedKey(cfg *Config, key, val string) error {
	switch key {
	case "heartbeat":
		ms, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("advanced.heartbeat: %w", err)
		}
		cfg.Heartbeat = ms
	case "fsync":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("advanced.fsync: %w", err)
		}
		cfg.Fsync = b
	default:
		return fmt.Errorf("unrecognized advanced key %q", key)
	}
	return nil
}

// maxInitialNodes is the initial-config URL-list truncation spec.md §9
// documents as a preserved quirk of the source implementation (Open
// Question (a): preserve silent truncation rather than surface an
// error).
const maxInitialNodes = 16

// splitURLList splits a space-separated node URL list, silently
// truncating beyond maxInitialNodes entries.
func splitURLList(val string) []string {
	fields := strings.Fields(val)
	if len(fields) > maxInitialNodes {
		fields = fields[:maxInitialNodes]
	}
	return fields
}
