// Package config loads kerneld's runtime settings from a TOML file
// layered with environment-variable overrides, generalizing the
// teacher's internal/util.NewConfigStore (file layer + SLUG__-prefixed
// env layer + CLI-args layer) into a typed Config struct instead of an
// untyped string-keyed map, since a kernel has a small, fixed set of
// tunables known up front rather than an open-ended scripting
// environment's module-local settings.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config mirrors runtime.Config plus the knobs owned by cmd/kerneld
// itself (listen port, node identity, state backend, peer addresses).
type Config struct {
	NodeID        uint32   `toml:"node_id"`
	Identity      string   `toml:"identity"`
	MaxActors     int      `toml:"max_actors"`
	DefaultMBox   int      `toml:"default_mailbox"`
	PollIdleMs    int64    `toml:"poll_idle_ms"`
	HTTPPort      int      `toml:"http_port"`
	StateDriver   string   `toml:"state_driver"` // "fs", "sqlite3", "mysql"
	StateDSN      string   `toml:"state_dsn"`
	PeerAddrs     []string `toml:"peer_addrs"`
	TransportAddr string   `toml:"transport_addr"` // empty disables inbound peer connections

	PollIdle time.Duration `toml:"-"`
}

// Default returns the settings cmd/kerneld starts from before any file
// or environment layer is applied.
func Default() Config {
	return Config{
		NodeID:      1,
		Identity:    defaultIdentity(),
		MaxActors:   4096,
		DefaultMBox: 32,
		PollIdleMs:  100,
		HTTPPort:    19884,
		StateDriver: "fs",
		StateDSN:    "./kerneld-state",
		PollIdle:    100 * time.Millisecond,
	}
}

// defaultIdentity implements the POSIX half of node identity: the
// machine hostname, or a SHA-1 suffix of the process id when the
// hostname can't be read. Either may still be
// overridden by the identity file field or KERNELD__identity.
func defaultIdentity() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	sum := sha1.Sum([]byte(strconv.FormatInt(int64(os.Getpid()), 10)))
	return "node-" + hex.EncodeToString(sum[:])[:12]
}

// envPrefix mirrors the teacher's "SLUG__" convention, renamed to this
// module's domain.
const envPrefix = "KERNELD__"

// Load builds a Config by layering, in ascending precedence: built-in
// defaults, a TOML file at configPath (skipped silently if absent, the
// same tolerant behavior as NewConfigStore's file layer), then
// KERNELD__-prefixed environment variables (e.g. KERNELD__node_id=2).
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	applyEnv(&cfg)
	cfg.PollIdle = time.Duration(cfg.PollIdleMs) * time.Millisecond
	return cfg, nil
}

func applyEnv(cfg *Config) {
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, envPrefix) {
			continue
		}
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(pair[0], envPrefix))
		val := pair[1]
		switch key {
		case "node_id":
			if n, err := strconv.ParseUint(val, 10, 32); err == nil {
				cfg.NodeID = uint32(n)
			}
		case "identity":
			cfg.Identity = val
		case "max_actors":
			if n, err := strconv.Atoi(val); err == nil {
				cfg.MaxActors = n
			}
		case "default_mailbox":
			if n, err := strconv.Atoi(val); err == nil {
				cfg.DefaultMBox = n
			}
		case "poll_idle_ms":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				cfg.PollIdleMs = n
			}
		case "http_port":
			if n, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = n
			}
		case "state_driver":
			cfg.StateDriver = val
		case "state_dsn":
			cfg.StateDSN = val
		case "peer_addrs":
			cfg.PeerAddrs = splitNonEmpty(val, ",")
		case "transport_addr":
			cfg.TransportAddr = val
		}
	}
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DefaultPath returns the conventional config file location next to the
// binary's working directory, mirroring the teacher's rootPath-relative
// "slug.toml" lookup.
func DefaultPath(rootPath string) string {
	if rootPath == "" {
		return "kerneld.toml"
	}
	return filepath.Join(rootPath, "kerneld.toml")
}
