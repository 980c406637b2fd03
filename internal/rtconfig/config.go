// Package rtconfig loads the TOML file that configures a dispatch
// session: tier thresholds, stack limits, whether quickening is enabled,
// and whether builder source text is retained.
package rtconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const ConfigFileName = "opcore.toml"

// Config is what a host embedding opcore tunes per project.
type Config struct {
	Dispatch DispatchConfig `toml:"dispatch"`
	Builder  BuilderConfig  `toml:"builder"`
}

// DispatchConfig governs RootCallTarget's tiering and stack behavior.
type DispatchConfig struct {
	// HotThreshold is the invocation count at which a root transitions
	// from Uncached to Cached (overrides dispatch.FunctionHotThreshold).
	HotThreshold int `toml:"hot_threshold"`

	// MaxStackDepth bounds the operand stack the verifier accepts for
	// any one root (overrides bytecode.DefaultMaxStackDepth).
	MaxStackDepth int `toml:"max_stack_depth"`

	// EnableQuickening turns off opcode rewriting entirely when false,
	// useful for reproducing a bug without specialization noise.
	EnableQuickening bool `toml:"enable_quickening"`
}

// BuilderConfig governs Builder.
type BuilderConfig struct {
	// SourceRetention keeps RegisterSource text around for
	// DebugInfo.BuildFromBuffer when true; a host that never
	// disassembles can set this false to save memory.
	SourceRetention bool `toml:"source_retention"`
}

func Default() *Config {
	return &Config{
		Dispatch: DispatchConfig{
			HotThreshold:     1000,
			MaxStackDepth:    1024,
			EnableQuickening: true,
		},
		Builder: BuilderConfig{SourceRetention: true},
	}
}

// Load reads and parses path, filling in defaults for any field the
// file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rtconfig: read %s: %w", path, err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("rtconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Find walks up from startPath looking for opcore.toml, returning ""
// if none is found before the filesystem root.
func Find(startPath string) string {
	info, err := os.Stat(startPath)
	if err != nil {
		return ""
	}
	dir := startPath
	if !info.IsDir() {
		dir = filepath.Dir(startPath)
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Save writes cfg to path as plain TOML (one [dispatch] and one
// [builder] table, no comments), mirroring what a generated project
// config looks like.
func (c *Config) Save(path string) error {
	var sb strings.Builder
	sb.WriteString("[dispatch]\n")
	fmt.Fprintf(&sb, "hot_threshold = %d\n", c.Dispatch.HotThreshold)
	fmt.Fprintf(&sb, "max_stack_depth = %d\n", c.Dispatch.MaxStackDepth)
	fmt.Fprintf(&sb, "enable_quickening = %t\n\n", c.Dispatch.EnableQuickening)
	sb.WriteString("[builder]\n")
	fmt.Fprintf(&sb, "source_retention = %t\n", c.Builder.SourceRetention)
	return os.WriteFile(path, []byte(sb.String()), 0644)
}
