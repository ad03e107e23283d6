package rv

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config holds the tunables the original source took as rv_init
// arguments (corrupt, block_threshold) plus the crash-consistency and
// multiple-block-update flags the filesystem plugin reports about
// itself. It is the root of the value LoadConfig parses.
type Config struct {
	// Corrupt, when true, makes every write run through the plugin's
	// Corrupt hook right after its write-cache entry is attached.
	Corrupt bool `json:"corrupt"`
	// CrashConsistent should be true when the host filesystem promises
	// never to read back a block it has written in the same
	// transaction before committing.
	CrashConsistent bool `json:"crashConsistent"`
	// MultipleBlockUpdates should be true when the host filesystem may
	// write the same block number more than once inside one
	// transaction.
	MultipleBlockUpdates bool `json:"multipleBlockUpdates"`
	// BlockThreshold is the target number of attached blocks to keep in
	// memory; 0 disables eviction.
	BlockThreshold int `json:"blockThreshold"`
	// LogDir is where rv.log and rv_change.log are written. Empty means
	// the current directory.
	LogDir string `json:"logDir"`
}

// LoadConfig reads a HuJSON (JSON with comments and trailing commas)
// config file at path. HuJSON lets the file carry the same kind of
// inline rationale a developer would otherwise put in a README next to
// a plain JSON config.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("rv: LoadConfig: %w", err)
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, fmt.Errorf("rv: LoadConfig: %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return Config{}, fmt.Errorf("rv: LoadConfig: %s: %w", path, err)
	}
	return cfg, nil
}
