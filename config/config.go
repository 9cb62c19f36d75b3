package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress string   `toml:"ListenAddress"`
	DataDir       string   `toml:"DataDir"`
	AdminAddress  string   `toml:"AdminAddress"`
	VaultAddress  string   `toml:"VaultAddress"`
	APIKey        string   `toml:"APIKey"`
	APISecret     string   `toml:"APISecret"`
	AllowedOrigin []string `toml:"AllowedOrigin"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./escrow-data"
	}
	if cfg.AllowedOrigin == nil {
		cfg.AllowedOrigin = []string{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := ParseAddress(c.AdminAddress); err != nil {
		return fmt.Errorf("config: AdminAddress: %w", err)
	}
	if _, err := ParseAddress(c.VaultAddress); err != nil {
		return fmt.Errorf("config: VaultAddress: %w", err)
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address, with or without an 0x prefix.
func ParseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return out, fmt.Errorf("address must not be empty")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid hex address %q: %w", value, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("address %q must be %d bytes, got %d", value, len(out), len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// Admin returns the parsed admin address. Load has already validated it.
func (c *Config) Admin() [20]byte {
	addr, _ := ParseAddress(c.AdminAddress)
	return addr
}

// Vault returns the parsed vault address. Load has already validated it.
func (c *Config) Vault() [20]byte {
	addr, _ := ParseAddress(c.VaultAddress)
	return addr
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./escrow-data",
		AdminAddress:  "0x" + strings.Repeat("aa", 20),
		VaultAddress:  "0x" + strings.Repeat("ee", 20),
		AllowedOrigin: []string{},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
