package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/privacyservices/psm/internal/location"
	"github.com/privacyservices/psm/internal/tcc"
)

// DefaultPath is read when neither --config nor PSM_CONFIG names a file. It
// is optional.
const DefaultPath = "/Library/Preferences/psm/config.yaml"

type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Paths    PathsConfig    `yaml:"paths"`
	Tools    ToolsConfig    `yaml:"tools"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is text, json, or auto (text on a terminal, json otherwise).
	Format string `yaml:"format"`
	// Dest is the log file. Empty picks a per-privilege default.
	Dest string `yaml:"dest"`
}

// DefaultsConfig supplies values for flags the user did not pass.
type DefaultsConfig struct {
	Language string `yaml:"language"`
	User     string `yaml:"user"`
}

type PathsConfig struct {
	TCCRootDB      string `yaml:"tcc_root_db"`
	TemplateDir    string `yaml:"template_dir"`
	UsersDir       string `yaml:"users_dir"`
	LocationStore  string `yaml:"location_store"`
	LocationClient string `yaml:"location_clients"`
	ByHostDir      string `yaml:"byhost_dir"`
	LaunchdPlist   string `yaml:"launchd_plist"`
	ServiceAccount string `yaml:"service_account"`
}

type ToolsConfig struct {
	Launchctl string `yaml:"launchctl"`
	Chown     string `yaml:"chown"`
	Ioreg     string `yaml:"ioreg"`
	Defaults  string `yaml:"defaults"`
	Codesign  string `yaml:"codesign"`
	Mdfind    string `yaml:"mdfind"`
}

// Load reads path and applies defaults and environment overrides. A missing
// file at DefaultPath is treated as an empty configuration.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if !(path == DefaultPath && errors.Is(err, fs.ErrNotExist)) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		b = nil
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}
	if cfg.Defaults.Language == "" {
		cfg.Defaults.Language = "English"
	}

	tp := tcc.DefaultPaths()
	if cfg.Paths.TCCRootDB == "" {
		cfg.Paths.TCCRootDB = tp.RootDB
	}
	if cfg.Paths.TemplateDir == "" {
		cfg.Paths.TemplateDir = tp.TemplateDir
	}
	if cfg.Paths.UsersDir == "" {
		cfg.Paths.UsersDir = tp.UsersDir
	}

	lp := location.DefaultPaths()
	if cfg.Paths.LocationStore == "" {
		cfg.Paths.LocationStore = lp.StoreDir
	}
	if cfg.Paths.LocationClient == "" {
		cfg.Paths.LocationClient = lp.ClientsPlist
	}
	if cfg.Paths.ByHostDir == "" {
		cfg.Paths.ByHostDir = lp.ByHostDir
	}
	if cfg.Paths.LaunchdPlist == "" {
		cfg.Paths.LaunchdPlist = lp.LaunchdPlist
	}
	if cfg.Paths.ServiceAccount == "" {
		cfg.Paths.ServiceAccount = lp.ServiceAccount
	}

	lt := location.DefaultTools()
	if cfg.Tools.Launchctl == "" {
		cfg.Tools.Launchctl = lt.Launchctl
	}
	if cfg.Tools.Chown == "" {
		cfg.Tools.Chown = lt.Chown
	}
	if cfg.Tools.Ioreg == "" {
		cfg.Tools.Ioreg = lt.Ioreg
	}
	if cfg.Tools.Defaults == "" {
		cfg.Tools.Defaults = lt.Defaults
	}
	if cfg.Tools.Codesign == "" {
		cfg.Tools.Codesign = lt.Codesign
	}
	if cfg.Tools.Mdfind == "" {
		cfg.Tools.Mdfind = "/usr/bin/mdfind"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PSM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PSM_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PSM_LOG_DEST"); v != "" {
		cfg.Logging.Dest = v
	}
	if v := os.Getenv("PSM_LANGUAGE"); v != "" {
		cfg.Defaults.Language = v
	}
}

func validateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json", "auto":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	if err := ValidateLanguage(cfg.Defaults.Language); err != nil {
		return fmt.Errorf("invalid defaults.language: %w", err)
	}
	return nil
}

// ValidateLanguage checks that lang names a single User Template
// directory.
func ValidateLanguage(lang string) error {
	if lang == "" || strings.ContainsAny(lang, `/\`) || lang == "." || lang == ".." {
		return fmt.Errorf("invalid language %q", lang)
	}
	return nil
}

// TCCPaths returns the TCC editor paths.
func (c *Config) TCCPaths() tcc.Paths {
	return tcc.Paths{
		RootDB:      c.Paths.TCCRootDB,
		TemplateDir: c.Paths.TemplateDir,
		UsersDir:    c.Paths.UsersDir,
	}
}

func (c *Config) LocationPaths() location.Paths {
	return location.Paths{
		StoreDir:       c.Paths.LocationStore,
		ClientsPlist:   c.Paths.LocationClient,
		ByHostDir:      c.Paths.ByHostDir,
		LaunchdPlist:   c.Paths.LaunchdPlist,
		ServiceAccount: c.Paths.ServiceAccount,
	}
}

func (c *Config) LocationTools() location.Tools {
	return location.Tools{
		Launchctl: c.Tools.Launchctl,
		Chown:     c.Tools.Chown,
		Ioreg:     c.Tools.Ioreg,
		Defaults:  c.Tools.Defaults,
		Codesign:  c.Tools.Codesign,
	}
}
