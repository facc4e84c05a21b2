package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all host configuration.
type Config struct {
	// Bridge
	ListenAddr     string   `mapstructure:"listen_addr" yaml:"listen_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	BridgeToken    string   `mapstructure:"bridge_token" yaml:"bridge_token,omitempty"`

	// Logging
	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat       string `mapstructure:"log_format" yaml:"log_format"`
	LogFile         string `mapstructure:"log_file" yaml:"log_file,omitempty"`
	ForwardLogLevel string `mapstructure:"forward_log_level" yaml:"forward_log_level"`

	// Self-update
	UpdateArtifactName string        `mapstructure:"update_artifact_name" yaml:"update_artifact_name"`
	InstallerArgs      []string      `mapstructure:"installer_args" yaml:"installer_args"`
	HandoffGrace       time.Duration `mapstructure:"handoff_grace" yaml:"handoff_grace"`

	// Redirect caps per outbound operation
	UpdateMaxRedirects int `mapstructure:"update_max_redirects" yaml:"update_max_redirects"`
	WHEPMaxRedirects   int `mapstructure:"whep_max_redirects" yaml:"whep_max_redirects"`
	ProbeMaxRedirects  int `mapstructure:"probe_max_redirects" yaml:"probe_max_redirects"`
}

// Default returns configuration with the host's built-in defaults.
func Default() *Config {
	return &Config{
		ListenAddr:         "127.0.0.1:17890",
		AllowedOrigins:     []string{"http://localhost:5173", "http://tauri.localhost", "tauri://localhost"},
		LogLevel:           "info",
		LogFormat:          "text",
		ForwardLogLevel:    "warn",
		UpdateArtifactName: "stretch-update.exe",
		InstallerArgs:      []string{"/S", "--updated"},
		HandoffGrace:       500 * time.Millisecond,
		UpdateMaxRedirects: 10,
		WHEPMaxRedirects:   10,
		ProbeMaxRedirects:  5,
	}
}

// Load reads configuration from cfgFile (or host.yaml in the default search
// path) and STRETCH_* environment variables, on top of Default().
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("allowed_origins", cfg.AllowedOrigins)
	v.SetDefault("bridge_token", cfg.BridgeToken)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("forward_log_level", cfg.ForwardLogLevel)
	v.SetDefault("update_artifact_name", cfg.UpdateArtifactName)
	v.SetDefault("installer_args", cfg.InstallerArgs)
	v.SetDefault("handoff_grace", cfg.HandoffGrace)
	v.SetDefault("update_max_redirects", cfg.UpdateMaxRedirects)
	v.SetDefault("whep_max_redirects", cfg.WHEPMaxRedirects)
	v.SetDefault("probe_max_redirects", cfg.ProbeMaxRedirects)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("host")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STRETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Marshal renders cfg as YAML in the same layout Load reads.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// SaveTo writes cfg to cfgFile, or to host.yaml in the default config
// directory when cfgFile is empty.
func SaveTo(cfg *Config, cfgFile string) error {
	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath = filepath.Join(configDir(), "host.yaml")
	}
	if dir := filepath.Dir(cfgPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath, data, 0600)
}

// DefaultPath returns the config file location used when --config is unset.
func DefaultPath() string {
	return filepath.Join(configDir(), "host.yaml")
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Stretch")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Stretch")
	default:
		if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
			return filepath.Join(dir, "stretch")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "stretch")
	}
}
