// Package config resolves btstest settings from flags, BTSTEST_* environment
// variables, .env files and an optional btstest.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"btstest/internal/node"
	"btstest/internal/ports"
)

// EnvPrefix is prepended to every environment variable, so the key
// "node-binary" is read from BTSTEST_NODE_BINARY.
const EnvPrefix = "BTSTEST"

// Keys shared by flags, environment variables and the config file.
const (
	KeyConfigFile     = "config"
	KeyNodeBinary     = "node-binary"
	KeyGenesisConfig  = "genesis-config"
	KeyOutputDir      = "output-dir"
	KeyRPCUser        = "rpc-user"
	KeyRPCPassword    = "rpc-password"
	KeyPortMin        = "port-min"
	KeyPortMax        = "port-max"
	KeyHostAwarePorts = "host-aware-ports"
	KeyTestEnv        = "testenv"
	KeyStripANSI      = "strip-ansi"
	KeyParallel       = "parallel"
	KeyFailFast       = "fail-fast"
	KeyReport         = "report"
	KeyMetricsFile    = "metrics-file"
	KeyStopTimeout    = "stop-timeout"
	KeyRPCTimeout     = "rpc-timeout"
	KeyVerbose        = "verbose"
	KeyWatch          = "watch"
	KeyLogLevel       = "log-level"
	KeyLogFile        = "log-file"
	KeyTestMode       = "test-mode"
)

// Config is the resolved run configuration.
type Config struct {
	NodeBinary     string        `mapstructure:"node-binary"`
	GenesisConfig  string        `mapstructure:"genesis-config"`
	OutputDir      string        `mapstructure:"output-dir"`
	RPCUser        string        `mapstructure:"rpc-user"`
	RPCPassword    string        `mapstructure:"rpc-password"`
	PortMin        int           `mapstructure:"port-min"`
	PortMax        int           `mapstructure:"port-max"`
	HostAwarePorts bool          `mapstructure:"host-aware-ports"`
	TestEnvs       []string      `mapstructure:"testenv"`
	StripANSI      bool          `mapstructure:"strip-ansi"`
	Parallel       int           `mapstructure:"parallel"`
	FailFast       bool          `mapstructure:"fail-fast"`
	ReportPath     string        `mapstructure:"report"`
	MetricsFile    string        `mapstructure:"metrics-file"`
	StopTimeout    time.Duration `mapstructure:"stop-timeout"`
	RPCTimeout     time.Duration `mapstructure:"rpc-timeout"`
	Verbose        bool          `mapstructure:"verbose"`
	Watch          bool          `mapstructure:"watch"`
	LogLevel       string        `mapstructure:"log-level"`
	LogFile        string        `mapstructure:"log-file"`
	TestMode       bool          `mapstructure:"test-mode"`
}

// SetDefaults registers every key with its default so environment variables
// are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyNodeBinary, "bitshares_client")
	v.SetDefault(KeyGenesisConfig, "")
	v.SetDefault(KeyOutputDir, filepath.Join(os.TempDir(), "btstest"))
	v.SetDefault(KeyRPCUser, node.DefaultUser)
	v.SetDefault(KeyRPCPassword, node.DefaultPassword)
	v.SetDefault(KeyPortMin, ports.DefaultMin)
	v.SetDefault(KeyPortMax, ports.DefaultMax)
	v.SetDefault(KeyHostAwarePorts, false)
	v.SetDefault(KeyTestEnv, []string{})
	v.SetDefault(KeyStripANSI, false)
	v.SetDefault(KeyParallel, 1)
	v.SetDefault(KeyFailFast, false)
	v.SetDefault(KeyReport, "")
	v.SetDefault(KeyMetricsFile, "")
	v.SetDefault(KeyStopTimeout, node.DefaultStopTimeout)
	v.SetDefault(KeyRPCTimeout, 30*time.Second)
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyWatch, false)
	v.SetDefault(KeyLogLevel, "")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyTestMode, false)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv copies BTSTEST_* entries of a .env file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadDotEnv(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read .env file %s: %w", path, err)
	}

	envMap, err := godotenv.Unmarshal(string(data))
	if err != nil {
		return fmt.Errorf("failed to parse .env file %s: %w", path, err)
	}
	for key, value := range envMap {
		if !strings.HasPrefix(key, EnvPrefix+"_") {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// ReadFile merges the config file named by the "config" key, or btstest.yaml
// in the working directory when it exists.
func ReadFile(v *viper.Viper) error {
	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("btstest")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read btstest.yaml: %w", err)
	}
	return nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no run can use.
func (c *Config) Validate() error {
	// PortMax is exclusive, so 65536 still hands out 65535.
	if c.PortMin <= 0 || c.PortMax > 65536 || c.PortMin >= c.PortMax {
		return fmt.Errorf("invalid port range %d-%d", c.PortMin, c.PortMax)
	}
	if c.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", c.Parallel)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop timeout must be positive, got %s", c.StopTimeout)
	}
	return nil
}
