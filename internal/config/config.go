package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/breeze-rmm/toolguard/internal/target"
)

// DefaultConfirmToken is the phrase an operator types to approve remediation.
const DefaultConfirmToken = "REMOVE"

type Config struct {
	LogLevel            string `mapstructure:"log_level"`
	LogFormat           string `mapstructure:"log_format"`
	LogFile             string `mapstructure:"log_file"`
	LogMaxSizeMB        int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups       int    `mapstructure:"log_max_backups"`
	ProbeTimeoutSeconds int    `mapstructure:"probe_timeout_seconds"`
	ParallelProbes      int    `mapstructure:"parallel_probes"`
	BackupPath          string `mapstructure:"backup_path"`
	ConfirmToken        string `mapstructure:"confirm_token"`
	AuditPath           string `mapstructure:"audit_path"`
	AuditMaxSizeMB      int    `mapstructure:"audit_max_size_mb"`
	AuditMaxBackups     int    `mapstructure:"audit_max_backups"`
	VerifyAfterRemoval  bool   `mapstructure:"verify_after_removal"`

	Target  target.Profile `mapstructure:"target"`
	Offload OffloadConfig  `mapstructure:"offload"`
}

// OffloadConfig selects an optional off-host copy of each backup.
type OffloadConfig struct {
	Provider string `mapstructure:"provider"` // "", local, s3, azure, gcs, b2
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Path     string `mapstructure:"path"`

	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`

	ConnectionString string `mapstructure:"connection_string"`
	CredentialsFile  string `mapstructure:"credentials_file"`
	AccountID        string `mapstructure:"account_id"`
	ApplicationKey   string `mapstructure:"application_key"`
}

// Enabled reports whether an offload provider is configured.
func (o OffloadConfig) Enabled() bool {
	return o.Provider != ""
}

func Default() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "console",
		LogMaxSizeMB:        10,
		LogMaxBackups:       5,
		ProbeTimeoutSeconds: 5,
		BackupPath:          filepath.Join(GetDataDir(), "backups"),
		ConfirmToken:        DefaultConfirmToken,
		AuditPath:           filepath.Join(GetDataDir(), "audit.jsonl"),
		AuditMaxSizeMB:      50,
		AuditMaxBackups:     3,
		VerifyAfterRemoval:  true,
		Target:              target.Default(),
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("toolguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TOOLGUARD")
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

// GetDataDir returns the per-OS directory for backups and the audit trail.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Toolguard")
	case "darwin":
		return "/Library/Application Support/Toolguard"
	default:
		return "/var/lib/toolguard"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Toolguard")
	case "darwin":
		return "/Library/Application Support/Toolguard"
	default:
		return "/etc/toolguard"
	}
}
