// Package config resolves the CLI configuration.
//
// Viper stays contained in this package and the rest of the codebase
// receives an explicit Config. Sources are resolved in this order:
// flags > env > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/humanitec/oidc-role-manager/internal/validate"
)

const (
	EnvPrefix      = "OIDC"
	ConfigFileName = ".oidc-role-manager"

	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

var ErrInvalidConfig = errors.New("invalid configuration")

var stackNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Defaults are applied when no other source sets a key.
var Defaults = map[string]any{
	"roles-dir":         "roles",
	"state-dir":         ".oidc-state",
	"stack-name":        "dev",
	"terraform-version": "1.9.8",
	"output":            OutputText,
	"auto-approve":      false,
	"lock-timeout":      3 * time.Minute,
}

// Config is the explicit configuration the commands work with.
type Config struct {
	RolesDir         string
	StateDir         string
	StackName        string
	AccountID        string
	RoleName         string
	Region           string
	Profile          string
	TerraformVersion string
	TerraformPath    string
	Output           string
	AutoApprove      bool
	LockTimeout      time.Duration

	// File is the config file that was read, if any.
	File string
}

// Load resolves the configuration from flags, the environment, the config
// file and the defaults. An empty configFile searches the working and home
// directories for .oidc-role-manager.yaml.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	for key, value := range Defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, fallback := range map[string]string{
		"aws-region":  "AWS_REGION",
		"aws-profile": "AWS_PROFILE",
		"account-id":  "AWS_ACCOUNT_ID",
	} {
		name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if err := v.BindEnv(key, name, fallback); err != nil {
			return nil, fmt.Errorf("failed to bind environment variables of %s: %w", key, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
		}
	}

	cfg := &Config{
		RolesDir:         v.GetString("roles-dir"),
		StateDir:         v.GetString("state-dir"),
		StackName:        v.GetString("stack-name"),
		AccountID:        v.GetString("account-id"),
		RoleName:         v.GetString("role-name"),
		Region:           v.GetString("aws-region"),
		Profile:          v.GetString("aws-profile"),
		TerraformVersion: v.GetString("terraform-version"),
		TerraformPath:    v.GetString("terraform-path"),
		Output:           strings.ToLower(v.GetString("output")),
		AutoApprove:      v.GetBool("auto-approve"),
		LockTimeout:      v.GetDuration("lock-timeout"),
		File:             v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures config is sane
func (c *Config) Validate() error {
	var errs []error
	if c.RolesDir == "" {
		errs = append(errs, errors.New("roles-dir must not be empty"))
	}
	if c.StateDir == "" {
		errs = append(errs, errors.New("state-dir must not be empty"))
	}
	if !stackNameRegex.MatchString(c.StackName) {
		errs = append(errs, fmt.Errorf("invalid stack-name: %q", c.StackName))
	}
	if c.AccountID != "" && !validate.IsAccountID(c.AccountID) {
		errs = append(errs, fmt.Errorf("invalid account-id: %q (must be 12 digits)", c.AccountID))
	}
	if _, err := version.NewVersion(c.TerraformVersion); err != nil {
		errs = append(errs, fmt.Errorf("invalid terraform-version: %q", c.TerraformVersion))
	}
	switch c.Output {
	case OutputText, OutputJSON, OutputYAML:
	default:
		errs = append(errs, fmt.Errorf("invalid output: %s (must be text, json, or yaml)", c.Output))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid lock-timeout: %s", c.LockTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Structured reports whether the output is meant for machines.
func (c *Config) Structured() bool {
	return c.Output == OutputJSON || c.Output == OutputYAML
}

// Setting is one resolved configuration value.
type Setting struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Settings lists the resolved values in a stable order.
func (c *Config) Settings() []Setting {
	file := c.File
	if file == "" {
		file = "(not found)"
	}
	return []Setting{
		{"config-file", file},
		{"roles-dir", c.RolesDir},
		{"state-dir", c.StateDir},
		{"stack-name", c.StackName},
		{"account-id", c.AccountID},
		{"role-name", c.RoleName},
		{"aws-region", c.Region},
		{"aws-profile", c.Profile},
		{"terraform-version", c.TerraformVersion},
		{"terraform-path", c.TerraformPath},
		{"output", c.Output},
		{"auto-approve", fmt.Sprintf("%t", c.AutoApprove)},
		{"lock-timeout", c.LockTimeout.String()},
	}
}
