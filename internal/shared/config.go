package shared

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Export        ExportConfig                  `toml:"export"`
	Output        OutputConfig                  `toml:"output"`
	Encryption    EncryptionConfig              `toml:"encryption"`
	Courses       CoursesConfig                 `toml:"courses"`
	Logging       LoggingConfig                 `toml:"logging"`
	Schedule      ScheduleConfig                `toml:"schedule"`
	Auth          AuthConfig                    `toml:"auth"`
	Defaults      map[string]string             `toml:"defaults"`
	Environments  map[string]map[string]string  `toml:"environments"`
	Organizations map[string]OrganizationConfig `toml:"organizations"`
}

// ExportConfig controls task selection and the scratch workspace.
type ExportConfig struct {
	WorkDir           string   `toml:"work_dir"`
	Name              string   `toml:"name"`
	Environments      []string `toml:"environments"`
	Tasks             []string `toml:"tasks"`
	ExcludeTasks      []string `toml:"exclude_tasks"`
	MaxFilenameLength int      `toml:"max_filename_length"`
	Limit             int      `toml:"limit"`
	MaxTries          int      `toml:"max_tries"`
}

// OutputConfig describes where packaged exports are uploaded.
type OutputConfig struct {
	Locator           string  `toml:"locator"`
	Prefix            string  `toml:"prefix"`
	MaxTries          int     `toml:"max_tries"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Region            string  `toml:"region"`
	SSHKeyPath        string  `toml:"ssh_key_path"`
}

// EncryptionConfig locates the OpenPGP public keys used to encrypt artifacts.
type EncryptionConfig struct {
	KeysDir    string   `toml:"keys_dir"`
	Recipients []string `toml:"recipients"`
	MasterKey  string   `toml:"master_key"`
}

// CoursesConfig tunes course listing.
type CoursesConfig struct {
	TimeConstraint int `toml:"time_constraint"`
	CacheSize      int `toml:"cache_size"`
}

// LoggingConfig contains the default log level.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// ScheduleConfig holds the cron expression used by the schedule command.
type ScheduleConfig struct {
	Spec string `toml:"spec"`
}

// AuthConfig points at a JSON token file whose entries are copied into environment values.
//
// Fields maps environment name to a map of value key => token name.
type AuthConfig struct {
	File   string                       `toml:"file"`
	Fields map[string]map[string]string `toml:"fields"`
}

// OrganizationConfig contains the per-organization export settings.
type OrganizationConfig struct {
	Recipients   []string          `toml:"recipients"`
	OtherNames   []string          `toml:"other_names"`
	Courses      []string          `toml:"courses"`
	OutputPrefix string            `toml:"output_prefix"`
	Values       map[string]string `toml:"values"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %w", ErrMissingConfig, err)
	}

	config := DefaultConfig()
	config.Environments = nil
	config.Organizations = nil
	config.Defaults = nil
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrInvalidConfig, err)
	}

	config.normalize()
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	config.normalize()
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// organization keys are matched case-insensitively, so store them lowered
func (c *Config) normalize() {
	if len(c.Organizations) == 0 {
		return
	}
	orgs := make(map[string]OrganizationConfig, len(c.Organizations))
	for name, org := range c.Organizations {
		orgs[strings.ToLower(name)] = org
	}
	c.Organizations = orgs
}

// Validate checks the configuration for values that would make every run fail.
func (c *Config) Validate() error {
	if len(c.Environments) == 0 {
		return fmt.Errorf("%w: no environments configured", ErrInvalidConfig)
	}
	for _, env := range c.Export.Environments {
		if _, ok := c.Environments[env]; !ok {
			return fmt.Errorf("%w: unknown environment %q in export.environments", ErrInvalidConfig, env)
		}
	}
	if c.Courses.TimeConstraint < 0 {
		return fmt.Errorf("%w: courses.time_constraint must not be negative", ErrInvalidConfig)
	}
	if c.Export.MaxFilenameLength < 0 {
		return fmt.Errorf("%w: export.max_filename_length must not be negative", ErrInvalidConfig)
	}
	for env := range c.Auth.Fields {
		if _, ok := c.Environments[env]; !ok {
			return fmt.Errorf("%w: auth fields reference unknown environment %q", ErrInvalidConfig, env)
		}
	}
	return nil
}

// EnvironmentNames returns the environments to visit, in configured order or sorted when no order is given.
//
// A non-empty filter restricts the result to the named environments.
func (c *Config) EnvironmentNames(filter ...string) []string {
	names := c.Export.Environments
	if len(names) == 0 {
		names = slices.Sorted(maps.Keys(c.Environments))
	}
	if len(filter) == 0 {
		return slices.Clone(names)
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		if slices.Contains(filter, name) {
			out = append(out, name)
		}
	}
	return out
}

// OrganizationNames returns the configured organizations, sorted, optionally restricted to filter.
func (c *Config) OrganizationNames(filter ...string) []string {
	names := slices.Sorted(maps.Keys(c.Organizations))
	if len(filter) == 0 {
		return names
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		for _, f := range filter {
			if strings.EqualFold(f, name) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// Organization looks up an organization case-insensitively.
func (c *Config) Organization(name string) (OrganizationConfig, bool) {
	org, ok := c.Organizations[strings.ToLower(name)]
	return org, ok
}

// ValuesFor merges template values for one organization in one environment.
//
// Precedence, lowest first: defaults, environment, organization values, auth tokens.
func (c *Config) ValuesFor(org, env string, tokens map[string]string) (map[string]string, error) {
	values := map[string]string{}
	layers := []map[string]string{c.Defaults, c.Environments[env]}
	if o, ok := c.Organization(org); ok {
		layers = append(layers, o.Values)
	}
	layers = append(layers, c.tokenValues(env, tokens))

	for _, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		if err := mergo.Merge(&values, layer, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("%w: failed to merge values: %w", ErrInvalidConfig, err)
		}
	}
	return values, nil
}

func (c *Config) tokenValues(env string, tokens map[string]string) map[string]string {
	fields := c.Auth.Fields[env]
	if len(fields) == 0 || len(tokens) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for key, token := range fields {
		if v, ok := tokens[token]; ok {
			out[key] = v
		}
	}
	return out
}

// LoadTokens reads the auth token file. A missing or unset file yields no tokens.
func (c *Config) LoadTokens() (map[string]string, error) {
	if c.Auth.File == "" {
		return map[string]string{}, nil
	}
	path := os.ExpandEnv(c.Auth.File)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read auth file: %w", err)
	}

	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse auth file %s: %w", ErrInvalidConfig, path, err)
	}

	tokens := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			tokens[k] = v
		case nil:
		default:
			tokens[k] = fmt.Sprint(v)
		}
	}
	return tokens, nil
}
