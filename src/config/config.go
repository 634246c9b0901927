// Package config loads and validates connector configuration files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"build-bridge/src/provider"
)

const (
	DefaultMaxBuilds = 20
	DefaultLookback  = 60 // minutes
	DefaultMaxDepth  = 3
	DefaultPort      = 8080
	DefaultProtocol  = "http"
	DefaultLogLevel  = "Info"
	// MaxTreeDepth bounds the nesting of the Jenkins tree query.
	MaxTreeDepth = 10
)

// Config holds one connector configuration.
type Config struct {
	// Name is the configuration file stem, e.g. "jenkins" for config/jenkins.yml.
	Name string `yaml:"-"`
	// Connector is the top level key of the document, e.g. "JenkinsBuildConnector".
	Connector string `yaml:"-"`
	// Warnings collects non-fatal problems found while loading.
	Warnings []string `yaml:"-"`

	AgileCentral AgileCentralConfig `yaml:"AgileCentral"`
	Jenkins      JenkinsConfig      `yaml:"Jenkins"`
	Service      ServiceConfig      `yaml:"Service"`
}

// AgileCentralConfig holds the backlog system connection settings.
type AgileCentralConfig struct {
	Server    string `yaml:"Server"`
	APIKey    string `yaml:"APIKey"`
	Username  string `yaml:"Username"`
	Password  string `yaml:"Password"`
	Workspace string `yaml:"Workspace"`
	// Lookback is in minutes.
	Lookback int  `yaml:"Lookback"`
	Debug    bool `yaml:"Debug"`
}

// JenkinsConfig holds the CI server connection settings and the targets to watch.
type JenkinsConfig struct {
	Protocol       string         `yaml:"Protocol"`
	Server         string         `yaml:"Server"`
	Port           int            `yaml:"Port"`
	Prefix         string         `yaml:"Prefix"`
	Username       string         `yaml:"Username"`
	Password       string         `yaml:"Password"`
	APIToken       string         `yaml:"API_Token"`
	Lookback       int            `yaml:"Lookback"`
	MaxDepth       int            `yaml:"MaxDepth"`
	FullFolderPath bool           `yaml:"FullFolderPath"`
	DefaultProject string         `yaml:"AgileCentral_DefaultBuildProject"`
	Jobs           []JobTarget    `yaml:"Jobs"`
	Views          []ViewTarget   `yaml:"Views"`
	Folders        []FolderTarget `yaml:"Folders"`
}

// JobTarget names a single job.
type JobTarget struct {
	Job     string `yaml:"Job"`
	Project string `yaml:"AgileCentral_Project"`
}

// ViewTarget names a view whose jobs are watched.
type ViewTarget struct {
	View    string `yaml:"View"`
	Include string `yaml:"include"`
	Exclude string `yaml:"exclude"`
	Project string `yaml:"AgileCentral_Project"`
}

// FolderTarget names a folder whose direct jobs are watched.
type FolderTarget struct {
	Folder  string `yaml:"Folder"`
	Include string `yaml:"include"`
	Exclude string `yaml:"exclude"`
	Project string `yaml:"AgileCentral_Project"`
}

// ServiceConfig holds run-level knobs.
type ServiceConfig struct {
	Preview       bool         `yaml:"Preview"`
	MaxBuilds     int          `yaml:"MaxBuilds"`
	LogLevel      string       `yaml:"LogLevel"`
	StrictProject bool         `yaml:"StrictProject"`
	Ledger        LedgerConfig `yaml:"Ledger"`
	Events        EventsConfig `yaml:"Events"`
}

// LedgerConfig selects where run history is recorded.
// Driver is one of "", "memory", "sqlite" or "postgres".
type LedgerConfig struct {
	Driver string `yaml:"Driver"`
	DSN    string `yaml:"DSN"`
}

// EventsConfig enables publication of posted builds to a Kafka compatible broker.
type EventsConfig struct {
	Brokers []string `yaml:"Brokers"`
	Topic   string   `yaml:"Topic"`
}

var knownSections = map[string]bool{"AgileCentral": true, "Jenkins": true, "Service": true}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, provider.NewConfigurationError("config file %s could not be read: %v", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Name = Stem(path)
	return cfg, nil
}

// Parse decodes a configuration document, applies environment overrides and
// defaults, then validates it.
func Parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, provider.NewConfigurationError("unable to parse configuration: %v", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode || len(doc.Content[0].Content) < 2 {
		return nil, provider.NewConfigurationError("configuration must have a single top level connector key")
	}

	top := doc.Content[0]
	cfg := &Config{Connector: top.Content[0].Value}
	body := top.Content[1]
	if body.Kind != yaml.MappingNode {
		return nil, provider.NewConfigurationError("connector %s has no sections", cfg.Connector)
	}

	for i := 0; i+1 < len(body.Content); i += 2 {
		name := body.Content[i].Value
		if !knownSections[name] {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("config section header %q not recognized, ignored", name))
		}
	}

	if err := body.Decode(cfg); err != nil {
		return nil, provider.NewConfigurationError("unable to decode %s: %v", cfg.Connector, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets credentials come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("AGILECENTRAL_API_KEY"); v != "" {
		c.AgileCentral.APIKey = v
	}
	if v := os.Getenv("JENKINS_API_TOKEN"); v != "" {
		c.Jenkins.APIToken = v
	}
	if v := os.Getenv("BLDBRIDGE_LEDGER_DSN"); v != "" {
		c.Service.Ledger.DSN = v
	}
}

func (c *Config) applyDefaults() {
	if c.AgileCentral.Lookback <= 0 {
		c.AgileCentral.Lookback = DefaultLookback
	}
	if c.Jenkins.Lookback <= 0 {
		c.Jenkins.Lookback = DefaultLookback
	}
	if c.Jenkins.Protocol == "" {
		c.Jenkins.Protocol = DefaultProtocol
	}
	if c.Jenkins.Port == 0 {
		c.Jenkins.Port = DefaultPort
	}
	if c.Jenkins.MaxDepth <= 0 {
		c.Jenkins.MaxDepth = DefaultMaxDepth
	}
	if c.Service.MaxBuilds <= 0 {
		c.Service.MaxBuilds = DefaultMaxBuilds
	}
	if c.Service.LogLevel == "" {
		c.Service.LogLevel = DefaultLogLevel
	}
	if c.Service.Events.Topic == "" {
		c.Service.Events.Topic = "bldbridge.builds.posted"
	}
}

// Validate rejects configurations missing required keys.
func (c *Config) Validate() error {
	var missing []string
	ac := c.AgileCentral
	if ac.Server == "" {
		missing = append(missing, "AgileCentral.Server")
	}
	if ac.Workspace == "" {
		missing = append(missing, "AgileCentral.Workspace")
	}
	if ac.APIKey == "" && (ac.Username == "" || ac.Password == "") {
		missing = append(missing, "AgileCentral.APIKey (or Username and Password)")
	}

	jk := c.Jenkins
	if jk.Server == "" {
		missing = append(missing, "Jenkins.Server")
	}
	if jk.DefaultProject == "" {
		missing = append(missing, "Jenkins.AgileCentral_DefaultBuildProject")
	}
	if len(jk.Jobs)+len(jk.Views)+len(jk.Folders) == 0 {
		missing = append(missing, "Jenkins.Jobs, Jenkins.Views or Jenkins.Folders")
	}
	for i, j := range jk.Jobs {
		if j.Job == "" {
			missing = append(missing, fmt.Sprintf("Jenkins.Jobs[%d].Job", i))
		}
	}
	for i, v := range jk.Views {
		if v.View == "" {
			missing = append(missing, fmt.Sprintf("Jenkins.Views[%d].View", i))
		}
	}
	for i, f := range jk.Folders {
		if f.Folder == "" {
			missing = append(missing, fmt.Sprintf("Jenkins.Folders[%d].Folder", i))
		}
	}

	if len(missing) > 0 {
		return &provider.ConfigurationError{
			Message: "missing required configuration",
			Items:   missing,
		}
	}

	if jk.MaxDepth > MaxTreeDepth {
		return &provider.ConfigurationError{
			Message: fmt.Sprintf("Jenkins.MaxDepth %d exceeds the supported maximum of %d", jk.MaxDepth, MaxTreeDepth),
		}
	}
	if strings.HasPrefix(ac.Server, "http") || strings.Contains(ac.Server, "/slm") {
		return &provider.ConfigurationError{
			Message: fmt.Sprintf("AgileCentral.Server %q must be a host name", ac.Server),
			Hint:    "Use e.g. rally1.rallydev.com without scheme or path",
		}
	}
	switch strings.ToLower(c.Service.Ledger.Driver) {
	case "", "memory", "sqlite", "postgres":
	default:
		return &provider.ConfigurationError{
			Message: fmt.Sprintf("Service.Ledger.Driver %q is not one of memory, sqlite, postgres", c.Service.Ledger.Driver),
		}
	}
	return nil
}

// BaseURL returns the Jenkins root URL including any prefix.
func (j JenkinsConfig) BaseURL() string {
	u := fmt.Sprintf("%s://%s:%d", j.Protocol, j.Server, j.Port)
	if p := strings.Trim(j.Prefix, "/"); p != "" {
		u += "/" + p
	}
	return u
}

// Credential returns the secret used with Username: the API token if present,
// otherwise the password.
func (j JenkinsConfig) Credential() string {
	if j.APIToken != "" {
		return j.APIToken
	}
	return j.Password
}

// LookbackDuration returns the Jenkins lookback window.
func (j JenkinsConfig) LookbackDuration() time.Duration {
	return time.Duration(j.Lookback) * time.Minute
}

// LookbackDuration returns the AgileCentral lookback window.
func (a AgileCentralConfig) LookbackDuration() time.Duration {
	return time.Duration(a.Lookback) * time.Minute
}

// ProjectFor returns the override if set, else the default project.
func (j JenkinsConfig) ProjectFor(override string) string {
	if override != "" {
		return override
	}
	return j.DefaultProject
}

// Projects returns every backlog project referenced by the targets, sorted.
func (j JenkinsConfig) Projects() []string {
	seen := map[string]bool{j.DefaultProject: true}
	for _, t := range j.Jobs {
		seen[j.ProjectFor(t.Project)] = true
	}
	for _, t := range j.Views {
		seen[j.ProjectFor(t.Project)] = true
	}
	for _, t := range j.Folders {
		seen[j.ProjectFor(t.Project)] = true
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		if p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Stem returns the configuration name for a file path: base name without .yml/.yaml.
func Stem(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".yml", ".yaml", ".cfg"} {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// Resolve finds the configuration file for name. A bare name is looked up in
// dir, with or without a .yml suffix.
func Resolve(dir, name string) (string, error) {
	candidates := []string{name}
	if !strings.ContainsRune(name, filepath.Separator) {
		candidates = append(candidates, filepath.Join(dir, name))
	}
	for _, c := range append([]string(nil), candidates...) {
		if filepath.Ext(c) == "" {
			candidates = append(candidates, c+".yml", c+".yaml")
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return c, nil
		}
	}
	return "", provider.NewConfigurationError("config file for %q not found in %s", name, dir)
}
