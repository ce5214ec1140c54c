package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/veas-org/veas-agent/internal/rules"
)

// Config represents the veas-agent configuration file (JSON or YAML)
type Config struct {
	Version string `json:"version" yaml:"version"`
	Policy  Policy `json:"policy" yaml:"policy"`
	Tasks   []Task `json:"tasks" yaml:"tasks"`
}

// Policy contains agent-wide policy settings
type Policy struct {
	Concurrency        int `json:"concurrency" yaml:"concurrency"`
	TaskTimeoutS       int `json:"task_timeout_s,omitempty" yaml:"task_timeout_s,omitempty"`
	GraceMs            int `json:"grace_ms,omitempty" yaml:"grace_ms,omitempty"`
	HeartbeatIntervalS int `json:"heartbeat_interval_s,omitempty" yaml:"heartbeat_interval_s,omitempty"`
}

// Task describes one external program to run with its scripted responses
type Task struct {
	ID          string       `json:"id" yaml:"id"`
	Command     string       `json:"command" yaml:"command"`
	Args        []string     `json:"args,omitempty" yaml:"args,omitempty"`
	Cwd         string       `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Interactive bool         `json:"interactive,omitempty" yaml:"interactive,omitempty"`
	Rules       []rules.Spec `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// GenerateDefault creates a new Config with default values
func GenerateDefault() *Config {
	return &Config{
		Version: "1.0",
		Policy: Policy{
			Concurrency:        1,
			GraceMs:            2000,
			HeartbeatIntervalS: 10,
		},
		Tasks: []Task{},
	}
}

// ApplyDefaults fills in zero-valued policy fields
func (c *Config) ApplyDefaults() {
	if c.Policy.Concurrency == 0 {
		c.Policy.Concurrency = 1
	}
	if c.Policy.GraceMs == 0 {
		c.Policy.GraceMs = 2000
	}
	if c.Policy.HeartbeatIntervalS == 0 {
		c.Policy.HeartbeatIntervalS = 10
	}
}

// Validate checks the configuration for errors and returns user-friendly error messages
func (c *Config) Validate() error {
	// Version is required
	if c.Version == "" {
		return fmt.Errorf("configuration error: missing required field 'version'\n\nHint: Add a version field like:\n  \"version\": \"1.0\"")
	}

	if c.Policy.Concurrency < 1 {
		return fmt.Errorf("configuration error: invalid 'policy.concurrency' value: %d\n\nHint: Concurrency must be at least 1:\n  \"policy\": {\n    \"concurrency\": 1\n  }", c.Policy.Concurrency)
	}

	if c.Policy.TaskTimeoutS < 0 {
		return fmt.Errorf("configuration error: invalid 'policy.task_timeout_s' value: %d\n\nHint: The timeout must be >= 0 (0 disables it)", c.Policy.TaskTimeoutS)
	}

	if c.Policy.GraceMs < 0 {
		return fmt.Errorf("configuration error: invalid 'policy.grace_ms' value: %d\n\nHint: The grace period must be >= 0", c.Policy.GraceMs)
	}

	if len(c.Tasks) == 0 {
		return fmt.Errorf("configuration error: no tasks defined\n\nHint: Add at least one task:\n  \"tasks\": [\n    {\"id\": \"build\", \"command\": \"make\"}\n  ]")
	}

	seen := make(map[string]bool, len(c.Tasks))
	for i := range c.Tasks {
		if err := c.Tasks[i].Validate(i); err != nil {
			return err
		}
		if seen[c.Tasks[i].ID] {
			return fmt.Errorf("configuration error: duplicate task id '%s'\n\nHint: Task ids must be unique", c.Tasks[i].ID)
		}
		seen[c.Tasks[i].ID] = true
	}

	return nil
}

// Validate checks a task configuration for errors
func (t *Task) Validate(index int) error {
	if t.ID == "" {
		return fmt.Errorf("configuration error: task %d has no 'id' field\n\nHint: Give every task a unique id:\n  {\"id\": \"build\", \"command\": \"make\"}", index)
	}

	if t.Command == "" {
		return fmt.Errorf("configuration error: task '%s' has empty 'command' field\n\nHint: Specify the program to run:\n  \"command\": \"make\"", t.ID)
	}

	// Compile is the authority on rule validity; run it here so bad rules
	// fail at load time instead of mid-session.
	if _, err := rules.Compile(t.Rules); err != nil {
		return fmt.Errorf("configuration error: task '%s': %w", t.ID, err)
	}

	return nil
}

// LoadFromFile loads a configuration from a JSON or YAML file, decided by
// extension (.yaml/.yml parse as YAML, everything else as JSON)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// SaveToFile writes the configuration to a JSON file with 0600 permissions
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Add newline at end of file
	data = append(data, '\n')

	// Write with 0600 permissions (owner read/write only)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}
