package config

// project.go defines per-project import configuration loaded from YAML files.
//
// A project binds a target database to a set of file-to-table rules. Two
// modes are supported and may be combined:
//
//  1. Explicit mode: each entry in Tables maps a file glob to a target table
//     with its own primary key, mapping, and format knobs.
//  2. Auto-discovery mode: Defaults plus TableNaming derive the target table
//     name from the filename for files not matched by an explicit entry.

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// StringList accepts either a single YAML scalar or a sequence of scalars.
// Primary keys are written both ways in project files:
//
//	primary_key: id
//	primary_key: [customer_id, order_id]
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = StringList{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*s = StringList(many)
		return nil
	default:
		return fmt.Errorf("expected string or list of strings, got yaml kind %d", value.Kind)
	}
}

// ConnectionConfig names the environment variable holding the target DSN.
// Connection strings never appear in project files directly.
type ConnectionConfig struct {
	EnvVar string `yaml:"env_var"`
}

// Resolve returns the connection string from the configured environment
// variable.
func (c ConnectionConfig) Resolve() (string, error) {
	envVar := c.EnvVar
	if envVar == "" {
		envVar = "DATABASE_URL"
	}
	dsn := os.Getenv(envVar)
	if dsn == "" {
		return "", fmt.Errorf("connection env var %s is not set", envVar)
	}
	return dsn, nil
}

// WebhookConfig configures the completion callback for a project's jobs.
type WebhookConfig struct {
	URL string `yaml:"url"`
}

// ViewRefreshConfig schedules a materialized view refresh against the
// project's target database, typically after the nightly import window.
type ViewRefreshConfig struct {
	Schedule string `yaml:"schedule"`
	Schema   string `yaml:"schema"`
}

// TableNamingConfig derives a table name from a filename in auto-discovery
// mode.
type TableNamingConfig struct {
	StripPrefix string `yaml:"strip_prefix"`
	StripSuffix string `yaml:"strip_suffix"`
	Lowercase   *bool  `yaml:"lowercase"`
}

// Transform converts a filename like "IxExpKonto.csv" into a table name like
// "konto" according to the configured rules.
func (t TableNamingConfig) Transform(filename string) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	name = strings.TrimPrefix(name, t.StripPrefix)
	name = strings.TrimSuffix(name, t.StripSuffix)
	if t.Lowercase == nil || *t.Lowercase {
		name = strings.ToLower(name)
	}
	return name
}

// TableConfig maps matching files to one target table.
type TableConfig struct {
	FilePattern   string            `yaml:"file_pattern"`
	TargetTable   string            `yaml:"target_table"`
	PrimaryKey    StringList        `yaml:"primary_key"`
	ColumnMapping map[string]string `yaml:"column_mapping"`
	RebuildTable  bool              `yaml:"rebuild_table"`
	Delimiter     string            `yaml:"delimiter"`
	Encoding      string            `yaml:"encoding"`
	SkipRows      int               `yaml:"skiprows"`
	Schema        string            `yaml:"schema"`
}

// MatchesFile reports whether filename (base name, not full path) matches
// this table's file pattern.
func (t TableConfig) MatchesFile(filename string) bool {
	ok, err := filepath.Match(t.FilePattern, filename)
	return err == nil && ok
}

// DefaultsConfig holds auto-discovery settings applied to files that no
// explicit table entry matches.
type DefaultsConfig struct {
	FilePattern  string     `yaml:"file_pattern"`
	PrimaryKey   StringList `yaml:"primary_key"`
	Delimiter    string     `yaml:"delimiter"`
	Encoding     string     `yaml:"encoding"`
	SkipRows     int        `yaml:"skiprows"`
	RebuildTable bool       `yaml:"rebuild_table"`
	Schema       string     `yaml:"schema"`
}

// MatchesFile reports whether filename matches the auto-discovery pattern.
func (d DefaultsConfig) MatchesFile(filename string) bool {
	pattern := d.FilePattern
	if pattern == "" {
		pattern = "*.csv"
	}
	ok, err := filepath.Match(pattern, filename)
	return err == nil && ok
}

// ProjectConfig is the full configuration for one import project.
type ProjectConfig struct {
	Project     string             `yaml:"project"`
	Connection  ConnectionConfig   `yaml:"connection"`
	Webhook     *WebhookConfig     `yaml:"webhook"`
	Schedule    string             `yaml:"schedule"`
	ViewRefresh *ViewRefreshConfig `yaml:"view_refresh"`
	Defaults    *DefaultsConfig    `yaml:"defaults"`
	TableNaming TableNamingConfig  `yaml:"table_naming"`
	Tables      []TableConfig      `yaml:"tables"`
}

// TableFor resolves the table configuration for a filename. Explicit table
// entries win; otherwise auto-discovery synthesizes one from Defaults and
// TableNaming. Returns false if no rule matches the file.
func (p *ProjectConfig) TableFor(filename string) (TableConfig, bool) {
	for _, tbl := range p.Tables {
		if tbl.MatchesFile(filename) {
			return tbl, true
		}
	}

	if p.Defaults != nil && p.Defaults.MatchesFile(filename) {
		return TableConfig{
			FilePattern:  p.Defaults.FilePattern,
			TargetTable:  p.TableNaming.Transform(filename),
			PrimaryKey:   p.Defaults.PrimaryKey,
			RebuildTable: p.Defaults.RebuildTable,
			Delimiter:    p.Defaults.Delimiter,
			Encoding:     p.Defaults.Encoding,
			SkipRows:     p.Defaults.SkipRows,
			Schema:       p.Defaults.Schema,
		}, true
	}

	return TableConfig{}, false
}

// Validate checks structural requirements of a project configuration.
func (p *ProjectConfig) Validate() error {
	var errs []string

	if p.Project == "" {
		errs = append(errs, "project name is required")
	}
	if p.Defaults == nil && len(p.Tables) == 0 {
		errs = append(errs, "either defaults or at least one table entry is required")
	}
	if p.Defaults != nil && len(p.Defaults.PrimaryKey) == 0 {
		errs = append(errs, "defaults.primary_key is required")
	}
	for i, tbl := range p.Tables {
		if tbl.FilePattern == "" {
			errs = append(errs, fmt.Sprintf("tables[%d].file_pattern is required", i))
		}
		if tbl.TargetTable == "" {
			errs = append(errs, fmt.Sprintf("tables[%d].target_table is required", i))
		}
		if len(tbl.PrimaryKey) == 0 {
			errs = append(errs, fmt.Sprintf("tables[%d].primary_key is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid project config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadProject reads and validates a single project YAML file.
func LoadProject(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project config %s: %w", path, err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse project config %s: %w", path, err)
	}

	if cfg.Project == "" {
		base := filepath.Base(path)
		cfg.Project = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadProjects reads every *.yml / *.yaml file in dir. Files that fail to
// parse or validate are returned in errs; valid projects are still usable.
func LoadProjects(dir string) (projects []*ProjectConfig, errs []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("read project dir %s: %w", dir, err)}
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		cfg, err := LoadProject(filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		projects = append(projects, cfg)
	}

	return projects, errs
}
