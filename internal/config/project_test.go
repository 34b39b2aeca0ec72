package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

const sampleProjectYAML = `
project: finance
connection:
  env_var: FINANCE_DATABASE_URL
webhook:
  url: https://example.com/hooks/import
schedule: "0 3 * * *"
table_naming:
  strip_prefix: IxExp
defaults:
  file_pattern: "IxExp*.csv"
  primary_key: id
  delimiter: ";"
  encoding: latin-1
tables:
  - file_pattern: "orders_*.csv"
    target_table: orders
    primary_key: [customer_id, order_id]
    column_mapping:
      CustNo: customer_id
    rebuild_table: true
    skiprows: 2
`

func TestProjectUnmarshal(t *testing.T) {
	var cfg ProjectConfig
	if err := yaml.Unmarshal([]byte(sampleProjectYAML), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if cfg.Project != "finance" {
		t.Errorf("Project = %q, want %q", cfg.Project, "finance")
	}
	if cfg.Connection.EnvVar != "FINANCE_DATABASE_URL" {
		t.Errorf("Connection.EnvVar = %q, want %q", cfg.Connection.EnvVar, "FINANCE_DATABASE_URL")
	}
	if cfg.Webhook == nil || cfg.Webhook.URL != "https://example.com/hooks/import" {
		t.Errorf("Webhook = %+v, want url set", cfg.Webhook)
	}
	if cfg.Schedule != "0 3 * * *" {
		t.Errorf("Schedule = %q, want %q", cfg.Schedule, "0 3 * * *")
	}

	if len(cfg.Tables) != 1 {
		t.Fatalf("Tables length = %d, want 1", len(cfg.Tables))
	}
	tbl := cfg.Tables[0]
	if tbl.TargetTable != "orders" {
		t.Errorf("TargetTable = %q, want %q", tbl.TargetTable, "orders")
	}
	if len(tbl.PrimaryKey) != 2 || tbl.PrimaryKey[0] != "customer_id" || tbl.PrimaryKey[1] != "order_id" {
		t.Errorf("PrimaryKey = %v, want [customer_id order_id]", tbl.PrimaryKey)
	}
	if tbl.ColumnMapping["CustNo"] != "customer_id" {
		t.Errorf("ColumnMapping = %v, want CustNo mapped", tbl.ColumnMapping)
	}
	if !tbl.RebuildTable {
		t.Error("RebuildTable = false, want true")
	}
	if tbl.SkipRows != 2 {
		t.Errorf("SkipRows = %d, want 2", tbl.SkipRows)
	}

	if cfg.Defaults == nil {
		t.Fatal("Defaults = nil, want set")
	}
	// Scalar primary_key becomes a single-element list
	if len(cfg.Defaults.PrimaryKey) != 1 || cfg.Defaults.PrimaryKey[0] != "id" {
		t.Errorf("Defaults.PrimaryKey = %v, want [id]", cfg.Defaults.PrimaryKey)
	}
}

func TestStringList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"scalar", `primary_key: id`, []string{"id"}},
		{"single element list", `primary_key: [id]`, []string{"id"}},
		{"multi element list", `primary_key: [a, b, c]`, []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc struct {
				PrimaryKey StringList `yaml:"primary_key"`
			}
			if err := yaml.Unmarshal([]byte(tt.in), &doc); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(doc.PrimaryKey) != len(tt.want) {
				t.Fatalf("got %v, want %v", doc.PrimaryKey, tt.want)
			}
			for i := range tt.want {
				if doc.PrimaryKey[i] != tt.want[i] {
					t.Errorf("got %v, want %v", doc.PrimaryKey, tt.want)
				}
			}
		})
	}
}

func TestStringList_RejectsMapping(t *testing.T) {
	var doc struct {
		PrimaryKey StringList `yaml:"primary_key"`
	}
	err := yaml.Unmarshal([]byte("primary_key: {a: b}"), &doc)
	if err == nil {
		t.Fatal("expected error for mapping node")
	}
}

func TestTableNamingTransform(t *testing.T) {
	lowerFalse := false
	tests := []struct {
		name     string
		cfg      TableNamingConfig
		filename string
		want     string
	}{
		{"strip prefix and lowercase", TableNamingConfig{StripPrefix: "IxExp"}, "IxExpKonto.csv", "konto"},
		{"strip suffix", TableNamingConfig{StripSuffix: "_export"}, "orders_export.csv", "orders"},
		{"keep case", TableNamingConfig{Lowercase: &lowerFalse}, "Orders.csv", "Orders"},
		{"no rules", TableNamingConfig{}, "Customers.csv", "customers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.Transform(tt.filename)
			if got != tt.want {
				t.Errorf("Transform(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}

func TestTableFor_ExplicitWinsOverDefaults(t *testing.T) {
	cfg := &ProjectConfig{
		Project: "test",
		Defaults: &DefaultsConfig{
			FilePattern: "*.csv",
			PrimaryKey:  StringList{"id"},
		},
		TableNaming: TableNamingConfig{},
		Tables: []TableConfig{
			{FilePattern: "orders_*.csv", TargetTable: "orders", PrimaryKey: StringList{"order_id"}},
		},
	}

	tbl, ok := cfg.TableFor("orders_2024.csv")
	if !ok {
		t.Fatal("TableFor() = false, want match")
	}
	if tbl.TargetTable != "orders" {
		t.Errorf("TargetTable = %q, want %q (explicit entry should win)", tbl.TargetTable, "orders")
	}
	if len(tbl.PrimaryKey) != 1 || tbl.PrimaryKey[0] != "order_id" {
		t.Errorf("PrimaryKey = %v, want [order_id]", tbl.PrimaryKey)
	}
}

func TestTableFor_AutoDiscovery(t *testing.T) {
	cfg := &ProjectConfig{
		Project: "test",
		Defaults: &DefaultsConfig{
			FilePattern: "*.csv",
			PrimaryKey:  StringList{"id"},
			Delimiter:   ";",
			Encoding:    "latin-1",
		},
		TableNaming: TableNamingConfig{StripPrefix: "Ix"},
	}

	tbl, ok := cfg.TableFor("IxKonto.csv")
	if !ok {
		t.Fatal("TableFor() = false, want auto-discovery match")
	}
	if tbl.TargetTable != "konto" {
		t.Errorf("TargetTable = %q, want %q", tbl.TargetTable, "konto")
	}
	if tbl.Delimiter != ";" {
		t.Errorf("Delimiter = %q, want %q", tbl.Delimiter, ";")
	}
	if tbl.Encoding != "latin-1" {
		t.Errorf("Encoding = %q, want %q", tbl.Encoding, "latin-1")
	}
}

func TestTableFor_NoMatch(t *testing.T) {
	cfg := &ProjectConfig{
		Project: "test",
		Tables: []TableConfig{
			{FilePattern: "orders_*.csv", TargetTable: "orders", PrimaryKey: StringList{"id"}},
		},
	}

	if _, ok := cfg.TableFor("customers.csv"); ok {
		t.Error("TableFor() = true, want no match without defaults")
	}
}

func TestConnectionResolve(t *testing.T) {
	os.Setenv("TEST_TARGET_URL", "postgres://localhost/target")
	defer os.Unsetenv("TEST_TARGET_URL")

	dsn, err := ConnectionConfig{EnvVar: "TEST_TARGET_URL"}.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if dsn != "postgres://localhost/target" {
		t.Errorf("Resolve() = %q, want %q", dsn, "postgres://localhost/target")
	}
}

func TestConnectionResolve_Unset(t *testing.T) {
	os.Unsetenv("TEST_TARGET_URL_UNSET")

	_, err := ConnectionConfig{EnvVar: "TEST_TARGET_URL_UNSET"}.Resolve()
	if err == nil {
		t.Fatal("Resolve() expected error for unset env var")
	}
}

func TestProjectValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProjectConfig
		wantErr bool
	}{
		{
			"valid explicit tables",
			ProjectConfig{Project: "p", Tables: []TableConfig{
				{FilePattern: "*.csv", TargetTable: "t", PrimaryKey: StringList{"id"}},
			}},
			false,
		},
		{
			"valid defaults only",
			ProjectConfig{Project: "p", Defaults: &DefaultsConfig{PrimaryKey: StringList{"id"}}},
			false,
		},
		{
			"no tables and no defaults",
			ProjectConfig{Project: "p"},
			true,
		},
		{
			"defaults without primary key",
			ProjectConfig{Project: "p", Defaults: &DefaultsConfig{}},
			true,
		},
		{
			"table without primary key",
			ProjectConfig{Project: "p", Tables: []TableConfig{
				{FilePattern: "*.csv", TargetTable: "t"},
			}},
			true,
		},
		{
			"table without target",
			ProjectConfig{Project: "p", Tables: []TableConfig{
				{FilePattern: "*.csv", PrimaryKey: StringList{"id"}},
			}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadProject_NameFromFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "finance.yaml")
	content := `
defaults:
  primary_key: id
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadProject(path)
	if err != nil {
		t.Fatalf("LoadProject() error = %v", err)
	}
	if cfg.Project != "finance" {
		t.Errorf("Project = %q, want %q (derived from filename)", cfg.Project, "finance")
	}
}

func TestLoadProjects_SkipsInvalid(t *testing.T) {
	dir := t.TempDir()

	good := `
project: good
defaults:
  primary_key: id
`
	bad := `
project: bad
` // no defaults and no tables
	if err := os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.yml"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	projects, errs := LoadProjects(dir)
	if len(projects) != 1 {
		t.Fatalf("projects length = %d, want 1", len(projects))
	}
	if projects[0].Project != "good" {
		t.Errorf("Project = %q, want %q", projects[0].Project, "good")
	}
	if len(errs) != 1 {
		t.Errorf("errs length = %d, want 1", len(errs))
	}
}
