package migration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

const sampleTemplate = `CREATE TABLE t (
    id {{.AutoIncrementType}} PRIMARY KEY{{.AutoIncrementSuffix}},
    n {{.BigIntType}} NOT NULL,
    at {{.TimestampType}} DEFAULT {{.CurrentTimestamp}}
);
`

func TestRender(t *testing.T) {
	tests := []struct {
		dbType string
		want   []string
	}{
		{"sqlite", []string{"id INTEGER PRIMARY KEY AUTOINCREMENT", "n INTEGER NOT NULL", "at TIMESTAMP"}},
		{"postgres", []string{"id BIGSERIAL PRIMARY KEY,", "n BIGINT NOT NULL", "at TIMESTAMPTZ"}},
	}

	for _, tt := range tests {
		t.Run(tt.dbType, func(t *testing.T) {
			out, err := Render([]byte(sampleTemplate), tt.dbType)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(string(out), want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestRenderErrors(t *testing.T) {
	if _, err := Render([]byte(sampleTemplate), "mysql"); err == nil {
		t.Error("expected an error for an unsupported database")
	}
	if _, err := Render([]byte("{{.NoSuchField}}"), "sqlite"); err == nil {
		t.Error("expected an error for an unknown template field")
	}
}

func TestGenerateAllMigrations(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "0001_t.up.sql.template"), []byte(sampleTemplate), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := GenerateAllMigrations(dir); err != nil {
		t.Fatalf("GenerateAllMigrations() error = %v", err)
	}

	for dbType := range DatabaseConfigs {
		if _, err := os.Stat(filepath.Join(dir, dbType, "0001_t.up.sql")); err != nil {
			t.Errorf("%s output missing: %v", dbType, err)
		}
	}

	stale, err := Stale(os.DirFS(dir))
	if err != nil || len(stale) != 0 {
		t.Errorf("Stale() = %v, %v", stale, err)
	}
}

func TestStale(t *testing.T) {
	sqlite, _ := Render([]byte(sampleTemplate), "sqlite")
	fsys := fstest.MapFS{
		"0001_t.up.sql.template": {Data: []byte(sampleTemplate)},
		"sqlite/0001_t.up.sql":   {Data: sqlite},
		"postgres/0001_t.up.sql": {Data: []byte("-- edited by hand\n")},
	}

	stale, err := Stale(fsys)
	if err != nil {
		t.Fatalf("Stale() error = %v", err)
	}
	if len(stale) != 1 || stale[0] != "postgres/0001_t.up.sql" {
		t.Errorf("Stale() = %v", stale)
	}
}

func TestOutputName(t *testing.T) {
	if got := OutputName("0001_x.down.sql.template"); got != "0001_x.down.sql" {
		t.Errorf("OutputName() = %q", got)
	}
}
