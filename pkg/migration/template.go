// Package migration renders dialect-neutral .sql.template files into the
// per-database migrations embedded by the journal.
package migration

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
)

const templateSuffix = ".sql.template"

type DatabaseConfig struct {
	TextType            string
	IntType             string
	BigIntType          string
	TimestampType       string
	CurrentTimestamp    string
	AutoIncrementType   string
	AutoIncrementSuffix string
}

var DatabaseConfigs = map[string]DatabaseConfig{
	"sqlite": {
		TextType:            "TEXT",
		IntType:             "INTEGER",
		BigIntType:          "INTEGER",
		TimestampType:       "TIMESTAMP",
		CurrentTimestamp:    "CURRENT_TIMESTAMP",
		AutoIncrementType:   "INTEGER",
		AutoIncrementSuffix: " AUTOINCREMENT",
	},
	"postgres": {
		TextType:            "TEXT",
		IntType:             "INTEGER",
		BigIntType:          "BIGINT",
		TimestampType:       "TIMESTAMPTZ",
		CurrentTimestamp:    "CURRENT_TIMESTAMP",
		AutoIncrementType:   "BIGSERIAL",
		AutoIncrementSuffix: "",
	},
}

// Render executes one template for dbType.
func Render(tmplContent []byte, dbType string) ([]byte, error) {
	config, exists := DatabaseConfigs[dbType]
	if !exists {
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	tmpl, err := template.New("migration").Option("missingkey=error").Parse(string(tmplContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

// ProcessMigrationTemplate reads a .sql.template file and writes the
// database-specific SQL to outputPath.
func ProcessMigrationTemplate(templatePath, dbType, outputPath string) error {
	tmplContent, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read template file: %w", err)
	}

	out, err := Render(tmplContent, dbType)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(outputPath, out, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// GenerateAllMigrations processes every .sql.template in migrationsDir for
// every supported database, writing into migrationsDir/<dbType>/.
func GenerateAllMigrations(migrationsDir string) error {
	templateFiles, err := filepath.Glob(filepath.Join(migrationsDir, "*"+templateSuffix))
	if err != nil {
		return fmt.Errorf("failed to find template files: %w", err)
	}

	for _, templateFile := range templateFiles {
		baseName := OutputName(filepath.Base(templateFile))

		for dbType := range DatabaseConfigs {
			outputPath := filepath.Join(migrationsDir, dbType, baseName)
			if err := ProcessMigrationTemplate(templateFile, dbType, outputPath); err != nil {
				return fmt.Errorf("failed to process template %s for %s: %w", templateFile, dbType, err)
			}
		}
	}

	return nil
}

// OutputName maps 0001_x.up.sql.template to 0001_x.up.sql.
func OutputName(templateName string) string {
	return strings.TrimSuffix(templateName, ".template")
}

// Stale lists generated files in fsys that no longer match their template.
// fsys must contain the templates at its root and one directory per
// database type.
func Stale(fsys fs.FS) ([]string, error) {
	templates, err := fs.Glob(fsys, "*"+templateSuffix)
	if err != nil {
		return nil, err
	}

	var stale []string
	for _, name := range templates {
		tmplContent, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		for dbType := range DatabaseConfigs {
			want, err := Render(tmplContent, dbType)
			if err != nil {
				return nil, err
			}
			path := dbType + "/" + OutputName(name)
			got, err := fs.ReadFile(fsys, path)
			if err != nil || !bytes.Equal(got, want) {
				stale = append(stale, path)
			}
		}
	}
	sort.Strings(stale)
	return stale, nil
}
