package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"

	"github.com/denwilliams/go-mqtt-homelink/pkg/migration"
)

func main() {
	var (
		migrationsDir = flag.String("dir", "pkg/journal/migrations", "Directory containing migration templates")
		dbType        = flag.String("db", "", "Database type ("+strings.Join(supportedTypes(), ", ")+"). If empty, generates for all types")
		templateFile  = flag.String("template", "", "Specific template file to process. If empty, processes all templates")
	)
	flag.Parse()

	if *templateFile != "" && *dbType != "" {
		// Process single template for single database
		outputPath := filepath.Join(*migrationsDir, *dbType, migration.OutputName(filepath.Base(*templateFile)))

		if err := migration.ProcessMigrationTemplate(*templateFile, *dbType, outputPath); err != nil {
			log.Fatalf("Failed to process template: %v", err)
		}
		fmt.Printf("Generated migration: %s\n", outputPath)
		return
	}

	// Process all templates for all databases
	if err := migration.GenerateAllMigrations(*migrationsDir); err != nil {
		log.Fatalf("Failed to generate migrations: %v", err)
	}
	fmt.Println("Generated all database-specific migrations")
}

func supportedTypes() []string {
	types := make([]string, 0, len(migration.DatabaseConfigs))
	for t := range migration.DatabaseConfigs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
