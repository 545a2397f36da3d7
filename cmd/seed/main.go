// Command to load category definitions from a YAML file into the database
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"catalog-sync/internal/model"
	"catalog-sync/internal/store"

	"gopkg.in/yaml.v2"
)

const version = "1.0.0"

type seedFile struct {
	Categories []seedCategory `yaml:"categories"`
}

type seedCategory struct {
	ID     string            `yaml:"id"`
	Name   string            `yaml:"name"`
	Active *bool             `yaml:"active"`
	Sync   model.SyncConfig  `yaml:"sync"`
	Domain model.PriceDomain `yaml:"domain"`
	Bands  []model.PriceBand `yaml:"bands"`
}

func main() {
	file := flag.String("file", "./categories.yaml", "Category definitions file")
	dataDir := flag.String("dir", "./data", "Database directory")
	dryRun := flag.Bool("dry-run", false, "Show what would be done without making changes")
	update := flag.Bool("update", false, "Overwrite categories that already exist")
	versionFlag := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("seed version %s\n", version)
		return
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Printf("Error: cannot read %s: %v\n", *file, err)
		os.Exit(1)
	}

	var seeds seedFile
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		fmt.Printf("Error: invalid YAML in %s: %v\n", *file, err)
		os.Exit(1)
	}
	if len(seeds.Categories) == 0 {
		fmt.Println("Nothing to do: no categories defined")
		return
	}

	if *dryRun {
		fmt.Println("=== Dry run (no changes will be made) ===")
	}

	db, err := store.NewSQLite(*dataDir)
	if err != nil {
		fmt.Printf("Error: cannot open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	created, updated, skipped := 0, 0, 0
	for i, seed := range seeds.Categories {
		if seed.Name == "" {
			fmt.Printf("Error: category %d has no name\n", i+1)
			os.Exit(1)
		}

		cat := toCategory(seed)
		existing, exists := db.GetCategory(cat.ID)

		switch {
		case exists && !*update:
			fmt.Printf("  skip    %s (already exists)\n", cat.Name)
			skipped++
		case exists:
			// Keep the sync state; only the definition changes.
			cat.Status = existing.Status
			cat.LastSyncAt = existing.LastSyncAt
			cat.LastRun = existing.LastRun
			cat.CreatedAt = existing.CreatedAt
			if !*dryRun {
				if err := db.UpdateCategory(cat); err != nil {
					fmt.Printf("Error: failed to update %s: %v\n", cat.Name, err)
					os.Exit(1)
				}
			}
			fmt.Printf("  update  %s\n", cat.Name)
			updated++
		default:
			if !*dryRun {
				if err := db.CreateCategory(cat); err != nil {
					fmt.Printf("Error: failed to create %s: %v\n", cat.Name, err)
					os.Exit(1)
				}
			}
			fmt.Printf("  create  %s (%d bands, %s)\n", cat.Name, len(cat.Bands), cat.Sync.Frequency)
			created++
		}
	}

	fmt.Printf("\nDone: %d created, %d updated, %d skipped\n", created, updated, skipped)
}

func toCategory(seed seedCategory) *model.Category {
	now := time.Now()
	cat := &model.Category{
		ID:        seed.ID,
		Name:      seed.Name,
		Slug:      model.Slugify(seed.Name),
		Active:    true,
		Sync:      seed.Sync,
		Domain:    seed.Domain,
		Bands:     seed.Bands,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cat.ID == "" {
		cat.ID = cat.Slug
	}
	if seed.Active != nil {
		cat.Active = *seed.Active
	}
	if cat.Sync.Frequency == "" {
		cat.Sync.Frequency = model.FrequencyManual
	}
	return cat
}
