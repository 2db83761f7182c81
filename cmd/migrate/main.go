// Command migrate runs the embedded audit store migrations via goose.
//
// Usage:
//
//	go run ./cmd/migrate up          # Apply all pending migrations
//	go run ./cmd/migrate down        # Roll back the last migration
//	go run ./cmd/migrate status      # Show migration status
//	go run ./cmd/migrate version     # Show current schema version
//	go run ./cmd/migrate up-to 2     # Apply migrations up to version 2
//	go run ./cmd/migrate down-to 1   # Roll back to version 1
//
// DATABASE_URL selects PostgreSQL; SQLITE_PATH selects a SQLite file.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/mbd888/sentinel/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command>")
		fmt.Println("Commands: up, down, status, version, up-to <version>, down-to <version>")
		os.Exit(1)
	}

	_ = godotenv.Load()

	db, dialect, files, err := open()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	provider, err := goose.NewProvider(dialect, db, files)
	if err != nil {
		log.Fatalf("Failed to create migration provider: %v", err)
	}

	if err := run(ctx, provider, os.Args[1], os.Args[2:]); err != nil {
		log.Fatalf("Migration %s failed: %v", os.Args[1], err)
	}
}

func open() (*sql.DB, goose.Dialect, fs.FS, error) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		db, err := sql.Open("postgres", url)
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to open database: %w", err)
		}
		return db, goose.DialectPostgres, migrations.Postgres(), nil
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to open sqlite db: %w", err)
		}
		return db, goose.DialectSQLite3, migrations.SQLite(), nil
	}
	return nil, "", nil, fmt.Errorf("DATABASE_URL or SQLITE_PATH environment variable is required")
}

func run(ctx context.Context, p *goose.Provider, command string, args []string) error {
	switch command {
	case "up":
		results, err := p.Up(ctx)
		report(results)
		return err
	case "down":
		result, err := p.Down(ctx)
		if result != nil {
			report([]*goose.MigrationResult{result})
		}
		return err
	case "up-to", "down-to":
		if len(args) != 1 {
			return fmt.Errorf("%s requires a version argument", command)
		}
		version, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		var results []*goose.MigrationResult
		if command == "up-to" {
			results, err = p.UpTo(ctx, version)
		} else {
			results, err = p.DownTo(ctx, version)
		}
		report(results)
		return err
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "pending"
			if s.State == goose.StateApplied {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%5d  %-40s  %s\n", s.Source.Version, s.Source.Path, applied)
		}
		return nil
	case "version":
		version, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("version %d\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func report(results []*goose.MigrationResult) {
	for _, r := range results {
		fmt.Println(r.String())
	}
}
