package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"bankrecon/internal/shared/config"
	"bankrecon/internal/shared/logger"
	"bankrecon/migrations"
)

func main() {
	log := logger.New()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal().Err(err).Msg("failed to load .env")
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	m, err := newMigrate(cfg.Database.URL())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize migrations")
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Error().AnErr("source", sourceErr).AnErr("database", dbErr).Msg("failed to close migration resources")
		}
	}()

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("db", cfg.Database.DBName).
		Msg("connected to database")

	if err := runCommand(m, os.Args[1], os.Args[2:], log); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
}

func newMigrate(dbURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func runCommand(m *migrate.Migrate, command string, args []string, log zerolog.Logger) error {
	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("no change: database is up to date")
			return nil
		}
		if err != nil {
			return fmt.Errorf("up: %w", err)
		}
		log.Info().Msg("migrations applied")

	case "down":
		if err := m.Steps(-1); err != nil {
			return fmt.Errorf("down: %w", err)
		}
		log.Info().Msg("last migration rolled back")

	case "goto":
		if len(args) < 1 {
			return errors.New("goto requires a version number")
		}
		version, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		err = m.Migrate(uint(version))
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Uint64("version", version).Msg("no change: database already at version")
			return nil
		}
		if err != nil {
			return fmt.Errorf("goto %d: %w", version, err)
		}
		log.Info().Uint64("version", version).Msg("migrated to version")

	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version number")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("force %d: %w", version, err)
		}
		log.Warn().Int("version", version).Msg("version forced, dirty flag cleared")

	case "status":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info().Msg("no migrations applied yet")
			return nil
		}
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("current migration version")

	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: migrate <command>")
	fmt.Println("Commands:")
	fmt.Println("  up       - apply all pending migrations")
	fmt.Println("  down     - roll back the last migration")
	fmt.Println("  goto N   - migrate to version N")
	fmt.Println("  force N  - set version N without running migrations (clears dirty)")
	fmt.Println("  status   - show the current migration version")
}
