package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hudlink/hudlink/internal/config"
)

// Open connects to the database selected by cfg.Type. A postgres database
// that cannot be reached falls back to sqlite at cfg.Path, so a journal is
// always available. local reports whether the sqlite fallback is in use.
func Open(cfg config.JournalConfig, log zerolog.Logger) (db *gorm.DB, local bool, err error) {
	if cfg.Type == "postgres" {
		db, err = GetPostgresDB(cfg)
		if err == nil {
			err = ping(db)
		}
		if err == nil {
			log.Info().Str("host", cfg.Host).Msg("Connected to Postgres journal")
			return db, false, nil
		}
		log.Error().Err(err).Msg("Failed to connect to Postgres DB, trying SQLite")
	}

	db, err = GetSqliteDB(cfg.Path)
	if err != nil {
		return nil, true, fmt.Errorf("failed to get local SQLite DB: %w", err)
	}
	if err := ping(db); err != nil {
		return nil, true, err
	}
	if cfg.Path != "" {
		log.Info().Str("path", cfg.Path).Msg("Using local SQLite journal")
	} else {
		log.Info().Msg("Using in-memory SQLite journal")
	}
	return db, true, nil
}

func ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to validate connection: %w", err)
	}
	return nil
}

// GetPostgresDB returns a connection to the Postgres database.
func GetPostgresDB(cfg config.JournalConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
	)

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(4)
	}
	return db, nil
}

// GetSqliteDB returns a connection to a SQLite database.
// If path is empty, uses a private in-memory database.
func GetSqliteDB(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// a single connection keeps an in-memory database alive and serializes
	// writers on a file database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	if path == "" {
		pragmas[0] = "PRAGMA journal_mode = MEMORY;"
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	return db, nil
}
