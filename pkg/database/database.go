package database

import (
	"fmt"
	"strconv"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"agency-service/pkg/config"
)

// InitDB opens the database connection and configures the pool. The returned
// handle is passed explicitly into handlers and middleware; there is no
// package-level instance.
func InitDB(dbConfig *config.DBConfig) (*gorm.DB, error) {
	pgConfig := postgres.Config{
		DSN:                  dbConfig.GetDSN(),
		PreferSimpleProtocol: true, // Disables implicit prepared statement usage
	}

	db, err := gorm.Open(postgres.New(pgConfig), &gorm.Config{
		Logger: logger.Default.LogMode(dbConfig.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database object: %w", err)
	}

	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	return db, nil
}

// MigrateModels runs migrations for the provided models
func MigrateModels(db *gorm.DB, models ...interface{}) error {
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	return nil
}

// SetSessionContext pushes the resolved agency/user identity into the
// database session so that row-level security policies evaluated at the
// storage layer act as a second enforcement path. Callers treat a failure
// here as non-fatal: application-level scoping remains the primary control.
func SetSessionContext(db *gorm.DB, agencyID, userID uint, userName string) error {
	return db.Exec(
		"SELECT set_config('app.current_agency_id', ?, false), set_config('app.current_user_id', ?, false), set_config('app.current_user_name', ?, false)",
		strconv.FormatUint(uint64(agencyID), 10),
		strconv.FormatUint(uint64(userID), 10),
		userName,
	).Error
}
