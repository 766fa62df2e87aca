package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// Connect establishes a connection to the PostgreSQL database
func Connect(dsn string, logLevel logger.LogLevel) error {
	var err error

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Database connection established")
	return nil
}

// AutoMigrate runs database migrations
func AutoMigrate() error {
	log.Println("Running database migrations...")

	err := DB.AutoMigrate(
		&Call{},
		&AudioFile{},
		&MetricSample{},
		&AlertRule{},
		&TriggeredAlert{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// SeedDefaultAlertRules creates the given rules unless a rule with the
// same name already exists. Operator edits are never overwritten.
func SeedDefaultAlertRules(db *gorm.DB, rules []AlertRule) error {
	for i := range rules {
		rule := rules[i]
		var existing AlertRule
		err := db.Where("name = ?", rule.Name).First(&existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("failed to look up alert rule %s: %w", rule.Name, err)
		}
		if err := db.Create(&rule).Error; err != nil {
			return fmt.Errorf("failed to create alert rule %s: %w", rule.Name, err)
		}
		log.Printf("Created default alert rule: %s (%s %s %g)", rule.Name, rule.MetricName, rule.Operator, rule.Threshold)
	}
	return nil
}

// Ping verifies the store is reachable. Returns ErrStoreUnavailable
// (wrapped) when it is not.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
