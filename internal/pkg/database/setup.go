package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// GetDB returns the process-wide connection pool, nil before SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}

// Models lists every table owned by the service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&models.FiscalIntegration{},
		&models.FiscalCertificate{},
		&models.FiscalDocument{},
		&models.FiscalDocumentEvent{},
	}
}

// DSN builds the MySQL connection string. Credentials have no built-in
// fallback: an empty user or database name is a configuration error.
func DSN() (string, error) {
	user := env.GetEnv("DB_USER", "")
	name := env.GetEnv("DB_NAME", "")
	if user == "" || name == "" {
		return "", errors.New("DB_USER and DB_NAME must be set")
	}
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=UTC"
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		user,
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		name,
	), nil
}

// MigrationURL builds the golang-migrate URL for the same database.
func MigrationURL() (string, error) {
	dsn, err := DSN()
	if err != nil {
		return "", err
	}
	return "mysql://" + dsn + "&multiStatements=true", nil
}

func SetupDatabase() error {
	dsn, err := DSN()
	if err != nil {
		return err
	}

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,   // data source name
			DefaultStringSize:         256,   // default size for string fields
			DisableDatetimePrecision:  false, // observation timestamps need sub-second precision
			DontSupportRenameIndex:    true,  // drop & create when rename index, rename index not supported before MySQL 5.7, MariaDB
			DontSupportRenameColumn:   true,  // `change` when rename column, rename column not supported before MySQL 8, MariaDB
			SkipInitializeWithVersion: false, // auto configure based on currently MySQL version
		}), &gorm.Config{
			TranslateError: true,
			NowFunc:        func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			if env.GetEnvBool("DB_AUTO_MIGRATE", false) {
				if mErr := DB.AutoMigrate(Models()...); mErr != nil {
					return fmt.Errorf("auto migrate: %w", mErr)
				}
			}
			return nil
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	return err
}
