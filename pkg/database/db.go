package database

import (
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shiftpay/lifecycle-api-go/pkg/models"
)

// ServiceKey represents the service_keys table; keys authorize the
// manual run-trigger endpoints
type ServiceKey struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Key       string `gorm:"unique;not null" json:"key"`
	Name      string `gorm:"not null" json:"name"`
	RateLimit int    `gorm:"default:10000" json:"rate_limit"`
	// AllowedRules is a comma-separated allowlist of rule names this
	// key may trigger; empty means every rule
	AllowedRules string     `json:"allowed_rules"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used"`
}

// CanRun reports whether the key may trigger the named rule
func (k *ServiceKey) CanRun(rule string) bool {
	if k.AllowedRules == "" {
		return true
	}
	for _, allowed := range strings.Split(k.AllowedRules, ",") {
		if strings.TrimSpace(allowed) == rule {
			return true
		}
	}
	return false
}

// ServiceKeyUsage represents the service_key_usage table
type ServiceKeyUsage struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	KeyID        uint   `gorm:"uniqueIndex:idx_key_date;not null" json:"key_id"`
	Date         string `gorm:"uniqueIndex:idx_key_date;not null" json:"date"`
	RequestCount int    `gorm:"default:0" json:"request_count"`
	RunsStarted  int    `gorm:"default:0" json:"runs_started"`
}

// MasterUser represents the master_users table
type MasterUser struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"unique;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// InitDB initializes the database connection and migrates the schema
func InitDB() *gorm.DB {
	var db *gorm.DB
	var err error

	dsn := os.Getenv("DATABASE_URL")
	if dsn != "" {
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), &gorm.Config{
			PrepareStmt:    false,
			TranslateError: true,
		})
	} else {
		dbPath := os.Getenv("DATA_PATH")
		if dbPath == "" {
			dbPath = "lifecycle.db"
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{TranslateError: true})
	}

	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	Migrate(db)

	return db
}

// Migrate runs the schema migration for every table the engine touches
func Migrate(db *gorm.DB) {
	db.AutoMigrate(
		&models.Shift{},
		&models.Assignment{},
		&models.Payment{},
		&models.Refund{},
		&models.RunRecord{},
		&ServiceKey{},
		&ServiceKeyUsage{},
		&MasterUser{},
	)
}
