package db

import (
	"log"
	"os"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lojf/kidsclub/internal/models"
)

var conn *gorm.DB

func Init() error {
	dsn := os.Getenv("DB_PATH")
	if dsn == "" {
		dsn = "kidsclub.db"
	}

	var err error
	conn, err = gorm.Open(sqlite.Open(dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"), &gorm.Config{})
	if err != nil {
		return err
	}

	// SQLite works best with a single writer; cap the pool accordingly.
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := conn.AutoMigrate(
		&models.User{},
		&models.Program{},
		&models.Enrollment{},
		&models.Attendance{},
		&models.QRCode{},
		&models.Course{},
		&models.Lesson{},
		&models.Purchase{},
	); err != nil {
		log.Fatalf("auto-migrate failed: %v", err)
	}

	// Composite / conditional indexes that GORM doesn't auto-create from
	// struct tags. The attendance index is the uniqueness guarantee for
	// one record per (kid, day).
	conn.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_kid_date ON attendances(kid_id, date_key)")
	// Kids and contacts carry no identity id, so uniqueness only applies to
	// provider-backed accounts.
	conn.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_users_identity ON users(identity_id) WHERE identity_id <> ''")
	conn.Exec("CREATE INDEX IF NOT EXISTS idx_enrollment_kid_status     ON enrollments(kid_id, status)")
	conn.Exec("CREATE INDEX IF NOT EXISTS idx_enrollment_program_status ON enrollments(program_id, status)")
	conn.Exec("CREATE INDEX IF NOT EXISTS idx_users_parent_role         ON users(parent_id, role)")

	log.Println("database ready (sqlite)")
	return nil
}

func Conn() *gorm.DB {
	return conn
}
