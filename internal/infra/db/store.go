package db

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to postgres and migrates the schema. An empty DSN returns a
// nil handle; repositories tolerate that and report errDBUnavailable, which
// keeps the process bootable for local runs without a database.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, nil
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := conn.AutoMigrate(
		&RegistrationModel{},
		&SigningKeyModel{},
		&RevocationModel{},
		&RevocationEpochModel{},
		&PeerBundleModel{},
		&PolicyRuleModel{},
		&PolicyVersionModel{},
		&AuditEventModel{},
	); err != nil {
		return nil, err
	}
	return conn, nil
}
