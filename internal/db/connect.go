// Package db opens the relational store and manages its schema.
package db

import (
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLDSN builds a MySQL-compatible DSN (MySQL, MariaDB, Dolt).
func MySQLDSN(c config.DatabaseConfig) string {
	auth := c.User
	if auth == "" {
		auth = "root"
	}
	if c.Password != "" {
		auth += ":" + c.Password
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC", auth, c.Host, c.Port, c.Name)
}

// PostgresDSN builds a key/value Postgres DSN.
func PostgresDSN(c config.DatabaseConfig) string {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=disable TimeZone=UTC", c.Host, c.Port, c.Name)
	if c.User != "" {
		dsn += " user=" + c.User
	}
	if c.Password != "" {
		dsn += " password=" + c.Password
	}
	return dsn
}

// Dialector picks the gorm dialector for the configured driver.
func Dialector(c config.DatabaseConfig) (gorm.Dialector, error) {
	switch c.Driver {
	case "sqlite", "":
		dsn := c.DSN
		if dsn == "" {
			dsn = c.Name
		}
		return sqlite.Open(dsn), nil
	case "mysql":
		dsn := c.DSN
		if dsn == "" {
			dsn = MySQLDSN(c)
		}
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := c.DSN
		if dsn == "" {
			dsn = PostgresDSN(c)
		}
		return postgres.Open(dsn), nil
	}
	return nil, fmt.Errorf("db: unsupported driver %q", c.Driver)
}

// Connect opens a GORM connection for the configured driver. Timestamps
// written by gorm itself use UTC to match the service clock.
func Connect(c config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(c)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect (%s): %w", c.Driver, err)
	}
	if c.Driver == "sqlite" || c.Driver == "" {
		// SQLite allows one writer; a single connection turns concurrent
		// transactions into a queue instead of SQLITE_BUSY failures.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("db: connect (%s): %w", c.Driver, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return gdb, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
// Only meaningful for MySQL-compatible servers.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}
