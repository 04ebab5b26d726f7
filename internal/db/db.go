package db

import (
	"fmt"
	"path/filepath"

	puresqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite     = "sqlite"
	DriverSQLitePure = "sqlite-pure" // no cgo
	DriverPostgres   = "postgres"
	DriverMySQL      = "mysql"
)

type Handle struct {
	DB     *gorm.DB
	Driver string
	Path   string // DSN
}

// OpenAt opens the default SQLite file in the application data dir.
func OpenAt(dir string) (*Handle, error) {
	return Open(DriverSQLite, filepath.Join(dir, "catalogsync.db"))
}

func Open(driver, dsn string) (*Handle, error) {
	var dial gorm.Dialector
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		dial = sqlite.Open(dsn)
	case DriverSQLitePure:
		dial = puresqlite.Open(dsn)
	case DriverPostgres:
		dial = postgres.Open(dsn)
	case DriverMySQL:
		dial = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	gdb, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // logger.Info for verbose SQL
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return &Handle{DB: gdb, Driver: driver, Path: dsn}, nil
}

func (h *Handle) Close() error {
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
