package db

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"pulse-server/internal/config"
)

// Open connects to the configured record store.
func Open(conf config.DatabaseConfig) (*gorm.DB, error) {
	switch conf.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(conf.DSN), &gorm.Config{})

	case "sqlite":
		if dir := filepath.Dir(conf.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		return gorm.Open(sqlite.Dialector{
			DriverName: "sqlite",
			DSN:        conf.DSN,
		}, &gorm.Config{})

	default:
		return nil, fmt.Errorf("db: unknown driver %q", conf.Driver)
	}
}
