package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// persistenceConfig adapts core.DatabaseConfig to the go-persistence-bun
// configuration contract.
type persistenceConfig struct {
	cfg core.DatabaseConfig
}

func (c persistenceConfig) GetDebug() bool {
	return c.cfg.Debug
}

func (c persistenceConfig) GetDriver() string {
	return c.cfg.Driver
}

func (c persistenceConfig) GetServer() string {
	return c.cfg.DSN
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	if c.cfg.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.cfg.PingTimeout
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-integration-broker"
}

// OpenClient opens the configured database and wraps it in a persistence
// client. Migrations are registered by the caller.
func OpenClient(cfg core.DatabaseConfig) (*persistence.Client, error) {
	driver := normalizeDriver(cfg.Driver)
	cfg.Driver = driver
	dialect, err := dialectForDriver(driver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{cfg: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	return client, nil
}

func dialectForDriver(driver string) (schema.Dialect, error) {
	switch driver {
	case "sqlite3":
		return sqlitedialect.New(), nil
	case "postgres":
		return pgdialect.New(), nil
	}
	return nil, fmt.Errorf("sqlstore: unsupported database driver %q", driver)
}

func normalizeDriver(driver string) string {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "sqlite" {
		return "sqlite3"
	}
	return driver
}
