package gorm

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

// DialectorFactory builds a gorm.Dialector from the history settings.
type DialectorFactory func(cfg config.HistoryConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

func init() {
	RegisterDialector("sqlite", func(cfg config.HistoryConfig) (gorm.Dialector, error) {
		dsn := SQLiteDSN(cfg)
		if dsn == "" {
			return nil, exception.NewConfigurationErrorf(moduleName, "sqlite history needs a dsn or database path")
		}
		return sqlite.Open(dsn), nil
	})
	RegisterDialector("postgres", func(cfg config.HistoryConfig) (gorm.Dialector, error) {
		return postgres.Open(PostgresDSN(cfg)), nil
	})
	RegisterDialector("mysql", func(cfg config.HistoryConfig) (gorm.Dialector, error) {
		return mysql.Open(MySQLDSN(cfg)), nil
	})
}

// RegisterDialector registers a DialectorFactory for a history type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory returns the factory registered for dbType.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, exception.NewConfigurationErrorf(moduleName, "no dialector registered for history type: %s", dbType)
	}
	return factory, nil
}

// SQLiteDSN is the file path of the database.
func SQLiteDSN(cfg config.HistoryConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return cfg.Database
}

// PostgresDSN returns cfg.DSN, or a keyword/value DSN built from the discrete fields.
func PostgresDSN(cfg config.HistoryConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, port, cfg.User, cfg.Password, cfg.Database, sslmode)
}

// MySQLDSN returns cfg.DSN, or a go-sql-driver DSN built from the discrete fields.
func MySQLDSN(cfg config.HistoryConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	c := mysqldriver.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	c.DBName = cfg.Database
	c.ParseTime = true
	return c.FormatDSN()
}
