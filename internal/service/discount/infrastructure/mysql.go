package infrastructure

import (
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// MySQLConfig describes the connection pool of the discount database.
type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	Addr            string        `yaml:"addr"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// FormatDSN builds the DSN from the discrete fields, or normalizes DSN when it is set.
// Either way parseTime is on and times are read in loc, so day boundaries match the service clock.
func (c MySQLConfig) FormatDSN(loc *time.Location) (string, error) {
	var cfg *mysqldriver.Config
	if c.DSN != "" {
		parsed, err := mysqldriver.ParseDSN(c.DSN)
		if err != nil {
			return "", errors.Wrap(err, "parse mysql dsn")
		}
		cfg = parsed
	} else {
		cfg = mysqldriver.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = c.Addr
		cfg.User = c.User
		cfg.Passwd = c.Password
		cfg.DBName = c.Database
		cfg.Params = map[string]string{"charset": "utf8mb4"}
	}
	cfg.ParseTime = true
	if loc != nil {
		cfg.Loc = loc
	}
	return cfg.FormatDSN(), nil
}

// OpenMySQL opens a gorm handle with error translation enabled.
func OpenMySQL(c MySQLConfig, loc *time.Location) (*gorm.DB, error) {
	dsn, err := c.FormatDSN(loc)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	if c.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	return db, nil
}
