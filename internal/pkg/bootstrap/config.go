// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Lock backends for the redemption critical section.
const (
	LockLocal     = "local"
	LockRedis     = "redis"
	LockZookeeper = "zookeeper"
)

type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Discount DiscountConfig `yaml:"discount"`
	Infra    InfraConfig    `yaml:"infra"`
}

type ServiceConfig struct {
	Name            string        `yaml:"name"`
	Port            int           `yaml:"port"`
	TimeZone        string        `yaml:"time_zone"`
	LogLevel        string        `yaml:"log_level"`
	LogPretty       bool          `yaml:"log_pretty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DiscountConfig struct {
	BarcodeActiveDuration time.Duration `yaml:"barcode_active_duration"`
	TaggingMinInterval    time.Duration `yaml:"tagging_min_interval"`
	RequireFirstToday     bool          `yaml:"require_first_today"`
	OperationTimeout      time.Duration `yaml:"operation_timeout"`
	PublishTimeout        time.Duration `yaml:"publish_timeout"`
	// HashTokens selects bcrypt comparison of terminal tokens; plain equality otherwise.
	HashTokens bool   `yaml:"hash_tokens"`
	Lock       string `yaml:"lock"`
}

type InfraConfig struct {
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	Addr            string        `yaml:"addr"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addrs     []string      `yaml:"addrs"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
	LockWait  time.Duration `yaml:"lock_wait"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	LockWait       time.Duration `yaml:"lock_wait"`
}

type NacosConfig struct {
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

// DefaultConfig runs a single instance against a local MySQL with in-process locking,
// no event publishing, no trace export and no service registration.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "discount-service",
			Port:            8080,
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
		},
		Discount: DiscountConfig{
			BarcodeActiveDuration: 10 * time.Minute,
			TaggingMinInterval:    15 * time.Second,
			RequireFirstToday:     true,
			OperationTimeout:      5 * time.Second,
			PublishTimeout:        time.Second,
			HashTokens:            true,
			Lock:                  LockLocal,
		},
		Infra: InfraConfig{
			MySQL: MySQLConfig{
				Addr:            "localhost:3306",
				User:            "root",
				Database:        "cafeteria",
				MaxOpenConns:    20,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
			Redis: RedisConfig{
				KeyPrefix: "cafeteria:",
				LockTTL:   10 * time.Second,
				LockWait:  5 * time.Second,
			},
			Kafka:     KafkaConfig{Topic: "discount-events"},
			Jaeger:    JaegerConfig{SampleRatio: 1},
			Zookeeper: ZookeeperConfig{SessionTimeout: 5 * time.Second, LockWait: 5 * time.Second},
			Nacos:     NacosConfig{Group: "DEFAULT_GROUP"},
		},
	}
}

// LoadConfig reads the YAML file at path (skipped when empty), applies environment overrides,
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("SERVICE_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Errorf("invalid SERVICE_PORT %q", v)
		}
		cfg.Service.Port = port
	}
	cfg.Service.LogLevel = getEnv("LOG_LEVEL", cfg.Service.LogLevel)
	cfg.Infra.MySQL.DSN = getEnv("MYSQL_DSN", cfg.Infra.MySQL.DSN)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.ServerAddrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
	if v, ok := os.LookupEnv("REDIS_ADDRS"); ok {
		cfg.Infra.Redis.Addrs = splitList(v)
	}
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		cfg.Infra.Kafka.Brokers = splitList(v)
	}
	if v, ok := os.LookupEnv("ZK_SERVERS"); ok {
		cfg.Infra.Zookeeper.Servers = splitList(v)
	}
	return nil
}

// Validate rejects settings that would make every discount check fail or a backend unusable.
func (c *Config) Validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return errors.Errorf("invalid service port %d", c.Service.Port)
	}
	if c.Discount.BarcodeActiveDuration <= 0 {
		return errors.New("discount.barcode_active_duration must be positive")
	}
	if c.Discount.TaggingMinInterval <= 0 {
		return errors.New("discount.tagging_min_interval must be positive")
	}
	switch c.Discount.Lock {
	case LockLocal:
	case LockRedis:
		if len(c.Infra.Redis.Addrs) == 0 {
			return errors.New("redis lock requires infra.redis.addrs")
		}
	case LockZookeeper:
		if len(c.Infra.Zookeeper.Servers) == 0 {
			return errors.New("zookeeper lock requires infra.zookeeper.servers")
		}
	default:
		return errors.Errorf("unknown lock backend %q", c.Discount.Lock)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
