package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Payment  PaymentConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type PaymentConfig struct {
	// NotificationBase is the public base URL gateways call back on.
	NotificationBase string
	// CecaChargeBudget bounds how late a CECA confirmation may still be
	// acknowledged. CECA itself voids at thirty seconds.
	CecaChargeBudget time.Duration
	// PendingTTL is how long a pending operation may wait before the
	// sweeper marks it failed.
	PendingTTL time.Duration
	// DedupTTL is how long confirmation deliveries are remembered for
	// de-duplication.
	DedupTTL time.Duration
	// SweepSchedule is the cron expression for the pending-operation
	// sweeper, with a seconds field.
	SweepSchedule string
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("CECA_CHARGE_BUDGET", "12s")
	viper.SetDefault("PENDING_TTL", "24h")
	viper.SetDefault("DEDUP_TTL", "10m")
	viper.SetDefault("SWEEP_SCHEDULE", "0 */10 * * * *")

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		Payment: PaymentConfig{
			NotificationBase: viper.GetString("NOTIFICATION_BASE_URL"),
			CecaChargeBudget: duration("CECA_CHARGE_BUDGET", 12*time.Second),
			PendingTTL:       duration("PENDING_TTL", 24*time.Hour),
			DedupTTL:         duration("DEDUP_TTL", 10*time.Minute),
			SweepSchedule:    viper.GetString("SWEEP_SCHEDULE"),
		},
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if cfg.Payment.NotificationBase == "" {
		log.Println("WARNING: NOTIFICATION_BASE_URL is not set")
	}

	return cfg, nil
}

func duration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return fallback
	}
	return d
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}
