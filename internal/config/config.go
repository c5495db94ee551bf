package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server Server
	DB     Database
	Redis  Redis
	Kafka  Kafka
	Relay  Relay
}

type Server struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type Redis struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

type Kafka struct {
	Brokers []string
	Topic   string
}

type Relay struct {
	HistoryLimit int
	SendQueue    int
}

var (
	instance *Config
	once     sync.Once
)

func Load() (*Config, error) {
	once.Do(func() {
		viper.SetDefault("RELAY_HOST", "")
		viper.SetDefault("RELAY_PORT", "8080")
		viper.SetDefault("RELAY_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("RELAY_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("RELAY_IDLE_TIMEOUT", 60*time.Second)
		viper.SetDefault("RELAY_HISTORY_LIMIT", 50)
		viper.SetDefault("RELAY_SEND_QUEUE", 256)
		viper.SetDefault("POSTGRES_HOST", "localhost")
		viper.SetDefault("POSTGRES_PORT", "5432")
		viper.SetDefault("POSTGRES_USER", "postgres")
		viper.SetDefault("POSTGRES_PASSWORD", "password")
		viper.SetDefault("POSTGRES_DB", "postgres")
		viper.SetDefault("POSTGRES_SSLMODE", "disable")
		viper.SetDefault("REDIS_ADDR", "")
		viper.SetDefault("REDIS_PASSWORD", "")
		viper.SetDefault("REDIS_DB", 0)
		viper.SetDefault("REDIS_MAX_RETRIES", 3)
		viper.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
		viper.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_POOL_SIZE", 100)
		viper.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
		viper.SetDefault("KAFKA_BROKERS", []string{})
		viper.SetDefault("KAFKA_TOPIC", "relay.messages")
		viper.AutomaticEnv()

		instance = &Config{
			Server: Server{
				Host:         viper.GetString("RELAY_HOST"),
				Port:         viper.GetString("RELAY_PORT"),
				ReadTimeout:  viper.GetDuration("RELAY_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("RELAY_WRITE_TIMEOUT"),
				IdleTimeout:  viper.GetDuration("RELAY_IDLE_TIMEOUT"),
			},
			DB: Database{
				Host:     viper.GetString("POSTGRES_HOST"),
				Port:     viper.GetString("POSTGRES_PORT"),
				User:     viper.GetString("POSTGRES_USER"),
				Password: viper.GetString("POSTGRES_PASSWORD"),
				DBName:   viper.GetString("POSTGRES_DB"),
				SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
			},
			Redis: Redis{
				Addr:         viper.GetString("REDIS_ADDR"),
				Password:     viper.GetString("REDIS_PASSWORD"),
				DB:           viper.GetInt("REDIS_DB"),
				MaxRetries:   viper.GetInt("REDIS_MAX_RETRIES"),
				DialTimeout:  viper.GetDuration("REDIS_DIAL_TIMEOUT"),
				ReadTimeout:  viper.GetDuration("REDIS_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("REDIS_WRITE_TIMEOUT"),
				PoolSize:     viper.GetInt("REDIS_POOL_SIZE"),
				MinIdleConns: viper.GetInt("REDIS_MIN_IDLE_CONNS"),
			},
			Kafka: Kafka{
				Brokers: viper.GetStringSlice("KAFKA_BROKERS"),
				Topic:   viper.GetString("KAFKA_TOPIC"),
			},
			Relay: Relay{
				HistoryLimit: viper.GetInt("RELAY_HISTORY_LIMIT"),
				SendQueue:    viper.GetInt("RELAY_SEND_QUEUE"),
			},
		}
	})

	return instance, nil
}

// DSN renders the Postgres connection string consumed by the gorm driver.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}
