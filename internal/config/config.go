package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/linemk/resale-orders/internal/commission"
	"github.com/shopspring/decimal"
)

type Config struct {
	Env        string           `yaml:"env" env-default:"development"` // environment
	HTTPServer HTTPServerConfig `yaml:"http_server"`
	Database   DatabaseConfig   `yaml:"database"`
	JWT        JWTConfig        `yaml:"jwt"`
	Migrations MigrationsConfig `yaml:"migrations"`
	Commission CommissionConfig `yaml:"commission"`
	Settlement SettlementConfig `yaml:"settlement"`
	Shipping   ShippingConfig   `yaml:"shipping"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Payment    PaymentConfig    `yaml:"payment"`
}

// HTTPServerConfig структура http сервера
type HTTPServerConfig struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// DatabaseConfig структура по работе с БД
type DatabaseConfig struct {
	Host     string `yaml:"host" env-default:"localhost"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"-" env:"DB_PASSWORD" env-required:"true"`
	Name     string `yaml:"name" env-required:"true"`
}

// DSN собирает строку подключения для database/sql.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Name)
}

// JWTConfig настройка jwt
type JWTConfig struct {
	Secret   string `yaml:"-" env:"JWT_SECRET" env-required:"true"`
	TokenTTL int    `yaml:"token_ttl" env-default:"60"`
}

type MigrationsConfig struct {
	Path string `yaml:"path" env-default:"./migrations"`
}

// CommissionConfig - минимальная комиссия, окно промо (RFC3339, пусто = без границы) и фиксированная доставка.
type CommissionConfig struct {
	MinCommission string `yaml:"min_commission" env-default:"0.00"`
	PromoStart    string `yaml:"promo_start" env:"PROMO_START"`
	PromoEnd      string `yaml:"promo_end" env:"PROMO_END"`
	FlatShipping  string `yaml:"flat_shipping" env-default:"15.00"`
}

// SettlementConfig - планировщик освобождения средств.
type SettlementConfig struct {
	GracePeriod  time.Duration `yaml:"grace_period" env-default:"336h"`
	ScanInterval time.Duration `yaml:"scan_interval" env-default:"1m"`
	BatchSize    int           `yaml:"batch_size" env-default:"100"`
}

// ShippingConfig - API перевозчика.
type ShippingConfig struct {
	BaseURL          string        `yaml:"base_url" env-default:"https://sandbox.melhorenvio.com.br/api/v2"`
	Token            string        `yaml:"-" env:"CARRIER_TOKEN"`
	WebhookSecret    string        `yaml:"-" env:"CARRIER_WEBHOOK_SECRET"`
	UserAgent        string        `yaml:"user_agent" env-default:"resale-orders (dev@resale.local)"`
	Timeout          time.Duration `yaml:"timeout" env-default:"10s"`
	OriginPostalCode string        `yaml:"origin_postal_code" env-default:"99010000"`
	CacheTTL         time.Duration `yaml:"cache_ttl" env-default:"5m"`
	PollInterval     time.Duration `yaml:"poll_interval" env-default:"30m"`
	PollBatchSize    int           `yaml:"poll_batch_size" env-default:"50"`
}

// RedisConfig - пустой адрес отключает кеш трекинга.
type RedisConfig struct {
	Address  string `yaml:"address" env:"REDIS_ADDR"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env-default:"0"`
}

// KafkaConfig - пустой список брокеров отключает публикацию событий.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env-default:"order-events"`
}

// PaymentConfig - платёжный провайдер. Пустой ключ отключает создание платёжных намерений.
type PaymentConfig struct {
	SecretKey     string `yaml:"-" env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `yaml:"-" env:"STRIPE_WEBHOOK_SECRET"`
	Currency      string `yaml:"currency" env-default:"brl"`
}

// MinCommissionAmount разбирает минимальную комиссию.
func (c CommissionConfig) MinCommissionAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(c.MinCommission)
}

// FlatShippingPrice разбирает фиксированную стоимость доставки.
func (c CommissionConfig) FlatShippingPrice() (decimal.Decimal, error) {
	return decimal.NewFromString(c.FlatShipping)
}

// PromoWindow разбирает окно промоакции.
func (c CommissionConfig) PromoWindow() (commission.Window, error) {
	var w commission.Window
	var err error
	if c.PromoStart != "" {
		if w.Start, err = time.Parse(time.RFC3339, c.PromoStart); err != nil {
			return w, fmt.Errorf("invalid promo_start: %w", err)
		}
	}
	if c.PromoEnd != "" {
		if w.End, err = time.Parse(time.RFC3339, c.PromoEnd); err != nil {
			return w, fmt.Errorf("invalid promo_end: %w", err)
		}
	}
	return w, nil
}

// MustLoad - если не загружаем - паникуем
func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		log.Fatal("CONFIG_PATH not exists")
	}
	return MustLoadByPath(configPath)
}

func fetchConfigPath() string {
	var path string

	flag.StringVar(&path, "config", "", "path to config file")
	flag.Parse()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return path
}

func MustLoadByPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file not found: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("can't read config file %s: %v", configPath, err)
	}

	return &cfg
}
