package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	MinIO          MinIOConfig          `mapstructure:"minio"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Siigo          SiigoConfig          `mapstructure:"siigo"`
	WhatsApp       WhatsAppConfig       `mapstructure:"whatsapp"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Packaging      PackagingConfig      `mapstructure:"packaging"`
	Log            LogConfig            `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN is the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=America/Bogota",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

type JWTConfig struct {
	Secret            string        `mapstructure:"secret"`
	AccessTokenExpire time.Duration `mapstructure:"access_token_expire"`
	Issuer            string        `mapstructure:"issuer"`
}

type SiigoConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Username          string        `mapstructure:"username"`
	AccessKey         string        `mapstructure:"access_key"`
	PartnerID         string        `mapstructure:"partner_id"`
	WebhookToken      string        `mapstructure:"webhook_token"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	MinInterval       time.Duration `mapstructure:"min_interval"`
	Lookback          time.Duration `mapstructure:"lookback"`
	MaxRetries        int           `mapstructure:"max_retries"`
	ReceiptDocumentID int           `mapstructure:"receipt_document_id"`
	CashPaymentID     int           `mapstructure:"cash_payment_id"`
	TransferPaymentID int           `mapstructure:"transfer_payment_id"`
}

// Enabled reports whether credentials are present.
func (s SiigoConfig) Enabled() bool {
	return s.Username != "" && s.AccessKey != ""
}

type WhatsAppConfig struct {
	BaseURL       string            `mapstructure:"base_url"`
	PhoneNumberID string            `mapstructure:"phone_number_id"`
	AccessToken   string            `mapstructure:"access_token"`
	Language      string            `mapstructure:"language"`
	Templates     map[string]string `mapstructure:"templates"`
}

type ReconciliationConfig struct {
	CashTolerance    string        `mapstructure:"cash_tolerance"`
	DepositTolerance string        `mapstructure:"deposit_tolerance"`
	BaseBalance      string        `mapstructure:"base_balance"`
	BalanceCacheTTL  time.Duration `mapstructure:"balance_cache_ttl"`
}

// Amounts parses the decimal knobs. Empty values are zero.
func (r ReconciliationConfig) Amounts() (cash, deposit, base decimal.Decimal, err error) {
	parse := func(name, v string) (decimal.Decimal, error) {
		if strings.TrimSpace(v) == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, fmt.Errorf("reconciliation.%s: %w", name, err)
		}
		if d.IsNegative() {
			return decimal.Zero, fmt.Errorf("reconciliation.%s must not be negative", name)
		}
		return d, nil
	}
	if cash, err = parse("cash_tolerance", r.CashTolerance); err != nil {
		return
	}
	if deposit, err = parse("deposit_tolerance", r.DepositTolerance); err != nil {
		return
	}
	base, err = parse("base_balance", r.BaseBalance)
	return
}

type PackagingConfig struct {
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	EnforceLock     bool          `mapstructure:"enforce_lock"`
	RequireEvidence bool          `mapstructure:"require_evidence"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("minio.bucket", "oms-evidence")
	v.SetDefault("kafka.topic", "oms.order-events")
	v.SetDefault("kafka.client_id", "oms")
	v.SetDefault("jwt.access_token_expire", "12h")
	v.SetDefault("siigo.base_url", "https://api.siigo.com")
	v.SetDefault("siigo.poll_interval", "5m")
	v.SetDefault("siigo.max_backoff", "30m")
	v.SetDefault("siigo.min_interval", "300ms")
	v.SetDefault("siigo.lookback", "72h")
	v.SetDefault("siigo.max_retries", 3)
	v.SetDefault("whatsapp.language", "es")
	v.SetDefault("reconciliation.cash_tolerance", "0")
	v.SetDefault("reconciliation.deposit_tolerance", "0")
	v.SetDefault("reconciliation.base_balance", "0")
	v.SetDefault("reconciliation.balance_cache_ttl", "10m")
	v.SetDefault("packaging.lock_ttl", "10m")
	v.SetDefault("packaging.enforce_lock", false)
	v.SetDefault("packaging.require_evidence", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configs/config.yaml (or the file named by path) with
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if _, _, _, err := cfg.Reconciliation.Amounts(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindEnvVariables(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")

	// Database
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// MinIO
	v.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	v.BindEnv("minio.access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("minio.secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("minio.bucket", "MINIO_BUCKET")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// SIIGO
	v.BindEnv("siigo.username", "SIIGO_USERNAME")
	v.BindEnv("siigo.access_key", "SIIGO_ACCESS_KEY")
	v.BindEnv("siigo.partner_id", "SIIGO_PARTNER_ID")
	v.BindEnv("siigo.webhook_token", "SIIGO_WEBHOOK_TOKEN")

	// WhatsApp
	v.BindEnv("whatsapp.phone_number_id", "WHATSAPP_PHONE_NUMBER_ID")
	v.BindEnv("whatsapp.access_token", "WHATSAPP_ACCESS_TOKEN")

	// Reconciliation
	v.BindEnv("reconciliation.cash_tolerance", "CASH_TOLERANCE")
	v.BindEnv("reconciliation.deposit_tolerance", "DEPOSIT_TOLERANCE")
	v.BindEnv("reconciliation.base_balance", "TREASURY_BASE_BALANCE")
}
