package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	ERP       ERPConfig       `mapstructure:"erp"`
	Source    SourceConfig    `mapstructure:"source"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// ERPConfig holds the Service Layer endpoint and the credentials used for
// every login. Credentials are read once at startup.
type ERPConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	CompanyDB          string        `mapstructure:"company_db"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	Timeout            time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	LogPayloads        bool          `mapstructure:"log_payloads"`
}

// SourceConfig points at the ERP database used for incremental pulls.
// TZOffsetMinutes wins over Timezone when set.
type SourceConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Timezone        string        `mapstructure:"timezone"`
	TZOffsetMinutes *int          `mapstructure:"tz_offset_minutes"`
	BatchSize       int           `mapstructure:"batch_size"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

type SyncConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Lookback time.Duration `mapstructure:"lookback"`
	Overlap  time.Duration `mapstructure:"overlap"`
}

type DispatchConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Interval           time.Duration `mapstructure:"interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	RetryPolicy        string        `mapstructure:"retry_policy"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
	ReclaimUnconfirmed bool          `mapstructure:"reclaim_unconfirmed"`
}

type KafkaConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Brokers       []string      `mapstructure:"brokers"`
	GroupID       string        `mapstructure:"group_id"`
	Topics        []string      `mapstructure:"topics"`
	FromBeginning bool          `mapstructure:"from_beginning"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

type SchedulerConfig struct {
	LockBackend string        `mapstructure:"lock_backend"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
}

type AuthConfig struct {
	JWTSecret  string            `mapstructure:"jwt_secret"`
	AccessTTL  time.Duration     `mapstructure:"access_ttl"`
	RefreshTTL time.Duration     `mapstructure:"refresh_ttl"`
	Operators  []OperatorAccount `mapstructure:"operators"`
	// DevPass lets X-Dev-Pass requests through as an admin outside prod.
	DevPass bool `mapstructure:"dev_pass"`
}

// OperatorAccount is a local login for the admin surface.
type OperatorAccount struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Role     string `mapstructure:"role"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.port", ":8080")
	v.SetDefault("etcd.dial_timeout", 5*time.Second)

	v.SetDefault("erp.timeout", 60*time.Second)
	v.SetDefault("erp.requests_per_second", 5)

	v.SetDefault("source.timezone", "America/Santiago")
	v.SetDefault("source.batch_size", 500)
	v.SetDefault("source.query_timeout", 30*time.Second)

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.lookback", 7*24*time.Hour)
	v.SetDefault("sync.overlap", time.Minute)

	v.SetDefault("dispatch.enabled", true)
	v.SetDefault("dispatch.interval", time.Minute)
	v.SetDefault("dispatch.batch_size", 10)
	v.SetDefault("dispatch.retry_policy", "terminal")
	v.SetDefault("dispatch.retry_delay", 5*time.Minute)
	v.SetDefault("dispatch.max_attempts", 5)
	v.SetDefault("dispatch.stale_after", 15*time.Minute)

	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)

	v.SetDefault("kafka.group_id", "stockbridge-po")
	v.SetDefault("kafka.topics", []string{"sap.purchaseorder.cancelled"})
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("kafka.retry_backoff", 2*time.Second)

	v.SetDefault("scheduler.lock_backend", "none")
	v.SetDefault("scheduler.lock_ttl", 2*time.Minute)

	v.SetDefault("ratelimit.requests_per_second", 5)
}

func Load() *Config {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}
