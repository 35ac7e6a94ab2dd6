package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector/providers"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/logger"
)

var validate = validator.New()

type StoreConfig struct {
	Type         string `validate:"oneof=memory bigquery sql lake influx"`
	Dataset      string `validate:"required"`
	WeatherTable string `validate:"required"`
	TrafficTable string `validate:"required"`

	BigQueryProject string
	BigQueryMethod  string `validate:"oneof=load stream"`

	SQLDialect string
	SQLDSN     string
	SQLMigrate bool

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseTLS    bool
	MinIOBucket    string

	ParquetCompression string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// In-memory store retention (0 = unlimited).
	MemoryMaxRows int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type AppConfig struct {
	RunMode string `validate:"oneof=once schedule serve kafka"`

	Timezone string
	Location *time.Location

	GeoPoints []collector.GeoPoint `validate:"required,min=1,dive"`

	GCPProjectID        string
	SecretVersion       string
	TomTomSecretID      string `validate:"required"`
	OpenWeatherSecretID string `validate:"required"`

	WeatherURLTemplate string `validate:"required"`
	TrafficURLTemplate string `validate:"required"`

	HTTPTimeout      time.Duration
	FetchMaxAttempts int `validate:"gte=1"`
	FetchRetryDelay  time.Duration
	// BreakerFailures is the consecutive 5xx/transport failures that open a
	// provider's circuit. 0 disables the breaker.
	BreakerFailures int `validate:"gte=0"`

	// RunTimeout bounds a whole run; 0 disables the deadline.
	RunTimeout     time.Duration
	RunConcurrency int `validate:"gte=1"`
	// FailRateThreshold makes a one-shot run exit non-zero when the share of
	// failed pairs exceeds it. 0 disables the gate.
	FailRateThreshold float64 `validate:"gte=0,lte=1"`

	ScheduleInterval time.Duration
	Port             string

	Store StoreConfig
	Kafka KafkaConfig

	RedisAddr     string
	RedisPassword string
	LockTTL       time.Duration

	PushgatewayURL string
	LogLevel       string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		logger.Infof("No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}
	var err error

	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.RunMode = getenvDefault("RUN_MODE", "once")

	cfg.Timezone = getenvDefault("TIMEZONE", "Europe/Copenhagen")
	if cfg.Location, err = time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	if cfg.GeoPoints, err = LoadGeoPoints(os.Getenv("GEOPOINTS_FILE")); err != nil {
		return nil, err
	}

	cfg.GCPProjectID = getenvDefault("GCP_PROJECT_ID", "sylvan-mode-413619")
	cfg.SecretVersion = getenvDefault("SECRET_VERSION", "1")
	cfg.TomTomSecretID = getenvDefault("TOMTOM_SECRET_ID", "TOMTOM_API_KEY")
	cfg.OpenWeatherSecretID = getenvDefault("OPENWEATHER_SECRET_ID", "OPENWEATHER_API_KEY")

	cfg.WeatherURLTemplate = getenvDefault("WEATHER_URL_TEMPLATE", providers.OpenWeatherURL)
	cfg.TrafficURLTemplate = getenvDefault("TRAFFIC_URL_TEMPLATE", providers.TomTomURL)

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	cfg.FetchMaxAttempts = getenvInt("FETCH_MAX_ATTEMPTS", 3)
	if cfg.FetchRetryDelay, err = getenvDuration("FETCH_RETRY_DELAY", "1s"); err != nil {
		return nil, err
	}
	cfg.BreakerFailures = getenvInt("BREAKER_FAILURES", providers.DefaultBreakerFailures)
	if cfg.RunTimeout, err = getenvDuration("RUN_TIMEOUT", "0s"); err != nil {
		return nil, err
	}
	cfg.RunConcurrency = getenvInt("RUN_CONCURRENCY", 1)
	if cfg.FailRateThreshold, err = getenvFloat("FAIL_RATE_THRESHOLD", 0); err != nil {
		return nil, err
	}

	// Scheduler interval: default 15 minutes.
	if cfg.ScheduleInterval, err = getenvDuration("SCHEDULE_INTERVAL", "15m"); err != nil {
		return nil, err
	}
	cfg.Port = getenvDefault("PORT", "8080")

	cfg.Store = StoreConfig{
		Type:               getenvDefault("STORE_TYPE", "bigquery"),
		Dataset:            getenvDefault("BIGQUERY_DATASET", "copenhagen_data"),
		WeatherTable:       getenvDefault("WEATHER_TABLE", "weather_table"),
		TrafficTable:       getenvDefault("TRAFFIC_TABLE", "traffic_table"),
		BigQueryProject:    getenvDefault("BIGQUERY_PROJECT", cfg.GCPProjectID),
		BigQueryMethod:     getenvDefault("BIGQUERY_METHOD", "load"),
		SQLDialect:         getenvDefault("SQL_DIALECT", "postgres"),
		SQLDSN:             os.Getenv("SQL_DSN"),
		SQLMigrate:         getenvBool("SQL_MIGRATE", true),
		MinIOEndpoint:      getenvDefault("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey:     os.Getenv("MINIO_SECRET_KEY"),
		MinIOUseTLS:        getenvBool("MINIO_USE_TLS", false),
		MinIOBucket:        getenvDefault("MINIO_BUCKET", "copenhagen-etl"),
		ParquetCompression: getenvDefault("PARQUET_COMPRESSION", "SNAPPY"),
		InfluxURL:          getenvDefault("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:        os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:          os.Getenv("INFLUX_ORG"),
		InfluxBucket:       getenvDefault("INFLUX_BUCKET", "copenhagen_data"),
		MemoryMaxRows:      getenvInt("STORE_MAX_ROWS", 0),
	}

	cfg.Kafka = KafkaConfig{
		Brokers: splitList(getenvDefault("KAFKA_BROKERS", "localhost:9092")),
		Topic:   getenvDefault("KAFKA_TOPIC", "copenhagen-etl-trigger"),
		GroupID: getenvDefault("KAFKA_GROUP_ID", "copenhagen-etl"),
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.LockTTL, err = getenvDuration("LOCK_TTL", "30m"); err != nil {
		return nil, err
	}

	cfg.PushgatewayURL = os.Getenv("PUSHGATEWAY_URL")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Store.Type {
	case "sql":
		if c.Store.SQLDSN == "" {
			return fmt.Errorf("invalid config: SQL_DSN is required for the sql store")
		}
	case "influx":
		if c.Store.InfluxToken == "" || c.Store.InfluxOrg == "" {
			return fmt.Errorf("invalid config: INFLUX_TOKEN and INFLUX_ORG are required for the influx store")
		}
	}
	if c.RunMode == "kafka" && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("invalid config: KAFKA_BROKERS and KAFKA_TOPIC are required in kafka mode")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
