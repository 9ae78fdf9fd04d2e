package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Models    ModelsConfig
	Forecast  ForecastConfig
	Telemetry TelemetryConfig
	Alerts    AlertsConfig
	API       APIConfig
	SMTP      SMTPConfig
	Log       LogConfig
}

type DatabaseConfig struct {
	Driver     string // postgres or sqlite
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

func (d DatabaseConfig) ConnectionString() string {
	if d.Driver == "sqlite" {
		return d.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// URL returns the postgres URL form used by pgxpool.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.DBName,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicReadings string
	TopicAlerts   string
	GroupID       string
	NotifierGroup string
	NumPartitions int
	CreateTopics  bool
	CommitTimeout time.Duration
}

type ModelsConfig struct {
	ServingURL           string
	ClassifierName       string
	SequenceName         string
	ClassifierScalerPath string
	SequenceScalerPath   string
	// RequestTimeout of zero means model calls are bounded only by the caller's context.
	RequestTimeout time.Duration
}

type ForecastConfig struct {
	Days        int
	StepMinutes int
	WindowSize  int
	BatchSize   int
}

// TotalSteps is the number of autoregressive steps in one run.
func (f ForecastConfig) TotalSteps() int {
	if f.StepMinutes <= 0 {
		return 0
	}
	return f.Days * 24 * 60 / f.StepMinutes
}

func (f ForecastConfig) Step() time.Duration {
	return time.Duration(f.StepMinutes) * time.Minute
}

type TelemetryConfig struct {
	HistorySize     int
	ReportInterval  time.Duration
	PersistInterval time.Duration
	ExportDir       string
	MetricsAddr     string
	DiskPath        string
	Thresholds      ThresholdsConfig
}

type ThresholdsConfig struct {
	ProcessingMean time.Duration
	ErrorRate      float64
	ForecastMean   time.Duration
	CPUPercent     float64
	MemoryPercent  float64
	DiskPercent    float64
}

type AlertsConfig struct {
	Enabled  bool
	Cooldown time.Duration
}

type APIConfig struct {
	Host         string
	Port         int
	DefaultLimit int
}

func (a APIConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type LogConfig struct {
	Level      string
	Format     string // json or console
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "airquality_user")
	v.SetDefault("db.password", "airquality_pass")
	v.SetDefault("db.name", "airquality_db")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.sqlite_path", "airquality.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic_readings", "sensor.air_quality")
	v.SetDefault("kafka.topic_alerts", "airquality.alerts")
	v.SetDefault("kafka.group_id", "airquality-pipeline")
	v.SetDefault("kafka.notifier_group", "airquality-notifier")
	v.SetDefault("kafka.num_partitions", 1)
	v.SetDefault("kafka.create_topics", false)
	v.SetDefault("kafka.commit_timeout", 10*time.Second)

	v.SetDefault("model.serving_url", "http://localhost:8501")
	v.SetDefault("model.classifier_name", "air_quality_classifier")
	v.SetDefault("model.sequence_name", "temperature_lstm")
	v.SetDefault("model.classifier_scaler", "models/classifier_scaler.json")
	v.SetDefault("model.sequence_scaler", "models/sequence_scaler.json")
	v.SetDefault("model.request_timeout", time.Duration(0))

	v.SetDefault("forecast.days", 7)
	v.SetDefault("forecast.step_minutes", 15)
	v.SetDefault("forecast.window_size", 6)
	v.SetDefault("forecast.batch_size", 96)

	v.SetDefault("telemetry.history_size", 100)
	v.SetDefault("telemetry.report_interval", 5*time.Minute)
	v.SetDefault("telemetry.persist_interval", 30*time.Minute)
	v.SetDefault("telemetry.export_dir", ".")
	v.SetDefault("telemetry.metrics_addr", ":9102")
	v.SetDefault("telemetry.disk_path", "/")
	v.SetDefault("telemetry.threshold_processing_mean", 30*time.Second)
	v.SetDefault("telemetry.threshold_error_rate", 5.0)
	v.SetDefault("telemetry.threshold_forecast_mean", 300*time.Second)
	v.SetDefault("telemetry.threshold_cpu_percent", 80.0)
	v.SetDefault("telemetry.threshold_memory_percent", 85.0)
	v.SetDefault("telemetry.threshold_disk_percent", 90.0)

	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.cooldown", 30*time.Minute)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8000)
	v.SetDefault("api.default_limit", 12)

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "airquality@example.com")
	v.SetDefault("smtp.to", "admin@example.com")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 30)
}

// Load reads configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and the environment (DB_HOST, KAFKA_BROKERS, ...).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:     v.GetString("db.driver"),
			Host:       v.GetString("db.host"),
			Port:       v.GetInt("db.port"),
			User:       v.GetString("db.user"),
			Password:   v.GetString("db.password"),
			DBName:     v.GetString("db.name"),
			SSLMode:    v.GetString("db.sslmode"),
			SQLitePath: v.GetString("db.sqlite_path"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(v.GetString("kafka.brokers")),
			TopicReadings: v.GetString("kafka.topic_readings"),
			TopicAlerts:   v.GetString("kafka.topic_alerts"),
			GroupID:       v.GetString("kafka.group_id"),
			NotifierGroup: v.GetString("kafka.notifier_group"),
			NumPartitions: v.GetInt("kafka.num_partitions"),
			CreateTopics:  v.GetBool("kafka.create_topics"),
			CommitTimeout: v.GetDuration("kafka.commit_timeout"),
		},
		Models: ModelsConfig{
			ServingURL:           strings.TrimRight(v.GetString("model.serving_url"), "/"),
			ClassifierName:       v.GetString("model.classifier_name"),
			SequenceName:         v.GetString("model.sequence_name"),
			ClassifierScalerPath: v.GetString("model.classifier_scaler"),
			SequenceScalerPath:   v.GetString("model.sequence_scaler"),
			RequestTimeout:       v.GetDuration("model.request_timeout"),
		},
		Forecast: ForecastConfig{
			Days:        v.GetInt("forecast.days"),
			StepMinutes: v.GetInt("forecast.step_minutes"),
			WindowSize:  v.GetInt("forecast.window_size"),
			BatchSize:   v.GetInt("forecast.batch_size"),
		},
		Telemetry: TelemetryConfig{
			HistorySize:     v.GetInt("telemetry.history_size"),
			ReportInterval:  v.GetDuration("telemetry.report_interval"),
			PersistInterval: v.GetDuration("telemetry.persist_interval"),
			ExportDir:       v.GetString("telemetry.export_dir"),
			MetricsAddr:     v.GetString("telemetry.metrics_addr"),
			DiskPath:        v.GetString("telemetry.disk_path"),
			Thresholds: ThresholdsConfig{
				ProcessingMean: v.GetDuration("telemetry.threshold_processing_mean"),
				ErrorRate:      v.GetFloat64("telemetry.threshold_error_rate"),
				ForecastMean:   v.GetDuration("telemetry.threshold_forecast_mean"),
				CPUPercent:     v.GetFloat64("telemetry.threshold_cpu_percent"),
				MemoryPercent:  v.GetFloat64("telemetry.threshold_memory_percent"),
				DiskPercent:    v.GetFloat64("telemetry.threshold_disk_percent"),
			},
		},
		Alerts: AlertsConfig{
			Enabled:  v.GetBool("alerts.enabled"),
			Cooldown: v.GetDuration("alerts.cooldown"),
		},
		API: APIConfig{
			Host:         v.GetString("api.host"),
			Port:         v.GetInt("api.port"),
			DefaultLimit: v.GetInt("api.default_limit"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			From:     v.GetString("smtp.from"),
			To:       v.GetString("smtp.to"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("at least one kafka broker is required")
	}
	if c.Forecast.WindowSize <= 0 {
		return fmt.Errorf("forecast window size must be positive, got %d", c.Forecast.WindowSize)
	}
	if c.Forecast.StepMinutes <= 0 || c.Forecast.Days <= 0 {
		return errors.New("forecast days and step minutes must be positive")
	}
	if c.Forecast.BatchSize <= 0 {
		return fmt.Errorf("forecast batch size must be positive, got %d", c.Forecast.BatchSize)
	}
	if c.Telemetry.HistorySize <= 0 {
		return fmt.Errorf("telemetry history size must be positive, got %d", c.Telemetry.HistorySize)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
