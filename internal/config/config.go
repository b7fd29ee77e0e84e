package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries everything the service reads at startup. Values come from
// config.toml with environment-variable overrides (FIELDOPS_ prefix).
type Config struct {
	HTTPAddr    string
	CORSOrigins []string

	MongoURI      string
	MongoDatabase string

	KafkaBrokers []string
	EventTopic   string

	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration

	PushEndpoint string
	PushTimeout  time.Duration

	// DispatchTimeout bounds one whole fan-out pass across all channels.
	DispatchTimeout time.Duration

	ArrivalRadiusMeters float64
	TestMode            bool
	SampleInterval      time.Duration
	SweepInterval       time.Duration
	AutoStartOnArrival  bool

	PinLength      int
	PinMaxFailures int
	PinLockout     time.Duration

	LogLevel  string
	LogFormat string
	SentryDSN string
	OTLPAddr  string
}

func setDefaults() {
	viper.SetDefault("app.httpAddr", ":8090")
	viper.SetDefault("app.corsOrigins", []string{"http://localhost:3000"})
	viper.SetDefault("database.mongoURI", "mongodb://localhost:27017")
	viper.SetDefault("database.name", "fieldops")
	viper.SetDefault("watermill.kafkaBrokers", []string{})
	viper.SetDefault("watermill.eventTopic", "fieldops-events")
	viper.SetDefault("notify.webhookURL", "")
	viper.SetDefault("notify.webhookSecret", "")
	viper.SetDefault("notify.webhookTimeout", "5s")
	viper.SetDefault("notify.pushEndpoint", "")
	viper.SetDefault("notify.pushTimeout", "5s")
	viper.SetDefault("notify.dispatchTimeout", "10s")
	viper.SetDefault("tracking.arrivalRadiusMeters", 30.0)
	viper.SetDefault("tracking.testMode", false)
	viper.SetDefault("tracking.sampleInterval", "")
	viper.SetDefault("tracking.sweepInterval", "30s")
	viper.SetDefault("tracking.autoStartOnArrival", false)
	viper.SetDefault("pin.length", 4)
	viper.SetDefault("pin.maxFailures", 5)
	viper.SetDefault("pin.lockout", "15m")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("otel.otlpAddr", "")
}

// ReadConfig loads config.toml from the working directory. A missing file is
// fine; defaults plus environment overrides still apply.
func ReadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("fieldops")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	c := &Config{
		HTTPAddr:    viper.GetString("app.httpAddr"),
		CORSOrigins: viper.GetStringSlice("app.corsOrigins"),

		MongoURI:      viper.GetString("database.mongoURI"),
		MongoDatabase: viper.GetString("database.name"),

		KafkaBrokers: viper.GetStringSlice("watermill.kafkaBrokers"),
		EventTopic:   viper.GetString("watermill.eventTopic"),

		WebhookURL:     viper.GetString("notify.webhookURL"),
		WebhookSecret:  viper.GetString("notify.webhookSecret"),
		WebhookTimeout: viper.GetDuration("notify.webhookTimeout"),

		PushEndpoint: viper.GetString("notify.pushEndpoint"),
		PushTimeout:  viper.GetDuration("notify.pushTimeout"),

		DispatchTimeout: viper.GetDuration("notify.dispatchTimeout"),

		ArrivalRadiusMeters: viper.GetFloat64("tracking.arrivalRadiusMeters"),
		TestMode:            viper.GetBool("tracking.testMode"),
		SampleInterval:      viper.GetDuration("tracking.sampleInterval"),
		SweepInterval:       viper.GetDuration("tracking.sweepInterval"),
		AutoStartOnArrival:  viper.GetBool("tracking.autoStartOnArrival"),

		PinLength:      viper.GetInt("pin.length"),
		PinMaxFailures: viper.GetInt("pin.maxFailures"),
		PinLockout:     viper.GetDuration("pin.lockout"),

		LogLevel:  viper.GetString("log.level"),
		LogFormat: viper.GetString("log.format"),
		SentryDSN: viper.GetString("sentry.dsn"),
		OTLPAddr:  viper.GetString("otel.otlpAddr"),
	}

	if c.SampleInterval == 0 {
		c.SampleInterval = sampleIntervalFor(c)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// sampleIntervalFor is the bounded client sampling interval: fast in test
// mode, once a minute otherwise.
func sampleIntervalFor(c *Config) time.Duration {
	if c.TestMode {
		return 5 * time.Second
	}
	return 60 * time.Second
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("app.httpAddr is required")
	}
	if strings.TrimSpace(c.MongoURI) == "" {
		return fmt.Errorf("database.mongoURI is required")
	}
	if strings.TrimSpace(c.MongoDatabase) == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.ArrivalRadiusMeters <= 0 {
		return fmt.Errorf("tracking.arrivalRadiusMeters must be positive, got %v", c.ArrivalRadiusMeters)
	}
	if c.PinLength < 4 {
		return fmt.Errorf("pin.length must be at least 4, got %d", c.PinLength)
	}
	if c.PinMaxFailures < 1 {
		return fmt.Errorf("pin.maxFailures must be at least 1, got %d", c.PinMaxFailures)
	}
	if c.PinLockout <= 0 {
		return fmt.Errorf("pin.lockout must be positive, got %s", c.PinLockout)
	}
	if c.WebhookURL != "" && strings.TrimSpace(c.WebhookSecret) == "" {
		return fmt.Errorf("notify.webhookSecret is required when notify.webhookURL is set")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("tracking.sweepInterval must be positive, got %s", c.SweepInterval)
	}
	return nil
}
