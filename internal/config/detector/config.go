package detector_config

import (
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Cronus/internal/feature"
	"github.com/NordCoder/Cronus/internal/obs"
	"github.com/NordCoder/Cronus/internal/outbox"
	pg "github.com/NordCoder/Cronus/internal/repository/postgres"
	"github.com/robfig/cron/v3"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type KafkaCfg struct {
	Enable            bool     `mapstructure:"enable"`
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	Partitions        int      `mapstructure:"partitions"`
	ReplicationFactor int      `mapstructure:"replication_factor"`
}

type DetectorCfg struct {
	Schedule               string        `mapstructure:"schedule"`
	RunOnStart             bool          `mapstructure:"run_on_start"`
	RunTimeout             time.Duration `mapstructure:"run_timeout"`
	BatchLimit             int           `mapstructure:"batch_limit"`
	Workers                int           `mapstructure:"workers"`
	MinBrokenDuration      time.Duration `mapstructure:"min_broken_duration"`
	MinConsecutiveFailures int           `mapstructure:"min_consecutive_failures"`
	SingleFlight           bool          `mapstructure:"single_flight"`
	MetricsAddr            string        `mapstructure:"metrics_addr"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc OTEL) AsOTELConfig() obs.OTELConfig {
	return obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		SampleRatio: oc.SampleRatio,
	}
}

type Log struct {
	Level    string `mapstructure:"level"`
	Pretty   bool   `mapstructure:"pretty"`
	Encoding string `mapstructure:"encoding"`
}

type Config struct {
	App      App            `mapstructure:"app"`
	DB       pg.Config      `mapstructure:"db"`
	Kafka    KafkaCfg       `mapstructure:"kafka"`
	Detector DetectorCfg    `mapstructure:"detector"`
	Features feature.Config `mapstructure:"features"`
	Outbox   outbox.Config  `mapstructure:"outbox"`
	OTEL     OTEL           `mapstructure:"otel"`
	Log      Log            `mapstructure:"log"`
}

func (c *Config) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:    c.Log.Level,
		Pretty:   c.Log.Pretty,
		Encoding: c.Log.Encoding,
		App:      c.App.Name,
		Env:      c.App.Env,
		Ver:      c.App.Version,
	}
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }

func (c *Config) Validate() error {
	var errs []error
	if c.DB.DSN == "" {
		errs = append(errs, ErrConfig("db.dsn is empty"))
	}
	if _, err := cron.ParseStandard(c.Detector.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("detector.schedule: %w", err))
	}
	if c.Detector.Workers <= 0 {
		errs = append(errs, ErrConfig("detector.workers must be > 0"))
	}
	if c.Detector.BatchLimit <= 0 {
		errs = append(errs, ErrConfig("detector.batch_limit must be > 0"))
	}
	if c.Detector.MinBrokenDuration <= 0 {
		errs = append(errs, ErrConfig("detector.min_broken_duration must be > 0"))
	}
	if c.Detector.MinConsecutiveFailures <= 0 {
		errs = append(errs, ErrConfig("detector.min_consecutive_failures must be > 0"))
	}
	switch c.Features.Source {
	case feature.SourceStatic, feature.SourceDB:
	default:
		errs = append(errs, fmt.Errorf("features.source: unknown %q", c.Features.Source))
	}
	if c.Outbox.Enable && (!c.Kafka.Enable || len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, ErrConfig("outbox.enable requires kafka.enable with brokers and topic"))
	}
	return errors.Join(errs...)
}
