package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        App        `yaml:"app"`
	Server     Server     `yaml:"server"`
	Queue      *RabbitMQ  `yaml:"rabbitmq"`
	Continuity Continuity `yaml:"continuity"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type RabbitMQ struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	User          string `json:"user"`
	Pass          string `json:"pass"`
	ExchangeName  string `json:"exchange_name"`
	EventExchange string `json:"event_exchange"`
	Kind          string `json:"kind"`
}

// Continuity holds the tunables of the connection-continuity subsystem.
type Continuity struct {
	MaxFrameCount        int           `yaml:"max_frame_count"`
	MaxBufferBytes       int64         `yaml:"max_buffer_bytes"`
	BufferIdleTimeout    time.Duration `yaml:"buffer_idle_timeout"`
	BufferSweepInterval  time.Duration `yaml:"buffer_sweep_interval"`
	GracePeriod          time.Duration `yaml:"grace_period"`
	InactivityTimeout    time.Duration `yaml:"inactivity_timeout"`
	SessionSweepInterval time.Duration `yaml:"session_sweep_interval"`
	InitialRetryInterval time.Duration `yaml:"initial_retry_interval"`
	MaxRetryInterval     time.Duration `yaml:"max_retry_interval"`
	MaxReconnectTimeout  time.Duration `yaml:"max_reconnect_timeout"`
	MaxRetryAttempts     int           `yaml:"max_retry_attempts"`
	RecoveryTailCount    int           `yaml:"recovery_tail_count"`
}

func setDefaults() {
	viper.SetDefault("app.environment", "develop")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.workers", 4)

	viper.SetDefault("rabbitmq_host", "localhost")
	viper.SetDefault("rabbitmq_port", 5672)
	viper.SetDefault("rabbitmq_user", "guest")
	viper.SetDefault("rabbitmq_pass", "guest")
	viper.SetDefault("rabbitmq_kind", "topic")
	viper.SetDefault("rabbitmq_exchange", "continuity_ingest")
	viper.SetDefault("rabbitmq_event_exchange", "continuity_events")

	viper.SetDefault("continuity.max_frame_count", 60)
	viper.SetDefault("continuity.max_buffer_bytes", 10*1024*1024)
	viper.SetDefault("continuity.buffer_idle_timeout", "5m")
	viper.SetDefault("continuity.buffer_sweep_interval", "30s")
	viper.SetDefault("continuity.grace_period", "10s")
	viper.SetDefault("continuity.inactivity_timeout", "10m")
	viper.SetDefault("continuity.session_sweep_interval", "5s")
	viper.SetDefault("continuity.initial_retry_interval", "1s")
	viper.SetDefault("continuity.max_retry_interval", "5s")
	viper.SetDefault("continuity.max_reconnect_timeout", "20s")
	viper.SetDefault("continuity.max_retry_attempts", 10)
	viper.SetDefault("continuity.recovery_tail_count", 30)
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	rabbitmq := &RabbitMQ{
		Host:          viper.GetString("rabbitmq_host"),
		Port:          viper.GetInt("rabbitmq_port"),
		User:          viper.GetString("rabbitmq_user"),
		Pass:          viper.GetString("rabbitmq_pass"),
		Kind:          viper.GetString("rabbitmq_kind"),
		ExchangeName:  viper.GetString("rabbitmq_exchange"),
		EventExchange: viper.GetString("rabbitmq_event_exchange"),
	}

	return &Config{
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		Queue: rabbitmq,
		Continuity: Continuity{
			MaxFrameCount:        viper.GetInt("continuity.max_frame_count"),
			MaxBufferBytes:       viper.GetInt64("continuity.max_buffer_bytes"),
			BufferIdleTimeout:    viper.GetDuration("continuity.buffer_idle_timeout"),
			BufferSweepInterval:  viper.GetDuration("continuity.buffer_sweep_interval"),
			GracePeriod:          viper.GetDuration("continuity.grace_period"),
			InactivityTimeout:    viper.GetDuration("continuity.inactivity_timeout"),
			SessionSweepInterval: viper.GetDuration("continuity.session_sweep_interval"),
			InitialRetryInterval: viper.GetDuration("continuity.initial_retry_interval"),
			MaxRetryInterval:     viper.GetDuration("continuity.max_retry_interval"),
			MaxReconnectTimeout:  viper.GetDuration("continuity.max_reconnect_timeout"),
			MaxRetryAttempts:     viper.GetInt("continuity.max_retry_attempts"),
			RecoveryTailCount:    viper.GetInt("continuity.recovery_tail_count"),
		},
	}, nil
}
