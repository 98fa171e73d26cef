package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SkillConfig drives the cloud side. It is read from the environment, with
// an optional .env file in the working directory.
type SkillConfig struct {
	ListenAddr     string
	AuthToken      string
	Bus            BrokerConfig
	PublishTimeout time.Duration
	Endpoint       EndpointConfig
	Log            LogConfig
}

// EndpointConfig is the device identity announced on discovery.
type EndpointConfig struct {
	ID               string
	FriendlyName     string
	ManufacturerName string
	Description      string
}

func LoadSkillConfig() (*SkillConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("BUS_DRIVER", "mqtt")
	v.SetDefault("BUS_URL", "tcp://localhost:1883")
	v.SetDefault("BUS_CLIENT_ID", "tvbridge-skill")
	v.SetDefault("BUS_TOPIC", "vova/alexa/tv")
	v.SetDefault("BUS_QOS", 1)
	v.SetDefault("BUS_CONNECT_TIMEOUT", "10s")
	v.SetDefault("PUBLISH_TIMEOUT", "5s")
	v.SetDefault("ENDPOINT_ID", "tvcontrollerid")
	v.SetDefault("FRIENDLY_NAME", "TV")
	v.SetDefault("MANUFACTURER_NAME", "Vova Company")
	v.SetDefault("DESCRIPTION", "Living room TV")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	cfg := &SkillConfig{
		ListenAddr: v.GetString("LISTEN_ADDR"),
		AuthToken:  v.GetString("AUTH_TOKEN"),
		Bus: BrokerConfig{
			Driver:           v.GetString("BUS_DRIVER"),
			URL:              v.GetString("BUS_URL"),
			ClientID:         v.GetString("BUS_CLIENT_ID"),
			Topic:            v.GetString("BUS_TOPIC"),
			QoS:              v.GetInt("BUS_QOS"),
			RootCA:           v.GetString("BUS_ROOT_CA"),
			Cert:             v.GetString("BUS_CERT"),
			PrivateKey:       v.GetString("BUS_PRIVATE_KEY"),
			ConnectTimeoutMs: int(v.GetDuration("BUS_CONNECT_TIMEOUT").Milliseconds()),
		},
		PublishTimeout: v.GetDuration("PUBLISH_TIMEOUT"),
		Endpoint: EndpointConfig{
			ID:               v.GetString("ENDPOINT_ID"),
			FriendlyName:     v.GetString("FRIENDLY_NAME"),
			ManufacturerName: v.GetString("MANUFACTURER_NAME"),
			Description:      v.GetString("DESCRIPTION"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
			File:   v.GetString("LOG_FILE"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *SkillConfig) Validate() error {
	var errs multiErr
	if c.ListenAddr == "" {
		errs.add("LISTEN_ADDR is required")
	}
	c.Bus.validate(&errs, "bus")
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.Endpoint.ID == "" {
		errs.add("ENDPOINT_ID is required")
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
