package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/denwilliams/go-mqtt-homelink/pkg/mqtt"
	"github.com/denwilliams/go-mqtt-homelink/pkg/topics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	EnvUsername = "HOMELINK_MQTT_USERNAME"
	EnvPassword = "HOMELINK_MQTT_PASSWORD"

	defaultStatusPoll = "@every 30s"
)

type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	Web      WebConfig      `yaml:"web"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type MQTTConfig struct {
	ClientID       string           `yaml:"client_id"`
	Device         string           `yaml:"device"`
	Topics         []string         `yaml:"topics"`
	QoS            *int             `yaml:"qos"`
	ConnectTimeout time.Duration    `yaml:"connect_timeout"`
	KeepAlive      time.Duration    `yaml:"keep_alive"`
	PublishTimeout time.Duration    `yaml:"publish_timeout"`
	Reconnect      ReconnectConfig  `yaml:"reconnect"`
	StatusPoll     string           `yaml:"status_poll"`
	Endpoints      []EndpointConfig `yaml:"endpoints"`
}

type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// EndpointConfig is one broker candidate. The list order is the trial order.
type EndpointConfig struct {
	Name               string `yaml:"name"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Transport          string `yaml:"transport"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

type DatabaseConfig struct {
	Type       string `yaml:"type"`
	Connection string `yaml:"connection"`
}

type WebConfig struct {
	Port          int    `yaml:"port"`
	Bind          string `yaml:"bind"`
	RatePerMinute int    `yaml:"rate_per_minute"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

func Load(configPath string) (*Config, error) {
	// Set default config path if not provided
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML, applies defaults and environment overrides, then
// validates the result.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()
	config.applyEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) setDefaults() {
	// MQTT defaults
	if c.MQTT.Device == "" {
		c.MQTT.Device = "smartlight"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = fmt.Sprintf("%s-%s", c.MQTT.Device, uuid.NewString()[:8])
	}
	if c.MQTT.QoS == nil {
		qos := int(mqtt.DefaultQoS)
		c.MQTT.QoS = &qos
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = mqtt.DefaultConnectTimeout
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = mqtt.DefaultKeepAlive
	}
	if c.MQTT.PublishTimeout == 0 {
		c.MQTT.PublishTimeout = mqtt.DefaultPublishTimeout
	}
	if c.MQTT.Reconnect.InitialDelay == 0 {
		c.MQTT.Reconnect.InitialDelay = mqtt.DefaultReconnectInitialDelay
	}
	if c.MQTT.Reconnect.MaxDelay == 0 {
		c.MQTT.Reconnect.MaxDelay = mqtt.DefaultReconnectMaxDelay
	}
	if c.MQTT.StatusPoll == "" {
		c.MQTT.StatusPoll = defaultStatusPoll
	}
	for i := range c.MQTT.Endpoints {
		ep := &c.MQTT.Endpoints[i]
		if ep.Transport == "" {
			ep.Transport = string(mqtt.TransportPlaintext)
		}
		if ep.Port == 0 {
			ep.Port = 1883
			if ep.Transport == string(mqtt.TransportSecure) {
				ep.Port = 8883
			}
		}
		if ep.Name == "" {
			ep.Name = fmt.Sprintf("endpoint-%d", i+1)
		}
	}

	// Database defaults
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Connection == "" {
		// Use test database if running in test mode
		if isTestMode() {
			c.Database.Connection = "./test.db"
		} else {
			c.Database.Connection = "./homelink.db"
		}
	}

	// Web defaults
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.Bind == "" {
		c.Web.Bind = "0.0.0.0"
	}
	if c.Web.RatePerMinute == 0 {
		c.Web.RatePerMinute = 120
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// applyEnv fills credentials for endpoints that have none configured.
func (c *Config) applyEnv() {
	username := os.Getenv(EnvUsername)
	if username == "" {
		return
	}
	password := os.Getenv(EnvPassword)

	for i := range c.MQTT.Endpoints {
		ep := &c.MQTT.Endpoints[i]
		if ep.Username == "" {
			ep.Username = username
			ep.Password = password
		}
	}
}

func (c *Config) validate() error {
	if len(c.MQTT.Endpoints) == 0 {
		return mqtt.ErrNoCandidates
	}
	names := make(map[string]bool, len(c.MQTT.Endpoints))
	for _, ep := range c.Endpoints() {
		if err := ep.Validate(); err != nil {
			return err
		}
		if names[ep.Name] {
			return fmt.Errorf("%w: duplicate endpoint name %q", mqtt.ErrConfiguration, ep.Name)
		}
		names[ep.Name] = true
	}

	switch qos := *c.MQTT.QoS; qos {
	case 1, 2:
	case 0:
		return fmt.Errorf("%w: qos 0 is not supported, deliveries must be at least once", mqtt.ErrConfiguration)
	default:
		return fmt.Errorf("%w: invalid QoS %d", mqtt.ErrConfiguration, qos)
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect max_delay %s is shorter than initial_delay %s",
			c.MQTT.Reconnect.MaxDelay, c.MQTT.Reconnect.InitialDelay)
	}
	if _, err := c.Device(); err != nil {
		return err
	}

	// Validate database type
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	// Validate web port
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web port: %d", c.Web.Port)
	}
	if c.Web.RatePerMinute < 0 {
		return fmt.Errorf("invalid web rate_per_minute: %d", c.Web.RatePerMinute)
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}

func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Web.Bind, c.Web.Port)
}

// Device returns the topic set for the configured device.
func (c *Config) Device() (topics.Device, error) {
	return topics.NewDevice(c.MQTT.Device, c.MQTT.Topics...)
}

// StatusPollEnabled is false when status_poll is set to "off".
func (c *Config) StatusPollEnabled() bool {
	return !strings.EqualFold(c.MQTT.StatusPoll, "off")
}

// Endpoints converts the candidate list, preserving its order.
func (c *Config) Endpoints() []mqtt.Endpoint {
	eps := make([]mqtt.Endpoint, 0, len(c.MQTT.Endpoints))
	for _, ep := range c.MQTT.Endpoints {
		eps = append(eps, mqtt.Endpoint{
			Name:               ep.Name,
			Host:               ep.Host,
			Port:               ep.Port,
			Transport:          mqtt.Transport(ep.Transport),
			Username:           ep.Username,
			Password:           ep.Password,
			InsecureSkipVerify: ep.InsecureSkipVerify,
		})
	}
	return eps
}

// ClientOptions builds the options for mqtt.NewClient. recorder may be nil.
func (c *Config) ClientOptions(recorder mqtt.AttemptRecorder, logger *logrus.Logger) (mqtt.Options, error) {
	device, err := c.Device()
	if err != nil {
		return mqtt.Options{}, err
	}

	return mqtt.Options{
		Candidates:            c.Endpoints(),
		ClientID:              c.MQTT.ClientID,
		Topics:                device.Subscriptions(),
		QoS:                   byte(*c.MQTT.QoS),
		ConnectTimeout:        c.MQTT.ConnectTimeout,
		KeepAlive:             c.MQTT.KeepAlive,
		PublishTimeout:        c.MQTT.PublishTimeout,
		ReconnectInitialDelay: c.MQTT.Reconnect.InitialDelay,
		ReconnectMaxDelay:     c.MQTT.Reconnect.MaxDelay,
		Recorder:              recorder,
		Logger:                logger,
	}, nil
}

// isTestMode detects if we're running in test mode
func isTestMode() bool {
	// Check if the executable name contains ".test" (indicates test binary)
	if exe, err := os.Executable(); err == nil {
		return strings.Contains(exe, ".test")
	}

	// Check TEST environment variable
	return os.Getenv("TEST") == "1"
}
