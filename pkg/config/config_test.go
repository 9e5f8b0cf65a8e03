package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/denwilliams/go-mqtt-homelink/pkg/mqtt"
)

const sampleConfig = `
mqtt:
  device: smartlight
  connect_timeout: 10s
  reconnect:
    initial_delay: 2s
    max_delay: 1m
  endpoints:
    - name: local
      host: 192.168.1.100
    - name: basic
      host: 192.168.1.100
      port: 1884
      username: homelink
      password: secret
    - name: tls
      host: 192.168.1.100
      transport: secure
      username: homelink
      password: secret
web:
  port: 9090
logging:
  level: debug
  format: json
`

func TestIsTestMode(t *testing.T) {
	// Should detect test mode when running with go test
	if !isTestMode() {
		t.Error("isTestMode() should return true when running tests")
	}
}

func TestTestModeWithEnvVar(t *testing.T) {
	t.Setenv("TEST", "1")

	if !isTestMode() {
		t.Error("isTestMode() should return true when TEST=1")
	}
}

func TestDefaultDatabasePath(t *testing.T) {
	config := &Config{}
	config.setDefaults()

	// Should use test.db when in test mode
	expectedPath := "./test.db"
	if config.Database.Connection != expectedPath {
		t.Errorf("Expected database connection %s, got %s", expectedPath, config.Database.Connection)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if !strings.HasPrefix(cfg.MQTT.ClientID, "smartlight-") || len(cfg.MQTT.ClientID) != len("smartlight-")+8 {
		t.Errorf("generated client id = %q", cfg.MQTT.ClientID)
	}
	if cfg.MQTT.ConnectTimeout != 10*time.Second {
		t.Errorf("connect_timeout = %v", cfg.MQTT.ConnectTimeout)
	}
	if cfg.MQTT.KeepAlive != mqtt.DefaultKeepAlive || cfg.MQTT.PublishTimeout != mqtt.DefaultPublishTimeout {
		t.Errorf("keep_alive=%v publish_timeout=%v", cfg.MQTT.KeepAlive, cfg.MQTT.PublishTimeout)
	}
	if *cfg.MQTT.QoS != 1 || !cfg.StatusPollEnabled() || cfg.MQTT.StatusPoll != "@every 30s" {
		t.Errorf("qos=%d status_poll=%q", *cfg.MQTT.QoS, cfg.MQTT.StatusPoll)
	}
	if cfg.GetAddress() != "0.0.0.0:9090" {
		t.Errorf("GetAddress() = %q", cfg.GetAddress())
	}

	eps := cfg.Endpoints()
	if len(eps) != 3 {
		t.Fatalf("Endpoints() = %v", eps)
	}
	if eps[0].Port != 1883 || eps[0].Transport != mqtt.TransportPlaintext {
		t.Errorf("local endpoint = %+v", eps[0])
	}
	if eps[2].Port != 8883 || eps[2].URL() != "ssl://192.168.1.100:8883" {
		t.Errorf("tls endpoint = %+v", eps[2])
	}
}

func TestGeneratedClientIDsDiffer(t *testing.T) {
	a, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	b, _ := Parse([]byte(sampleConfig))
	if a.MQTT.ClientID == b.MQTT.ClientID {
		t.Errorf("two processes would share client id %q", a.MQTT.ClientID)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "no endpoints",
			yaml:    "mqtt:\n  device: smartlight\n",
			wantErr: mqtt.ErrNoCandidates,
		},
		{
			name:    "missing host",
			yaml:    "mqtt:\n  endpoints:\n    - name: a\n",
			wantErr: mqtt.ErrConfiguration,
		},
		{
			name:    "unknown transport",
			yaml:    "mqtt:\n  endpoints:\n    - {name: a, host: h, transport: quic}\n",
			wantErr: mqtt.ErrConfiguration,
		},
		{
			name:    "duplicate names",
			yaml:    "mqtt:\n  endpoints:\n    - {name: a, host: h}\n    - {name: a, host: h, port: 1884}\n",
			wantErr: mqtt.ErrConfiguration,
		},
		{
			name:    "bad qos",
			yaml:    "mqtt:\n  qos: 3\n  endpoints:\n    - {name: a, host: h}\n",
			wantErr: mqtt.ErrConfiguration,
		},
		{
			name:    "explicit qos zero",
			yaml:    "mqtt:\n  qos: 0\n  endpoints:\n    - {name: a, host: h}\n",
			wantErr: mqtt.ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	others := map[string]string{
		"unknown device": "mqtt:\n  device: toaster\n  endpoints:\n    - {name: a, host: h}\n",
		"database":       "mqtt:\n  endpoints:\n    - {name: a, host: h}\ndatabase:\n  type: mysql\n",
		"log level":      "mqtt:\n  endpoints:\n    - {name: a, host: h}\nlogging:\n  level: verbose\n",
		"backoff":        "mqtt:\n  reconnect: {initial_delay: 1m, max_delay: 1s}\n  endpoints:\n    - {name: a, host: h}\n",
	}
	for name, yaml := range others {
		if _, err := Parse([]byte(yaml)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestEnvCredentialsFillAnonymousEndpoints(t *testing.T) {
	t.Setenv(EnvUsername, "env-user")
	t.Setenv(EnvPassword, "env-pass")

	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	eps := cfg.Endpoints()
	if eps[0].Username != "env-user" || eps[0].Password != "env-pass" {
		t.Errorf("local endpoint credentials = %q/%q", eps[0].Username, eps[0].Password)
	}
	if eps[1].Username != "homelink" {
		t.Errorf("configured credentials were overridden: %q", eps[1].Username)
	}
}

func TestClientOptions(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	opts, err := cfg.ClientOptions(nil, nil)
	if err != nil {
		t.Fatalf("ClientOptions() error = %v", err)
	}
	if len(opts.Topics) != 6 || opts.Topics[0] != "home/smartlight/state" {
		t.Errorf("Topics = %v", opts.Topics)
	}
	if opts.ReconnectInitialDelay != 2*time.Second || opts.ReconnectMaxDelay != time.Minute {
		t.Errorf("reconnect delays = %v/%v", opts.ReconnectInitialDelay, opts.ReconnectMaxDelay)
	}
	if _, err := mqtt.NewClient(opts); err != nil {
		t.Errorf("NewClient() rejected generated options: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging format = %q", cfg.Logging.Format)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}
