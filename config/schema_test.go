// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateWithSchema_ValidConfig(t *testing.T) {
	validConfig := `
api:
  base_url: http://localhost:5000
  live_base_url: http://localhost:4000
  timeout: 10s
  discovery:
    enabled: false
    service_type: _plantapi._tcp
  circuit_breaker:
    enabled: true
    failure_threshold: 5
    open_timeout: 30s
feed:
  buffer_size: 60
  idle_timeout: 0
  alert_after: 3
  reconnect:
    policy: exponential
    initial_delay: 1s
    max_delay: 30s
    multiplier: 2
sensors:
  - id: S1
    mode: live
  - id: S2
    mode: 10
history:
  source: influxdb
  measurement: sensor_data
influxdb:
  url: http://localhost:8086
  token: test-token-12345
  organization: plant
  bucket: sensors
server:
  listen: ":9090"
  rate_limit: 10
  rate_burst: 20
logging:
  level: info
  format: json
notifications:
  slack_webhook_url: https://hooks.slack.com/services/TEST/WEBHOOK/URL
`

	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(validConfig), 0600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	if err := ValidateWithSchema(tmpFile); err != nil {
		t.Errorf("ValidateWithSchema() with valid config failed: %v", err)
	}
}

func TestValidateWithSchema_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		config   string
		wantText string
	}{
		{
			name:     "unknown top-level key",
			config:   "cache:\n  directory: ./cache\n",
			wantText: "cache",
		},
		{
			name:     "sensor without id",
			config:   "sensors:\n  - mode: live\n",
			wantText: "id",
		},
		{
			name:     "bad reconnect policy",
			config:   "feed:\n  reconnect:\n    policy: sometimes\n",
			wantText: "policy",
		},
		{
			name:     "duration without unit",
			config:   "api:\n  timeout: ten\n",
			wantText: "timeout",
		},
		{
			name:     "buffer size zero",
			config:   "feed:\n  buffer_size: 0\n",
			wantText: "buffer_size",
		},
		{
			name:     "bad log format",
			config:   "logging:\n  format: xml\n",
			wantText: "format",
		},
		{
			name:     "non-http base url",
			config:   "api:\n  base_url: ftp://plant\n",
			wantText: "base_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDocument([]byte(tt.config))
			if err == nil {
				t.Fatal("validateDocument() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("error %q does not mention %q", err, tt.wantText)
			}
		})
	}
}

func TestValidateWithSchema_EmptyFile(t *testing.T) {
	if err := validateDocument(nil); err != nil {
		t.Errorf("empty config should satisfy the schema: %v", err)
	}
}

func TestValidateWithSchema_MissingFile(t *testing.T) {
	if err := ValidateWithSchema(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("ValidateWithSchema() on missing file should fail")
	}
}

func TestValidateWithSchema_MalformedYAML(t *testing.T) {
	if err := validateDocument([]byte("api: [oops")); err == nil {
		t.Error("validateDocument() should reject malformed YAML")
	}
}

func TestGetSchemaJSON(t *testing.T) {
	var schema map[string]any
	if err := json.Unmarshal([]byte(GetSchemaJSON()), &schema); err != nil {
		t.Fatalf("embedded schema is not valid JSON: %v", err)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatal("schema has no properties")
	}
	for _, key := range []string{"api", "feed", "sensors", "history", "influxdb", "server", "logging", "notifications"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema missing %q", key)
		}
	}
}

func TestGetSchemaJSON_DocumentsRestartOnlySections(t *testing.T) {
	var schema struct {
		Properties map[string]struct {
			Description string `json:"description"`
		} `json:"properties"`
	}
	if err := json.Unmarshal([]byte(GetSchemaJSON()), &schema); err != nil {
		t.Fatalf("embedded schema is not valid JSON: %v", err)
	}
	for _, key := range []string{"api", "feed", "history", "influxdb", "server"} {
		if !strings.Contains(schema.Properties[key].Description, "restart") {
			t.Errorf("schema %q description does not say it needs a restart: %q", key, schema.Properties[key].Description)
		}
	}
	for _, key := range []string{"sensors", "notifications"} {
		if strings.Contains(schema.Properties[key].Description, "restart") {
			t.Errorf("schema %q is applied on reload but says restart: %q", key, schema.Properties[key].Description)
		}
	}
}

func TestExampleConfig(t *testing.T) {
	path := filepath.Join("..", "config.example.yaml")
	if err := ValidateWithSchema(path); err != nil {
		t.Fatalf("ValidateWithSchema(%s) error = %v", path, err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%s) error = %v", path, err)
	}
	if len(cfg.Sensors) != 2 {
		t.Errorf("example config has %d sensors, want 2", len(cfg.Sensors))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	if !strings.Contains(string(data), "restart the client to apply them") {
		t.Error("example config does not document restart-only settings")
	}
}
