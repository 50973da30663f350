// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build integration
// +build integration

package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/soothill/plant-feed/app"
	"github.com/soothill/plant-feed/config"
)

const listenAddr = "127.0.0.1:19091"

type AppIntegrationTestSuite struct {
	suite.Suite
	influxDBContainer testcontainers.Container
	influxDBURL       string
	plantAPI          *httptest.Server
}

func TestAppIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(AppIntegrationTestSuite))
}

func (s *AppIntegrationTestSuite) SetupSuite() {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "testuser",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "testpassword",
			"DOCKER_INFLUXDB_INIT_ORG":         "testorg",
			"DOCKER_INFLUXDB_INIT_BUCKET":      "testbucket",
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": "testtoken",
		},
		WaitingFor: wait.ForHTTP("/ping").WithPort("8086"),
	}
	influxDBContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	s.Require().NoError(err)
	s.influxDBContainer = influxDBContainer

	ip, err := influxDBContainer.Host(ctx)
	s.Require().NoError(err)
	port, err := influxDBContainer.MappedPort(ctx, "8086")
	s.Require().NoError(err)
	s.influxDBURL = "http://" + ip + ":" + port.Port()

	// The plant API only needs to exist; history comes from InfluxDB
	s.plantAPI = httptest.NewServer(http.NotFoundHandler())
}

func (s *AppIntegrationTestSuite) TearDownSuite() {
	if s.plantAPI != nil {
		s.plantAPI.Close()
	}
	if s.influxDBContainer != nil {
		s.Require().NoError(s.influxDBContainer.Terminate(context.Background()))
	}
}

func (s *AppIntegrationTestSuite) seed(sensorID string, values ...float64) {
	client := influxdb2.NewClient(s.influxDBURL, "testtoken")
	defer client.Close()

	writeAPI := client.WriteAPIBlocking("testorg", "testbucket")
	now := time.Now()
	for i, v := range values {
		p := influxdb2.NewPoint("sensor_data",
			map[string]string{"sensor_id": sensorID},
			map[string]interface{}{"value": v},
			now.Add(-time.Duration(len(values)-i)*time.Minute))
		s.Require().NoError(writeAPI.WritePoint(context.Background(), p))
	}
}

func (s *AppIntegrationTestSuite) TestAppLifecycle() {
	s.seed("S1", 10, 20, 30)

	configPath := filepath.Join(s.T().TempDir(), "config.yaml")
	configContent := `
api:
  base_url: %s
history:
  source: influxdb
influxdb:
  url: %s
  token: testtoken
  organization: testorg
  bucket: testbucket
server:
  listen: %s
sensors:
  - id: S1
    mode: "10"
`
	s.Require().NoError(os.WriteFile(configPath,
		[]byte(fmt.Sprintf(configContent, s.plantAPI.URL, s.influxDBURL, listenAddr)), 0o600))

	cfg, err := config.Load(configPath)
	s.Require().NoError(err)

	application, err := app.New(context.Background(), cfg, app.Options{ConfigPath: configPath})
	s.Require().NoError(err)

	done := make(chan struct{})
	go func() {
		_ = application.Run(context.Background())
		close(done)
	}()

	// The configured sensor is answered from InfluxDB
	s.Eventually(func() bool {
		resp, err := http.Get("http://" + listenAddr + "/feeds/S1")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var st struct {
			Status string            `json:"status"`
			Series []json.RawMessage `json:"series"`
		}
		if json.NewDecoder(resp.Body).Decode(&st) != nil {
			return false
		}
		return st.Status == "open" && len(st.Series) == 3
	}, 10*time.Second, 100*time.Millisecond)

	resp, err := http.Get("http://" + listenAddr + "/ready")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	// Send shutdown signal
	p, err := os.FindProcess(os.Getpid())
	s.Require().NoError(err)
	s.Require().NoError(p.Signal(os.Interrupt))

	// Wait for the app to shut down
	select {
	case <-done:
		// App shut down gracefully
	case <-time.After(5 * time.Second):
		s.T().Fatal("App did not shut down gracefully")
	}
}
