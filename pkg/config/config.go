package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/canopy-network/relayx/pkg/utils"
	"gopkg.in/yaml.v3"
)

// Defaults for the reliability core. Each one can be overridden via
// environment variables, see Load.
const (
	DefaultFailureThreshold = 3
	DefaultHealthInterval   = 60 * time.Second
	DefaultHealthTimeout    = 5 * time.Second
	DefaultConfirmTimeout   = 5 * time.Second
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultBufferCapacity   = 100
	DefaultSnapshotSize     = 50
)

// EndpointConfig describes one candidate ledger node.
type EndpointConfig struct {
	Name         string `yaml:"name" json:"name"`
	URL          string `yaml:"url" json:"url"`
	StreamingURL string `yaml:"streamingUrl,omitempty" json:"streamingUrl,omitempty"`
	Priority     int    `yaml:"priority" json:"priority"`
}

// Config is the full configuration surface of the relay.
type Config struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`

	FailureThreshold int           `yaml:"failureThreshold"`
	HealthInterval   time.Duration `yaml:"healthInterval"`
	HealthTimeout    time.Duration `yaml:"healthTimeout"`
	ConfirmTimeout   time.Duration `yaml:"confirmTimeout"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	BufferCapacity   int           `yaml:"bufferCapacity"`
	SnapshotSize     int           `yaml:"snapshotSize"`

	// HealthCron drives the periodic endpoint sweep. Seconds field included.
	HealthCron string `yaml:"healthCron"`

	// ListenAddr is the bind address of the operator HTTP server.
	ListenAddr string `yaml:"listenAddr"`
}

// Load builds a Config from the environment. Endpoints come from the YAML
// file referenced by RELAYX_ENDPOINTS_FILE, or from RELAYX_ENDPOINTS
// ("name=url[ name=url...]") when no file is configured.
func Load() (*Config, error) {
	cfg := &Config{
		FailureThreshold: utils.EnvInt("RELAYX_FAILURE_THRESHOLD", DefaultFailureThreshold),
		HealthInterval:   utils.EnvDuration("RELAYX_HEALTH_INTERVAL", DefaultHealthInterval),
		HealthTimeout:    utils.EnvDuration("RELAYX_HEALTH_TIMEOUT", DefaultHealthTimeout),
		ConfirmTimeout:   utils.EnvDuration("RELAYX_CONFIRM_TIMEOUT", DefaultConfirmTimeout),
		PollInterval:     utils.EnvDuration("RELAYX_POLL_INTERVAL", DefaultPollInterval),
		BufferCapacity:   utils.EnvInt("RELAYX_BUFFER_CAPACITY", DefaultBufferCapacity),
		SnapshotSize:     utils.EnvInt("RELAYX_SNAPSHOT_SIZE", DefaultSnapshotSize),
		HealthCron:       utils.Env("RELAYX_HEALTH_CRON", "0 * * * * *"),
		ListenAddr:       utils.Env("ADDR", ":3004"),
	}

	if file := utils.Env("RELAYX_ENDPOINTS_FILE", ""); file != "" {
		eps, err := LoadEndpointsFile(file)
		if err != nil {
			return nil, err
		}
		cfg.Endpoints = eps
	} else if raw := utils.Env("RELAYX_ENDPOINTS", ""); raw != "" {
		cfg.Endpoints = parseEndpointsEnv(raw)
	}

	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured: set RELAYX_ENDPOINTS_FILE or RELAYX_ENDPOINTS")
	}

	sortEndpoints(cfg.Endpoints)
	return cfg, nil
}

// LoadEndpointsFile reads a YAML endpoint list:
//
//	endpoints:
//	  - name: primary
//	    url: http://node-0:50002
//	    streamingUrl: ws://node-0:50003/v1/subscribe
//	    priority: 1
func LoadEndpointsFile(path string) ([]EndpointConfig, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}
	var doc struct {
		Endpoints []EndpointConfig `yaml:"endpoints"`
	}
	if err := yaml.Unmarshal(bz, &doc); err != nil {
		return nil, fmt.Errorf("parse endpoints file: %w", err)
	}
	eps := normalize(doc.Endpoints)
	if len(eps) == 0 {
		return nil, fmt.Errorf("endpoints file %s contains no endpoints", path)
	}
	return eps, nil
}

// parseEndpointsEnv parses a space-separated "name=url" list. Priority follows
// list order; no streaming URLs are available through this form.
func parseEndpointsEnv(raw string) []EndpointConfig {
	var eps []EndpointConfig
	for i, tok := range strings.Fields(raw) {
		name, url, ok := strings.Cut(tok, "=")
		if !ok {
			name, url = fmt.Sprintf("endpoint-%d", i+1), tok
		}
		eps = append(eps, EndpointConfig{Name: name, URL: url, Priority: i + 1})
	}
	return normalize(eps)
}

func normalize(in []EndpointConfig) []EndpointConfig {
	seen := map[string]bool{}
	out := make([]EndpointConfig, 0, len(in))
	for i, ep := range in {
		ep.URL = strings.TrimRight(ep.URL, "/")
		if ep.URL == "" || seen[ep.URL] {
			continue
		}
		seen[ep.URL] = true
		if ep.Name == "" {
			ep.Name = fmt.Sprintf("endpoint-%d", i+1)
		}
		if ep.Priority == 0 {
			ep.Priority = i + 1
		}
		out = append(out, ep)
	}
	return out
}

func sortEndpoints(eps []EndpointConfig) {
	sort.SliceStable(eps, func(i, j int) bool { return eps[i].Priority < eps[j].Priority })
}
