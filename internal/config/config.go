/*
 * Part of the OpenLI collector.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

// Package config loads and validates the YAML configuration for each of
// the three OpenLI processes (collector, mediator, provisioner).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// InputConfig describes one capture source feeding the collector. URI
// takes the form "pcap:<interface>" for a live capture or "pcap://<path>"
// to replay a capture file; Threads is accepted for forward
// compatibility with multi-threaded fanout capture but the current
// implementation always runs one reader per input.
type InputConfig struct {
	URI     string `yaml:"uri"`
	Threads int    `yaml:"threads"`
}

// WatchConfig statically binds one intercepted flow to a LIID. The
// provisioner's dynamic intercept push is an external collaborator per
// scope; until that control channel is implemented, watches loaded here
// give the collector something concrete to intercept.
type WatchConfig struct {
	LIID       string `yaml:"liid"`
	AuthCC     string `yaml:"authcc"`
	DelivCC    string `yaml:"delivcc"`
	CIN        uint32 `yaml:"cin"`
	DestID     uint32 `yaml:"destid"`
	Protocol   string `yaml:"protocol"` // "imap" or "sip"
	ClientIP   string `yaml:"client_ip"`
	ClientPort uint16 `yaml:"client_port"`
	ServerIP   string `yaml:"server_ip"`
	ServerPort uint16 `yaml:"server_port"`
}

// LoggingConfig is embedded in every process config.
type LoggingConfig struct {
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// CollectorConfig is the root config object for cmd/openli-collector.
type CollectorConfig struct {
	OperatorID       string        `yaml:"operatorid"`
	NetworkElemID    string        `yaml:"networkelemid"`
	InterceptPointID string        `yaml:"interceptpointid"`
	ProvisionerIP    string        `yaml:"provisionerip"`
	ProvisionerPort  string        `yaml:"provisionerport"`
	Inputs           []InputConfig `yaml:"inputs"`
	Watches          []WatchConfig `yaml:"watches"`
	Logging          LoggingConfig `yaml:"logging"`

	// ExporterQueueSize bounds the channel standing in for the PULL-style
	// inbound queue described by the core spec; capture workers block on
	// send once it fills, applying natural back-pressure.
	ExporterQueueSize int `yaml:"exporter_queue_size"`

	// MaxUnannouncedBufferBytes caps how many bytes each mediator's
	// in-memory export buffer (announced or not) may hold; past it, oldest
	// whole records are spilled to disk when a spill path is configured,
	// otherwise dropped.
	MaxUnannouncedBufferBytes int64 `yaml:"max_unannounced_buffer_bytes"`

	MetricsListen string `yaml:"metrics_listen"`
}

// MediatorConfig is the root config object for cmd/openli-mediator.
type MediatorConfig struct {
	CollectorListen string        `yaml:"collector_listen"`
	AgencyListen    string        `yaml:"agency_listen"`
	TLSCertFile     string        `yaml:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file"`
	Logging         LoggingConfig `yaml:"logging"`
	MetricsListen   string        `yaml:"metrics_listen"`
}

// AgencyEntry binds an agency to a mediator. The LIIDs an agency receives
// are named on the intercepts themselves, via InterceptEntry.AgencyID.
type AgencyEntry struct {
	AgencyID string `yaml:"agencyid"`
	Mediator uint32 `yaml:"mediator"`
}

// InterceptEntry is the provisioner-side definition of a single warrant.
type InterceptEntry struct {
	LIID     string `yaml:"liid"`
	AuthCC   string `yaml:"authcc"`
	DelivCC  string `yaml:"delivcc"`
	User     string `yaml:"user"`
	Mediator uint32 `yaml:"mediator"`
	AgencyID string `yaml:"agencyid"`
}

// ProvisionerConfig is the root config object for cmd/openli-provisioner.
type ProvisionerConfig struct {
	ClientListen string           `yaml:"client_listen"`
	TLSCertFile  string           `yaml:"tls_cert_file"`
	TLSKeyFile   string           `yaml:"tls_key_file"`
	Intercepts   []InterceptEntry `yaml:"intercepts"`
	Agencies     []AgencyEntry    `yaml:"agencies"`
	Logging      LoggingConfig    `yaml:"logging"`
	MetricsListen string          `yaml:"metrics_listen"`
}

func LoadCollector(path string) (*CollectorConfig, error) {
	cfg := &CollectorConfig{
		ExporterQueueSize:         4096,
		MaxUnannouncedBufferBytes: 64 * 1024 * 1024,
		Logging:                   LoggingConfig{LogLevel: "INFO"},
		MetricsListen:             ":9400",
	}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	overlayEnv(&cfg.ProvisionerIP, "OPENLI_PROVISIONER_IP")
	overlayEnv(&cfg.ProvisionerPort, "OPENLI_PROVISIONER_PORT")
	overlayEnvInt64(&cfg.MaxUnannouncedBufferBytes, "OPENLI_MAX_UNANNOUNCED_BUFFER_BYTES")
	return cfg, nil
}

func LoadMediator(path string) (*MediatorConfig, error) {
	cfg := &MediatorConfig{
		Logging:       LoggingConfig{LogLevel: "INFO"},
		MetricsListen: ":9401",
	}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	if cfg.CollectorListen == "" {
		return nil, fmt.Errorf("mediator config: collector_listen is required")
	}
	if cfg.AgencyListen == "" {
		return nil, fmt.Errorf("mediator config: agency_listen is required")
	}
	overlayEnv(&cfg.TLSKeyFile, "OPENLI_MEDIATOR_TLS_KEY")
	return cfg, nil
}

func LoadProvisioner(path string) (*ProvisionerConfig, error) {
	cfg := &ProvisionerConfig{
		Logging:       LoggingConfig{LogLevel: "INFO"},
		MetricsListen: ":9402",
	}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	if cfg.ClientListen == "" {
		return nil, fmt.Errorf("provisioner config: client_listen is required")
	}
	overlayEnv(&cfg.TLSKeyFile, "OPENLI_PROVISIONER_TLS_KEY")
	return cfg, nil
}

func load(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// Verify checks the required keys called out by the external interface
// contract: operatorid/networkelemid/interceptpointid are length-bounded
// identifiers embedded in every PS-PDU header this collector emits.
func (c *CollectorConfig) Verify() error {
	if len(c.OperatorID) == 0 || len(c.OperatorID) > 16 {
		return fmt.Errorf("operatorid must be 1-16 bytes, got %d", len(c.OperatorID))
	}
	if len(c.NetworkElemID) == 0 || len(c.NetworkElemID) > 16 {
		return fmt.Errorf("networkelemid must be 1-16 bytes, got %d", len(c.NetworkElemID))
	}
	if len(c.InterceptPointID) == 0 || len(c.InterceptPointID) > 8 {
		return fmt.Errorf("interceptpointid must be 1-8 bytes, got %d", len(c.InterceptPointID))
	}
	if c.ProvisionerIP == "" {
		return fmt.Errorf("provisionerip is required")
	}
	if c.ProvisionerPort == "" {
		return fmt.Errorf("provisionerport is required")
	}
	for i, in := range c.Inputs {
		if in.URI == "" {
			return fmt.Errorf("inputs[%d]: uri is required", i)
		}
		if in.Threads <= 0 {
			return fmt.Errorf("inputs[%d]: threads must be positive", i)
		}
	}
	for i, w := range c.Watches {
		if w.LIID == "" {
			return fmt.Errorf("watches[%d]: liid is required", i)
		}
		if w.ServerIP == "" || w.ServerPort == 0 {
			return fmt.Errorf("watches[%d]: server_ip/server_port are required", i)
		}
		if !strings.EqualFold(w.Protocol, "imap") && !strings.EqualFold(w.Protocol, "sip") {
			return fmt.Errorf("watches[%d]: protocol must be \"imap\" or \"sip\", got %q", i, w.Protocol)
		}
	}
	return nil
}

// overlayEnv replaces *dst with the named environment variable's value when
// set, mirroring the donor config loader's practice of letting deployment
// secrets override file contents without being written to disk.
func overlayEnv(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

// overlayEnvInt64 is the numeric counterpart of overlayEnv; a value that
// does not parse as an integer leaves *dst unchanged.
func overlayEnvInt64(dst *int64, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*dst = n
		}
	}
}
