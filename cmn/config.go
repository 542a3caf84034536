package cmn

import (
	"fmt"
	"time"
)

// Config is the configuration surface from spec §6, grouped into tagged
// sub-structs by concern.
type (
	Config struct {
		Conn        ConnConf        `json:"conn"`
		Flow        FlowConf        `json:"flow"`
		Compression CompressionConf `json:"compression"`
		Tracing     TracingConf     `json:"tracing"`
		Edge        EdgeConf        `json:"edge"`
	}

	ConnConf struct {
		URL              string   `json:"url"`
		SessionID        string   `json:"session_id"`
		APIToken         string   `json:"api_token,omitempty"`
		TenantID         string   `json:"tenant_id,omitempty"`
		Scopes           []string `json:"scopes,omitempty"`
		ReconnectInitial Duration `json:"reconnect_initial_ms"`
		ReconnectMax     Duration `json:"reconnect_max_ms"`
		ConnectTimeout   Duration `json:"connect_timeout_ms"`
		MaxReconnects    int      `json:"max_reconnects"`
	}

	FlowConf struct {
		AckCreditTarget uint32 `json:"ack_credit_target"`
		AckEvery        uint32 `json:"ack_every"`
	}

	CompressionConf struct {
		WSPermessageDeflate bool  `json:"ws_permessage_deflate"`
		PayloadCompression  bool  `json:"payload_compression"`
		Level               int   `json:"level"`
		ThresholdBytes      int64 `json:"threshold_bytes"`
		MaxPayloadBytes     int64 `json:"max_payload_bytes"`
	}

	TracingConf struct {
		Enabled            bool    `json:"enable_otel"`
		ExporterEndpoint   string  `json:"exporter_endpoint,omitempty"`
		SamplerProbability float64 `json:"sampler_probability"`
		ServiceName        string  `json:"service_name"`
	}

	EdgeConf struct {
		Mode             string           `json:"mode"` // local | edge-node | hybrid | cloud-only
		LatencyTargetsMs map[string]int64 `json:"latency_targets"`
		AvailableNodes   int              `json:"available_nodes"`
		AdaptiveRouting  bool             `json:"adaptive_routing"`
		CachingEnabled   bool             `json:"caching_enabled"`
		MaxConcurrent    int              `json:"max_concurrent"`
		Fallback         FallbackConf     `json:"fallback"`
	}

	FallbackConf struct {
		Enabled  bool         `json:"enabled"`
		Timeout  Duration     `json:"timeout"`
		Order    []string     `json:"order"`
		Retry    RetryConf    `json:"retry"`
	}

	RetryConf struct {
		MaxRetries        int      `json:"max_retries"`
		RetryDelay        Duration `json:"retry_delay"`
		ExponentialBackoff bool    `json:"exponential_backoff"`
	}

	// Duration round-trips through JSON as a millisecond integer.
	Duration time.Duration
)

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%d", time.Duration(d).Milliseconds())), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var ms int64
	if _, err := fmt.Sscanf(string(b), "%d", &ms); err != nil {
		return err
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// DefaultConfig returns a Config with every default named in spec §4 and §6.
func DefaultConfig() *Config {
	return &Config{
		Conn: ConnConf{
			ReconnectInitial: Duration(1000 * time.Millisecond),
			ReconnectMax:     Duration(10000 * time.Millisecond),
			ConnectTimeout:   Duration(10 * time.Second),
			MaxReconnects:    10,
		},
		Flow: FlowConf{
			AckCreditTarget: 16,
			AckEvery:        5,
		},
		Compression: CompressionConf{
			PayloadCompression: true,
			Level:              6,
			ThresholdBytes:     1024,
			MaxPayloadBytes:    8 << 20,
		},
		Tracing: TracingConf{
			Enabled:            false,
			SamplerProbability: 1.0,
			ServiceName:        "kei-stream-client",
		},
		Edge: EdgeConf{
			Mode:            "edge-node",
			AdaptiveRouting: true,
			CachingEnabled:  true,
			MaxConcurrent:   10,
			Fallback: FallbackConf{
				Enabled: true,
				Timeout: Duration(5 * time.Second),
				Order:   []string{"edge-node", "local"},
				Retry: RetryConf{
					MaxRetries:         3,
					RetryDelay:         Duration(200 * time.Millisecond),
					ExponentialBackoff: true,
				},
			},
		},
	}
}

// Validate rejects contradictory configuration eagerly, failing fast on
// invariant violations (SPEC_FULL §4.5) rather than at first use.
func (c *Config) Validate() error {
	if c.Conn.URL == "" {
		return fmt.Errorf("conn.url is required")
	}
	if c.Conn.SessionID == "" {
		return fmt.Errorf("conn.session_id is required")
	}
	if c.Flow.AckEvery == 0 {
		return fmt.Errorf("flow.ack_every must be > 0")
	}
	if c.Compression.ThresholdBytes > c.Compression.MaxPayloadBytes && c.Compression.MaxPayloadBytes > 0 {
		return fmt.Errorf("compression.threshold_bytes (%d) exceeds max_payload_bytes (%d)",
			c.Compression.ThresholdBytes, c.Compression.MaxPayloadBytes)
	}
	if c.Compression.Level < 1 || c.Compression.Level > 9 {
		return fmt.Errorf("compression.level must be in 1..9, got %d", c.Compression.Level)
	}
	return nil
}
