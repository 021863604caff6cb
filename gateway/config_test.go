package gateway_test

import (
	"testing"
	"time"

	"github.com/c360/pjstream/config"
	pkgerrors "github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/gateway"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      gateway.Config
		expectError bool
	}{
		{
			name: "valid config with CORS",
			config: gateway.Config{
				Port:           8080,
				EnableCORS:     true,
				CORSOrigins:    []string{"https://example.com"},
				MaxRequestSize: 1024 * 1024,
			},
			expectError: false,
		},
		{
			name: "valid config without CORS",
			config: gateway.Config{
				Port:           8080,
				EnableCORS:     false,
				MaxRequestSize: 2048,
			},
			expectError: false,
		},
		{
			name:        "zero config takes defaults",
			config:      gateway.Config{},
			expectError: false,
		},
		{
			name: "CORS without origins",
			config: gateway.Config{
				EnableCORS: true,
			},
			expectError: true,
		},
		{
			name: "negative max request size",
			config: gateway.Config{
				MaxRequestSize: -1,
			},
			expectError: true,
		},
		{
			name: "max request size too large",
			config: gateway.Config{
				MaxRequestSize: 200 * 1024 * 1024, // 200MB
			},
			expectError: true,
		},
		{
			name: "port out of range",
			config: gateway.Config{
				Port: 70000,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error but got nil")
				}
				if !pkgerrors.IsInvalid(err) {
					t.Errorf("expected Invalid error classification, got: %v", err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				// Verify MaxRequestSize default was set
				if tt.config.MaxRequestSize == 0 {
					t.Errorf("expected default MaxRequestSize to be filled, got 0")
				}
			}
		})
	}
}

func TestConfig_ValidateFillsPacingBurst(t *testing.T) {
	cfg := gateway.Config{FramesPerSecond: 10}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Burst != 1 {
		t.Errorf("expected burst default 1 when pacing is on, got %d", cfg.Burst)
	}

	// Pacing off leaves burst alone
	cfg = gateway.Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Burst != 0 {
		t.Errorf("expected burst to stay 0 without pacing, got %d", cfg.Burst)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := gateway.DefaultConfig()

	if cfg.EnableCORS {
		t.Error("expected EnableCORS to be false by default (requires explicit configuration)")
	}

	if len(cfg.CORSOrigins) != 0 {
		t.Errorf("expected default CORS origins to be empty, got: %v", cfg.CORSOrigins)
	}

	if cfg.MaxRequestSize != 1024*1024 {
		t.Errorf("expected default MaxRequestSize to be 1MB, got: %d", cfg.MaxRequestSize)
	}

	if cfg.SSERetry != 5*time.Second {
		t.Errorf("expected default SSE retry of 5s, got: %v", cfg.SSERetry)
	}
}

func TestFromPlatform(t *testing.T) {
	platform := &config.Config{
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           8081,
			EnableCORS:     true,
			CORSOrigins:    []string{"*"},
			MaxRequestSize: 4096,
		},
		Streaming: config.StreamingConfig{
			Delivery: config.DeliveryConfig{
				FramesPerSecond: 25,
				Burst:           5,
			},
		},
	}

	cfg := gateway.FromPlatform(platform)

	if cfg.Host != "127.0.0.1" || cfg.Port != 8081 {
		t.Errorf("expected listen address from server config, got %s:%d", cfg.Host, cfg.Port)
	}
	if !cfg.EnableCORS || len(cfg.CORSOrigins) != 1 {
		t.Error("expected CORS settings from server config")
	}
	if cfg.MaxRequestSize != 4096 {
		t.Errorf("expected MaxRequestSize 4096, got %d", cfg.MaxRequestSize)
	}
	if cfg.FramesPerSecond != 25 || cfg.Burst != 5 {
		t.Errorf("expected delivery pacing from streaming config, got %f/%d",
			cfg.FramesPerSecond, cfg.Burst)
	}
}

func TestFromPlatform_Nil(t *testing.T) {
	cfg := gateway.FromPlatform(nil)

	if cfg.MaxRequestSize != gateway.DefaultMaxRequestSize {
		t.Errorf("expected defaults for nil platform config, got %d", cfg.MaxRequestSize)
	}
}
