// Package config defines the core's configuration shape (spec.md §6) and a
// YAML-backed Loader with hot-reload support.
package config

import (
	"time"

	"github.com/agentwarden/agentcore/internal/a2a"
)

// Config is the top-level configuration for one agentcore process.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`

	Policy     PolicyEngineConfig    `yaml:"policy"`
	Decay      CapabilityDecayConfig `yaml:"capability_decay"`
	KillSwitch KillSwitchConfig      `yaml:"kill_switch"`
	Token      TokenConfig           `yaml:"token"`
	A2A        A2AConfig             `yaml:"a2a"`
	Integrity  IntegrityConfig       `yaml:"integrity"`

	Alerts AlertsConfig `yaml:"alerts"`
}

// ServerConfig is the ambient HTTP management-API surface.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	CORS     bool   `yaml:"cors"`
	FailMode string `yaml:"fail_mode"` // "closed" = deny on error, "open" = allow on error
}

// StorageConfig configures the Event Store backing implementation.
type StorageConfig struct {
	Driver    string        `yaml:"driver"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// AuthConfig configures the management API's bearer-token scheme.
type AuthConfig struct {
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// CustomCheckConfig names one CEL-backed custom check registered with the
// Policy Engine.
type CustomCheckConfig struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Reason     string `yaml:"reason"`
}

// PolicyEngineConfig configures the Policy Engine (spec.md §6).
type PolicyEngineConfig struct {
	DryRun       bool                `yaml:"dry_run"`
	CustomChecks []CustomCheckConfig `yaml:"custom_checks"`
}

// CapabilityDecayConfig configures the Capability Decay Manager (spec.md §6).
type CapabilityDecayConfig struct {
	DefaultMode       string   `yaml:"default_mode"` // decay | explicit | inherit
	CostDecayFactor   float64  `yaml:"cost_decay_factor"`
	GlobalDenyTools   []string `yaml:"global_deny_tools"`
	GlobalDenyDomains []string `yaml:"global_deny_domains"`
	MinChildTools     []string `yaml:"min_child_tools"`
}

// KillSwitchConfig configures the Kill Switch (spec.md §6).
type KillSwitchConfig struct {
	RequireSignature bool   `yaml:"require_signature"`
	MaxAgeSeconds    int    `yaml:"max_age_seconds"`
	Channel          string `yaml:"channel"` // file | ws
	FilePath         string `yaml:"file_path"`
}

// TokenConfig configures the Governance Token Generator/Validator (spec.md §6).
type TokenConfig struct {
	Algorithm            string `yaml:"algorithm"` // RS256 | ES256 | HS256 | EdDSA
	Kid                  string `yaml:"kid"`
	PrivateKeyPath       string `yaml:"private_key_path"`
	PublicKeyPath        string `yaml:"public_key_path"`
	Issuer               string `yaml:"issuer"`
	Audience             string `yaml:"audience"`
	DefaultTTLSeconds    int    `yaml:"default_ttl_seconds"`
	MaxClockSkewSeconds  int    `yaml:"max_clock_skew_seconds"`
	JwksEndpoint         string `yaml:"jwks_endpoint,omitempty"`
}

// InboundPolicyConfig mirrors a2a.InboundPolicy's configurable fields.
type InboundPolicyConfig struct {
	MaxRiskLevel                string   `yaml:"max_risk_level"`
	RequireKillSwitch           bool     `yaml:"require_kill_switch"`
	RequireGoldenThreadVerified bool     `yaml:"require_golden_thread_verified"`
	MinGenerationDepth          *int     `yaml:"min_generation_depth,omitempty"`
	MaxGenerationDepth          *int     `yaml:"max_generation_depth,omitempty"`
	AllowedModes                []string `yaml:"allowed_modes"`
	BlockedAssets                []string `yaml:"blocked_assets"`
	TrustedAssets                []string `yaml:"trusted_assets"`
}

// ToPolicy converts c into an a2a.InboundPolicy.
func (c InboundPolicyConfig) ToPolicy() a2a.InboundPolicy {
	return a2a.InboundPolicy{
		MaxRiskLevel:                c.MaxRiskLevel,
		RequireKillSwitch:           c.RequireKillSwitch,
		RequireGoldenThreadVerified: c.RequireGoldenThreadVerified,
		MinGenerationDepth:          c.MinGenerationDepth,
		MaxGenerationDepth:          c.MaxGenerationDepth,
		AllowedModes:                c.AllowedModes,
		BlockedAssets:               c.BlockedAssets,
		TrustedAssets:               c.TrustedAssets,
	}
}

// OutboundPolicyConfig mirrors a2a.OutboundPolicy's configurable fields.
type OutboundPolicyConfig struct {
	BlockedDomains                    []string `yaml:"blocked_domains"`
	AllowedDomains                    []string `yaml:"allowed_domains"`
	MaxTargetRiskLevel               string   `yaml:"max_target_risk_level"`
	RequireTargetKillSwitch          bool     `yaml:"require_target_kill_switch"`
	RequireTargetGoldenThreadVerified bool    `yaml:"require_target_golden_thread_verified"`
	BlockedTargetAssets               []string `yaml:"blocked_target_assets"`
}

// ToPolicy converts c into an a2a.OutboundPolicy.
func (c OutboundPolicyConfig) ToPolicy() a2a.OutboundPolicy {
	return a2a.OutboundPolicy{
		BlockedDomains:                    c.BlockedDomains,
		AllowedDomains:                    c.AllowedDomains,
		MaxTargetRiskLevel:               c.MaxTargetRiskLevel,
		RequireTargetKillSwitch:          c.RequireTargetKillSwitch,
		RequireTargetGoldenThreadVerified: c.RequireTargetGoldenThreadVerified,
		BlockedTargetAssets:               c.BlockedTargetAssets,
	}
}

// A2AConfig configures the A2A Handshake's inbound/outbound policy gates
// (spec.md §6, §4.8).
type A2AConfig struct {
	RequireToken bool                 `yaml:"require_token"`
	ExemptPaths  []string             `yaml:"exempt_paths"`
	Inbound      InboundPolicyConfig  `yaml:"inbound"`
	Outbound     OutboundPolicyConfig `yaml:"outbound"`
}

// IntegrityConfig configures the Integrity Checkpoint's run cadence
// (spec.md §6).
type IntegrityConfig struct {
	Cron        string `yaml:"cron"` // e.g. "0 0 * * *" for UTC midnight
	UTCBoundary bool   `yaml:"utc_boundary"`
}

// AlertsConfig configures the alert fan-out sinks.
type AlertsConfig struct {
	Slack   SlackAlertConfig   `yaml:"slack"`
	Webhook WebhookAlertConfig `yaml:"webhook"`
}

type SlackAlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type WebhookAlertConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// DefaultConfig returns a config with sensible defaults for zero-config
// startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 6777, LogLevel: "info", CORS: false, FailMode: "closed"},
		Storage: StorageConfig{
			Driver:    "sqlite",
			Path:      "./agentcore.db",
			Retention: 90 * 24 * time.Hour,
		},
		Auth: AuthConfig{TokenTTL: time.Hour},
		Policy: PolicyEngineConfig{DryRun: false},
		Decay: CapabilityDecayConfig{
			DefaultMode:     "decay",
			CostDecayFactor: 0.8,
		},
		KillSwitch: KillSwitchConfig{
			RequireSignature: true,
			MaxAgeSeconds:    300,
			Channel:          "file",
			FilePath:         "./killswitch.json",
		},
		Token: TokenConfig{
			Algorithm:           "EdDSA",
			DefaultTTLSeconds:   300,
			MaxClockSkewSeconds: 60,
		},
		A2A: A2AConfig{RequireToken: true},
		Integrity: IntegrityConfig{
			Cron:        "0 0 * * *",
			UTCBoundary: true,
		},
	}
}
