// Package a2a implements the agent-to-agent handshake and its inbound and
// outbound policy gates (spec.md §4.8): a symmetric exchange of AIGOS
// governance tokens over three fixed request headers.
package a2a

import (
	"log/slog"
	"strings"
	"time"

	"github.com/agentwarden/agentcore/internal/pattern"
	"github.com/agentwarden/agentcore/internal/token"
)

// Header names carrying the A2A protocol (spec.md §6).
const (
	HeaderToken            = "x-aigos-token"
	HeaderProtocolVersion  = "x-aigos-protocol-version"
	HeaderRequestID        = "x-aigos-request-id"
	ProtocolVersion        = "1"
)

// Violation is one denied gate, carrying a stable code for programmatic
// handling (spec.md §4.8's "policy.violated" event).
type Violation struct {
	Code   string
	Reason string
}

// InboundPolicy gates a caller's token before a request is served.
type InboundPolicy struct {
	MaxRiskLevel                string // "" disables the check
	RequireKillSwitch           bool
	RequireGoldenThreadVerified bool
	MinGenerationDepth          *int
	MaxGenerationDepth          *int
	AllowedModes                []string
	BlockedAssets               []string
	TrustedAssets               []string

	// CustomCheck runs last, after all built-in gates pass; returning
	// deny=true denies with code CUSTOM_POLICY_VIOLATION and the returned
	// reason.
	CustomCheck func(claims *token.AigosClaims) (deny bool, reason string)
}

var riskRank = map[string]int{"minimal": 0, "limited": 1, "high": 2, "unacceptable": 3}

// Evaluate runs p's gates against claims, returning the first violation
// encountered, or nil if the caller is admitted.
func (p InboundPolicy) Evaluate(claims *token.AigosClaims) *Violation {
	if p.MaxRiskLevel != "" {
		if riskRank[claims.Governance.RiskLevel] > riskRank[p.MaxRiskLevel] {
			return &Violation{Code: "RISK_LEVEL_EXCEEDED", Reason: "caller risk level exceeds maxRiskLevel"}
		}
	}
	if p.RequireKillSwitch && !claims.Control.KillSwitch.Enabled {
		return &Violation{Code: "KILL_SWITCH_REQUIRED", Reason: "caller has no active kill switch"}
	}
	if p.RequireGoldenThreadVerified && !claims.Governance.GoldenThread.Verified {
		return &Violation{Code: "GOLDEN_THREAD_UNVERIFIED", Reason: "caller's golden thread is not verified"}
	}
	if p.MinGenerationDepth != nil && claims.Lineage.GenerationDepth < *p.MinGenerationDepth {
		return &Violation{Code: "GENERATION_DEPTH_TOO_SHALLOW", Reason: "caller generation depth below minimum"}
	}
	if p.MaxGenerationDepth != nil && claims.Lineage.GenerationDepth > *p.MaxGenerationDepth {
		return &Violation{Code: "GENERATION_DEPTH_EXCEEDED", Reason: "caller generation depth above maximum"}
	}
	if len(p.AllowedModes) > 0 && !contains(p.AllowedModes, claims.Governance.Mode) {
		return &Violation{Code: "MODE_NOT_ALLOWED", Reason: "caller mode not in allowedModes"}
	}
	if contains(p.BlockedAssets, claims.Identity.AssetID) {
		return &Violation{Code: "ASSET_BLOCKED", Reason: "caller asset is blocked"}
	}
	if len(p.TrustedAssets) > 0 && !contains(p.TrustedAssets, claims.Identity.AssetID) {
		return &Violation{Code: "ASSET_NOT_TRUSTED", Reason: "caller asset is not in trustedAssets"}
	}
	if p.CustomCheck != nil {
		if deny, reason := p.CustomCheck(claims); deny {
			return &Violation{Code: "CUSTOM_POLICY_VIOLATION", Reason: reason}
		}
	}
	return nil
}

// OutboundPolicy gates a call this agent initiates, before and after the
// handshake.
type OutboundPolicy struct {
	// Pre-flight, evaluated against the target URL before sending.
	BlockedDomains []string
	AllowedDomains []string // empty = allow any not blocked

	// Post-handshake, evaluated against the peer's response token.
	MaxTargetRiskLevel            string
	RequireTargetKillSwitch       bool
	RequireTargetGoldenThreadVerified bool
	BlockedTargetAssets           []string
}

// EvaluatePreflight gates targetHost before the request is sent.
func (p OutboundPolicy) EvaluatePreflight(targetHost string) *Violation {
	blocked, err := pattern.CompileList(p.BlockedDomains)
	if err == nil && blocked.Matches(targetHost) {
		return &Violation{Code: "TARGET_DOMAIN_BLOCKED", Reason: "target domain is blocked"}
	}
	if len(p.AllowedDomains) > 0 {
		allowed, err := pattern.CompileList(p.AllowedDomains)
		if err == nil && !allowed.Matches(targetHost) {
			return &Violation{Code: "TARGET_DOMAIN_NOT_ALLOWED", Reason: "target domain not in allowedDomains"}
		}
	}
	return nil
}

// EvaluatePostHandshake gates the peer's response token.
func (p OutboundPolicy) EvaluatePostHandshake(claims *token.AigosClaims) *Violation {
	if p.MaxTargetRiskLevel != "" && riskRank[claims.Governance.RiskLevel] > riskRank[p.MaxTargetRiskLevel] {
		return &Violation{Code: "TARGET_RISK_LEVEL_EXCEEDED", Reason: "target risk level exceeds maxTargetRiskLevel"}
	}
	if p.RequireTargetKillSwitch && !claims.Control.KillSwitch.Enabled {
		return &Violation{Code: "TARGET_KILL_SWITCH_REQUIRED", Reason: "target has no active kill switch"}
	}
	if p.RequireTargetGoldenThreadVerified && !claims.Governance.GoldenThread.Verified {
		return &Violation{Code: "TARGET_GOLDEN_THREAD_UNVERIFIED", Reason: "target's golden thread is not verified"}
	}
	if contains(p.BlockedTargetAssets, claims.Identity.AssetID) {
		return &Violation{Code: "TARGET_ASSET_BLOCKED", Reason: "target asset is blocked"}
	}
	return nil
}

// HandshakeConfig configures a Handshake.
type HandshakeConfig struct {
	RequireToken  bool // reject requests with no token on non-exempt paths
	ExemptPaths   []string
}

// Handshake drives the symmetric A2A exchange: validates the caller's
// inbound token and policy, and prepares this agent's own token for the
// response.
type Handshake struct {
	cfg       HandshakeConfig
	validator *token.Validator
	inbound   InboundPolicy
	logger    *slog.Logger
}

// NewHandshake constructs a Handshake.
func NewHandshake(cfg HandshakeConfig, validator *token.Validator, inbound InboundPolicy, logger *slog.Logger) *Handshake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handshake{cfg: cfg, validator: validator, inbound: inbound, logger: logger.With("component", "a2a.Handshake")}
}

// InboundResult is the outcome of validating and gating an inbound request.
type InboundResult struct {
	Claims    *token.AigosClaims
	Violation *Violation
	Error     *token.ValidationError
	Exempt    bool
}

// HandleInbound validates tokenHeader for path, applying h's exemption list
// and inbound policy.
func (h *Handshake) HandleInbound(tokenHeader string, path string, now time.Time) InboundResult {
	if tokenHeader == "" {
		if !h.cfg.RequireToken || isExempt(h.cfg.ExemptPaths, path) {
			return InboundResult{Exempt: true}
		}
		return InboundResult{Error: &token.ValidationError{Code: token.ErrInvalidFormat, Message: "missing " + HeaderToken}}
	}

	result := h.validator.Validate(tokenHeader, now)
	if result.Error != nil {
		h.logger.Warn("inbound token rejected", "code", result.Error.Code, "path", path)
		return InboundResult{Error: result.Error}
	}

	if v := h.inbound.Evaluate(result.Claims); v != nil {
		h.logger.Info("inbound policy violated", "code", v.Code, "asset_id", result.Claims.Identity.AssetID)
		return InboundResult{Claims: result.Claims, Violation: v}
	}

	return InboundResult{Claims: result.Claims}
}

func isExempt(exempt []string, path string) bool {
	list, err := pattern.CompileList(exempt)
	if err != nil {
		return false
	}
	return list.Matches(path)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
