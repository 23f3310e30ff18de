package a2a

import (
	"testing"
	"time"

	"github.com/agentwarden/agentcore/internal/token"
)

func claimsWith(riskLevel, mode string, depth int, verified bool) *token.AigosClaims {
	return &token.AigosClaims{
		Identity:   token.IdentityClaims{InstanceID: "i1", AssetID: "asset-1"},
		Governance: token.GovernanceClaims{RiskLevel: riskLevel, Mode: mode, GoldenThread: token.GoldenThreadClaims{Verified: verified}},
		Control:    token.ControlClaims{KillSwitch: token.KillSwitchClaims{Enabled: true, Channel: "sse"}},
		Lineage:    token.LineageClaims{GenerationDepth: depth},
	}
}

func TestInboundPolicy_MaxRiskLevel(t *testing.T) {
	p := InboundPolicy{MaxRiskLevel: "limited"}
	if v := p.Evaluate(claimsWith("minimal", "NORMAL", 0, true)); v != nil {
		t.Fatalf("expected minimal risk to pass limited ceiling, got %+v", v)
	}
	if v := p.Evaluate(claimsWith("high", "NORMAL", 0, true)); v == nil || v.Code != "RISK_LEVEL_EXCEEDED" {
		t.Fatalf("expected RISK_LEVEL_EXCEEDED, got %+v", v)
	}
}

func TestInboundPolicy_RequireGoldenThreadVerified(t *testing.T) {
	p := InboundPolicy{RequireGoldenThreadVerified: true}
	if v := p.Evaluate(claimsWith("minimal", "NORMAL", 0, false)); v == nil || v.Code != "GOLDEN_THREAD_UNVERIFIED" {
		t.Fatalf("expected GOLDEN_THREAD_UNVERIFIED, got %+v", v)
	}
}

func TestInboundPolicy_GenerationDepthBounds(t *testing.T) {
	minD, maxD := 1, 3
	p := InboundPolicy{MinGenerationDepth: &minD, MaxGenerationDepth: &maxD}
	if v := p.Evaluate(claimsWith("minimal", "NORMAL", 0, true)); v == nil || v.Code != "GENERATION_DEPTH_TOO_SHALLOW" {
		t.Fatalf("expected depth-too-shallow, got %+v", v)
	}
	if v := p.Evaluate(claimsWith("minimal", "NORMAL", 5, true)); v == nil || v.Code != "GENERATION_DEPTH_EXCEEDED" {
		t.Fatalf("expected depth-exceeded, got %+v", v)
	}
	if v := p.Evaluate(claimsWith("minimal", "NORMAL", 2, true)); v != nil {
		t.Fatalf("expected depth within bounds to pass, got %+v", v)
	}
}

func TestInboundPolicy_BlockedAssetWinsOverTrusted(t *testing.T) {
	p := InboundPolicy{BlockedAssets: []string{"asset-1"}, TrustedAssets: []string{"asset-1"}}
	v := p.Evaluate(claimsWith("minimal", "NORMAL", 0, true))
	if v == nil || v.Code != "ASSET_BLOCKED" {
		t.Fatalf("expected ASSET_BLOCKED to win, got %+v", v)
	}
}

func TestOutboundPolicy_PreflightDomainGates(t *testing.T) {
	p := OutboundPolicy{BlockedDomains: []string{"evil.example.com"}, AllowedDomains: []string{"*.example.com"}}
	if v := p.EvaluatePreflight("evil.example.com"); v == nil || v.Code != "TARGET_DOMAIN_BLOCKED" {
		t.Fatalf("expected TARGET_DOMAIN_BLOCKED, got %+v", v)
	}
	if v := p.EvaluatePreflight("api.example.com"); v != nil {
		t.Fatalf("expected allowed subdomain to pass, got %+v", v)
	}
	if v := p.EvaluatePreflight("other.net"); v == nil || v.Code != "TARGET_DOMAIN_NOT_ALLOWED" {
		t.Fatalf("expected TARGET_DOMAIN_NOT_ALLOWED, got %+v", v)
	}
}

func TestOutboundPolicy_PostHandshakeGates(t *testing.T) {
	p := OutboundPolicy{MaxTargetRiskLevel: "limited"}
	if v := p.EvaluatePostHandshake(claimsWith("high", "NORMAL", 0, true)); v == nil || v.Code != "TARGET_RISK_LEVEL_EXCEEDED" {
		t.Fatalf("expected TARGET_RISK_LEVEL_EXCEEDED, got %+v", v)
	}
}

func TestHandshake_MissingTokenOnExemptPathIsAllowed(t *testing.T) {
	h := NewHandshake(HandshakeConfig{RequireToken: true, ExemptPaths: []string{"/healthz"}}, nil, InboundPolicy{}, nil)
	r := h.HandleInbound("", "/healthz", time.Now())
	if !r.Exempt || r.Error != nil {
		t.Fatalf("expected exempt path to bypass token requirement, got %+v", r)
	}
}

func TestHandshake_MissingTokenOnNonExemptPathIsRejected(t *testing.T) {
	h := NewHandshake(HandshakeConfig{RequireToken: true}, nil, InboundPolicy{}, nil)
	r := h.HandleInbound("", "/guarded", time.Now())
	if r.Error == nil {
		t.Fatal("expected missing token on a non-exempt path to be rejected")
	}
}
