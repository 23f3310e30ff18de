// Package token implements the Governance Token Generator and Validator:
// a signed JWT carrying Runtime Identity and live governance state between
// agents (spec.md §3, §4.7).
package token

import (
	"github.com/golang-jwt/jwt/v5"
)

// TypHeader is the fixed JWT "typ" header value for AIGOS A2A tokens.
const TypHeader = "AIGOS-A2A+JWT"

// IdentityClaims is the identity sub-block of the AIGOS claim set.
type IdentityClaims struct {
	InstanceID   string `json:"instanceId"`
	AssetID      string `json:"assetId"`
	AssetName    string `json:"assetName"`
	AssetVersion string `json:"assetVersion"`
}

// GoldenThreadClaims is the governance.goldenThread sub-block.
type GoldenThreadClaims struct {
	Hash     string `json:"hash"`
	Verified bool   `json:"verified"`
	TicketID string `json:"ticketId,omitempty"`
}

// GovernanceClaims is the governance sub-block.
type GovernanceClaims struct {
	RiskLevel    string             `json:"riskLevel"`
	Mode         string             `json:"mode"`
	GoldenThread GoldenThreadClaims `json:"goldenThread"`
}

// KillSwitchClaims is the control.killSwitch sub-block.
type KillSwitchClaims struct {
	Enabled bool   `json:"enabled"`
	Channel string `json:"channel"` // sse | polling | file
}

// ControlClaims is the control sub-block.
type ControlClaims struct {
	KillSwitch         KillSwitchClaims `json:"killSwitch"`
	Paused             bool             `json:"paused"`
	TerminationPending bool             `json:"terminationPending"`
}

// CapabilitiesClaims is the capabilities sub-block.
type CapabilitiesClaims struct {
	Hash         string   `json:"hash"`
	Tools        []string `json:"tools"`
	MaxBudgetUsd *float64 `json:"maxBudgetUsd"`
	CanSpawn     bool     `json:"canSpawn"`
	MaxChildDepth int     `json:"maxChildDepth"`
}

// LineageClaims is the lineage sub-block.
type LineageClaims struct {
	GenerationDepth  int     `json:"generationDepth"`
	ParentInstanceID *string `json:"parentInstanceId"`
	RootInstanceID   string  `json:"rootInstanceId"`
}

// AigosClaims is the full AIGOS claim block embedded in the JWT, alongside
// the jwt.RegisteredClaims standard fields.
type AigosClaims struct {
	jwt.RegisteredClaims

	Version      string             `json:"version"`
	Identity     IdentityClaims     `json:"identity"`
	Governance   GovernanceClaims   `json:"governance"`
	Control      ControlClaims      `json:"control"`
	Capabilities CapabilitiesClaims `json:"capabilities"`
	Lineage      LineageClaims      `json:"lineage"`
}
