package token

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GeneratorConfig configures the Generator (spec.md §6 "Token" config).
type GeneratorConfig struct {
	Algorithm          string
	Kid                string
	Issuer             string
	Audience           string
	DefaultTTL         time.Duration // default 300s
	MaxClockSkew       time.Duration // default 60s
}

// DefaultGeneratorConfig fills in the documented defaults for TTL and skew.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		DefaultTTL:   300 * time.Second,
		MaxClockSkew: 60 * time.Second,
	}
}

// Generator produces signed AIGOS governance tokens.
type Generator struct {
	cfg    GeneratorConfig
	keys   *KeyStore
	logger *slog.Logger
}

// NewGenerator constructs a Generator. cfg.DefaultTTL of zero is
// normalised to 300s.
func NewGenerator(cfg GeneratorConfig, keys *KeyStore, logger *slog.Logger) *Generator {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 300 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{cfg: cfg, keys: keys, logger: logger.With("component", "token.Generator")}
}

// Input is everything the Generator needs to build one token's claim set.
type Input struct {
	Identity     IdentityClaims
	Governance   GovernanceClaims
	Control      ControlClaims
	Capabilities CapabilitiesClaims
	Lineage      LineageClaims
}

// Generate builds and signs a token for now, returning the compact JWT
// string.
func (g *Generator) Generate(in Input, now time.Time) (string, error) {
	key, ok := g.keys.Get(g.cfg.Kid)
	if !ok {
		return "", fmt.Errorf("token: signing key %q not found", g.cfg.Kid)
	}

	method, err := SigningMethod(g.cfg.Algorithm)
	if err != nil {
		return "", err
	}

	claims := AigosClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.cfg.Issuer,
			Audience:  jwt.ClaimStrings{g.cfg.Audience},
			Subject:   in.Identity.InstanceID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.cfg.DefaultTTL)),
			ID:        newJTI(),
		},
		Version:      "1",
		Identity:     in.Identity,
		Governance:   in.Governance,
		Control:      in.Control,
		Capabilities: in.Capabilities,
		Lineage:      in.Lineage,
	}

	jwtToken := jwt.NewWithClaims(method, claims)
	jwtToken.Header["typ"] = TypHeader
	jwtToken.Header["kid"] = g.cfg.Kid

	signed, err := jwtToken.SignedString(key.SignKey)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}

	g.logger.Debug("governance token generated",
		"instance_id", in.Identity.InstanceID,
		"jti", claims.ID,
		"exp", claims.ExpiresAt.Time,
	)

	return signed, nil
}
