package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentwarden/agentcore/internal/a2a"
	"github.com/agentwarden/agentcore/internal/alert"
	"github.com/agentwarden/agentcore/internal/api"
	"github.com/agentwarden/agentcore/internal/auth"
	"github.com/agentwarden/agentcore/internal/capability"
	"github.com/agentwarden/agentcore/internal/checkpoint"
	"github.com/agentwarden/agentcore/internal/config"
	"github.com/agentwarden/agentcore/internal/eventstore"
	"github.com/agentwarden/agentcore/internal/identity"
	"github.com/agentwarden/agentcore/internal/killswitch"
	"github.com/agentwarden/agentcore/internal/signature"
	"github.com/agentwarden/agentcore/internal/spawn"
	"github.com/agentwarden/agentcore/internal/token"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentwarden",
		Short: "Runtime governance core for AI agents",
		Long:  "agentwarden — identity, policy, capability decay, kill switch, governance tokens, and integrity checkpoints for AI-agent fleets.",
	}

	var configFile string
	var port, statusPort int

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the governance core and its management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile, port)
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: agentwarden.yaml)")
	startCmd.Flags().IntVarP(&port, "port", "p", 0, "Override management API port (default: 6777)")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter agentwarden.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentwarden %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Query the running core's health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(statusPort)
		},
	}
	statusCmd.Flags().IntVarP(&statusPort, "port", "p", 6777, "Management API port")

	rootCmd.AddCommand(startCmd, initCmd, versionCmd, statusCmd)
	rootCmd.AddCommand(identityCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(killSwitchCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(checkpointCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// ─── start ───

func runStart(configFile string, portOverride int) error {
	loader := config.NewLoader()
	path := configFile
	if path == "" {
		path = "agentwarden.yaml"
	}
	if err := loader.Load(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Printf("  ⚠ %s not found, using defaults\n", path)
	}
	cfg := loader.Get()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if portOverride != 0 {
		cfg.Server.Port = portOverride
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	store, err := eventstore.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	alertMgr := alert.NewManager(cfg.Alerts, logger)

	capMgr := capability.NewManager(capability.GlobalConfig{
		DefaultMode:       capability.Mode(orDefault(cfg.Decay.DefaultMode, string(capability.ModeDecay))),
		CostDecayFactor:   cfg.Decay.CostDecayFactor,
		GlobalDenyTools:   cfg.Decay.GlobalDenyTools,
		GlobalDenyDomains: cfg.Decay.GlobalDenyDomains,
		MinChildTools:     cfg.Decay.MinChildTools,
	}, logger)
	capMgr.OnEscalationDenied(func(parentInstanceID string, detail string) {
		alertMgr.Send(alert.Alert{
			Type: "policy_violation", Severity: "warning",
			Title: "capability escalation denied", Message: detail,
			AgentID: parentInstanceID, Timestamp: time.Now().UTC(),
		})
	})

	sigRegistry := signature.NewRegistry()
	verifier := signature.NewVerifier(sigRegistry, logger)

	kill := killswitch.New(killswitch.Config{
		RequireSignature: cfg.KillSwitch.RequireSignature,
		MaxAge:           time.Duration(cfg.KillSwitch.MaxAgeSeconds) * time.Second,
	}, verifier, logger)
	kill.OnApplied(func(env killswitch.Envelope, state killswitch.State) {
		alertMgr.Send(alert.Alert{
			Type: "kill_switch_trip", Severity: "critical",
			Title: "kill switch " + string(env.Command), Message: env.Reason,
			Timestamp: time.Now().UTC(),
		})
	})

	var killChannel killswitch.Channel
	if cfg.KillSwitch.Channel == "file" && cfg.KillSwitch.FilePath != "" {
		fc := killswitch.NewFileChannel(cfg.KillSwitch.FilePath, logger)
		if err := fc.Start(func(env killswitch.Envelope) {
			kill.ProcessCommand(env, time.Now().UTC())
		}); err != nil {
			logger.Warn("failed to start kill-switch file channel", "error", err)
		} else {
			killChannel = fc
			defer killChannel.Stop()
		}
	}

	keys, err := loadOrGenerateKeys(cfg.Token)
	if err != nil {
		return fmt.Errorf("failed to load token keys: %w", err)
	}

	spawnCfg := spawn.DefaultConfig()
	spawnGov := spawn.NewGovernor(spawnCfg, capMgr, logger)

	checkpointRunner := checkpoint.NewRunner(store, store, nil, logger)
	checkpointScheduler := checkpoint.NewScheduler(checkpointRunner, cfg.Integrity.Cron, cfg.Integrity.UTCBoundary, logger)
	checkpointScheduler.Start()
	defer checkpointScheduler.Stop()

	evaluator := eventstore.NewEvaluator(store)

	validatorCfg := token.DefaultValidatorConfig()
	validatorCfg.Issuer = cfg.Token.Issuer
	validatorCfg.Audience = cfg.Token.Audience
	if cfg.Token.MaxClockSkewSeconds > 0 {
		validatorCfg.MaxClockSkew = time.Duration(cfg.Token.MaxClockSkewSeconds) * time.Second
	}
	validator := token.NewValidator(validatorCfg, keys, nil, logger)

	exemptPaths := append([]string{"/api/health"}, cfg.A2A.ExemptPaths...)
	handshake := a2a.NewHandshake(a2a.HandshakeConfig{
		RequireToken: cfg.A2A.RequireToken,
		ExemptPaths:  exemptPaths,
	}, validator, cfg.A2A.Inbound.ToPolicy(), logger)

	tokenManager := auth.NewTokenManager(cfg.Auth.TokenTTL, logger)
	bootstrap, err := tokenManager.CreateToken(auth.RoleAdmin, "", "")
	if err != nil {
		return fmt.Errorf("failed to mint bootstrap admin token: %w", err)
	}
	fmt.Printf("  ✓ bootstrap admin token: %s\n", bootstrap.Secret)

	var server *api.Server
	reload := func(cfg *config.Config) error {
		logger.Info("config reloaded", "custom_checks", len(cfg.Policy.CustomChecks))
		return nil
	}
	server = api.NewServer(cfg.Server, loader, reload, kill, checkpointRunner, tokenManager, store, evaluator, handshake, logger)

	watcher := config.NewWatcher(loader, logger, func(cfg *config.Config) {
		if err := reload(cfg); err != nil {
			logger.Warn("config watcher reload callback failed", "error", err)
		}
	}, func(err error) {
		logger.Warn("config watcher reload failed", "error", err)
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	} else {
		defer watcher.Stop()
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	spawnGov.RegisterRoot("agentwarden-core", capability.Capabilities{
		MaySpawnChildren: true,
		MaxChildDepth:    spawnCfg.MaxDepth,
		CapabilityMode:   capability.ModeDecay,
	})

	fmt.Println("  agentwarden core started")
	fmt.Printf("  management API: http://localhost%s/api\n", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// loadOrGenerateKeys returns a KeyStore holding a freshly generated
// ephemeral Ed25519 (EdDSA) keypair, named by cfg.Kid when set; the
// configured token algorithm is not consulted. Configuring a key path is an
// error, since keys are not loaded from disk. The ephemeral key suits local
// development, not a fleet where multiple processes must trust each other's
// tokens.
func loadOrGenerateKeys(cfg config.TokenConfig) (*token.KeyStore, error) {
	if cfg.PrivateKeyPath != "" || cfg.PublicKeyPath != "" {
		return nil, fmt.Errorf("token: loading keys from disk is not yet implemented, leave private_key_path/public_key_path unset to use an ephemeral dev key")
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	kid := cfg.Kid
	if kid == "" {
		kid = "dev-" + uuid.NewString()[:8]
	}
	return token.NewKeyStore(token.Key{
		KeyID: kid, Algorithm: "EdDSA", SignKey: priv, VerifyKey: pub,
	}), nil
}

// ─── init ───

func runInit() error {
	configPath := "agentwarden.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("  ⚠ %s already exists (skipping)\n", configPath)
		return nil
	}
	if err := config.GenerateDefault(configPath); err != nil {
		return err
	}
	fmt.Printf("  ✓ Generated %s\n", configPath)
	fmt.Println("\n  Next steps:")
	fmt.Println("    agentwarden start                     # Start the core")
	fmt.Println("    agentwarden identity build <asset-id> # Build a runtime identity")
	return nil
}

// ─── status ───

func runStatus(port int) error {
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/health", port))
	if err != nil {
		return fmt.Errorf("failed to reach management API: %w", err)
	}
	defer resp.Body.Close()

	var health map[string]any
	if err := decodeJSON(resp, &health); err != nil {
		return err
	}
	fmt.Printf("  status: %v\n  time:   %v\n", health["status"], health["time"])
	return nil
}

func decodeJSON(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

// ─── identity ───

func identityCmd() *cobra.Command {
	var assetName, assetVersion, riskLevel, mode string

	cmd := &cobra.Command{Use: "identity", Short: "Build and inspect runtime identities"}

	buildCmd := &cobra.Command{
		Use:   "build [asset-id]",
		Short: "Build a root runtime identity and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			builder := identity.NewBuilder(nil)
			id, err := builder.Build(identity.BuildOptions{
				AssetID:      args[0],
				AssetName:    orDefault(assetName, args[0]),
				AssetVersion: orDefault(assetVersion, "v1"),
				RiskLevel:    identity.RiskLevel(orDefault(riskLevel, string(identity.RiskLimited))),
				Mode:         identity.Mode(orDefault(mode, string(identity.ModeNormal))),
				GoldenThread: identity.GoldenThread{Kind: identity.ThreadOrphan, Reason: "cli-generated", DeclaredBy: "agentwarden-cli"},
				Capabilities: capability.Capabilities{CapabilityMode: capability.ModeDecay},
			}, time.Now().UTC())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(id)
		},
	}
	buildCmd.Flags().StringVar(&assetName, "name", "", "Asset display name (default: asset-id)")
	buildCmd.Flags().StringVar(&assetVersion, "asset-version", "v1", "Asset version")
	buildCmd.Flags().StringVar(&riskLevel, "risk", string(identity.RiskLimited), "Risk level: minimal|limited|high|unacceptable")
	buildCmd.Flags().StringVar(&mode, "mode", string(identity.ModeNormal), "Operating mode: NORMAL|SANDBOX|RESTRICTED")

	cmd.AddCommand(buildCmd)
	return cmd
}

// ─── policy ───

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Validate and reload policy configuration"}

	validateCmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a config file without starting the core",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			if err := loader.Load(args[0]); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			fmt.Printf("  ✓ %s is valid\n", args[0])
			return nil
		},
	}

	var apiPort int
	var tok string
	reloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Trigger a live policy/config reload on a running core",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAuthed(apiPort, "/api/policy/reload", tok, nil)
		},
	}
	reloadCmd.Flags().IntVarP(&apiPort, "port", "p", 6777, "Management API port")
	reloadCmd.Flags().StringVar(&tok, "token", os.Getenv("AGENTWARDEN_TOKEN"), "Bearer token (default: $AGENTWARDEN_TOKEN)")

	cmd.AddCommand(validateCmd, reloadCmd)
	return cmd
}

// ─── killswitch ───

func killSwitchCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "killswitch", Short: "Inspect and trigger the kill switch"}

	var apiPort int
	var tok string

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current kill-switch state",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://localhost:%d/api/killswitch", apiPort), nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+tok)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			var out map[string]any
			if err := decodeJSON(resp, &out); err != nil {
				return err
			}
			fmt.Printf("  state: %v\n", out["state"])
			return nil
		},
	}

	var reason, issuedBy string
	triggerCmd := &cobra.Command{
		Use:   "trigger [PAUSE|RESUME|TERMINATE]",
		Short: "Send a kill-switch command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := killswitch.Envelope{
				CommandID: uuid.NewString(),
				Command:   killswitch.Command(args[0]),
				Reason:    reason,
				IssuedBy:  issuedBy,
				IssuedAt:  time.Now().UTC(),
				Timestamp: time.Now().UTC(),
			}
			return postAuthed(apiPort, "/api/killswitch/trigger", tok, env)
		},
	}
	triggerCmd.Flags().StringVar(&reason, "reason", "", "Reason for the command")
	triggerCmd.Flags().StringVar(&issuedBy, "issued-by", "cli", "Operator identity issuing the command")

	for _, c := range []*cobra.Command{statusCmd, triggerCmd} {
		c.Flags().IntVarP(&apiPort, "port", "p", 6777, "Management API port")
		c.Flags().StringVar(&tok, "token", os.Getenv("AGENTWARDEN_TOKEN"), "Bearer token (default: $AGENTWARDEN_TOKEN)")
	}

	cmd.AddCommand(statusCmd, triggerCmd)
	return cmd
}

func postAuthed(port int, path, tok string, body any) error {
	payload := []byte("{}")
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://localhost:%d%s", port, path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request failed (%d): %v", resp.StatusCode, out)
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
	return nil
}

// ─── token ───

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Mint and inspect governance tokens offline"}

	genCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 keypair for token signing and print the kid",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, _, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}
			kid := "key-" + uuid.NewString()[:8]
			fmt.Printf("  kid:        %s\n", kid)
			fmt.Printf("  public key: %x\n", pub)
			fmt.Println("  (private key not printed; start signs with its own ephemeral key and does not load keys from disk)")
			return nil
		},
	}

	var instanceID, assetID, riskLevel, mode string
	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a self-contained governance token with a fresh ephemeral key and validate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if instanceID == "" {
				instanceID = uuid.NewString()
			}
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}
			kid := "cli-" + uuid.NewString()[:8]
			keys := token.NewKeyStore(token.Key{KeyID: kid, Algorithm: "EdDSA", SignKey: priv, VerifyKey: pub})

			gen := token.NewGenerator(token.GeneratorConfig{
				Algorithm: "EdDSA", Kid: kid, Issuer: "agentwarden-cli", Audience: "agentwarden",
			}, keys, nil)

			in := token.Input{
				Identity:   token.IdentityClaims{InstanceID: instanceID, AssetID: assetID, AssetName: assetID, AssetVersion: "v1"},
				Governance: token.GovernanceClaims{RiskLevel: riskLevel, Mode: mode, GoldenThread: token.GoldenThreadClaims{Verified: false}},
				Control:    token.ControlClaims{KillSwitch: token.KillSwitchClaims{Enabled: true, Channel: "file"}},
				Capabilities: token.CapabilitiesClaims{
					Tools: []string{}, CanSpawn: false, MaxChildDepth: 0,
				},
				Lineage: token.LineageClaims{GenerationDepth: 0, RootInstanceID: instanceID},
			}

			now := time.Now().UTC()
			signed, err := gen.Generate(in, now)
			if err != nil {
				return fmt.Errorf("mint: %w", err)
			}

			validator := token.NewValidator(token.DefaultValidatorConfig(), keys, nil, nil)
			result := validator.Validate(signed, now)
			if result.Error != nil {
				return fmt.Errorf("minted token failed self-validation: %s", result.Error)
			}

			fmt.Println(signed)
			fmt.Fprintf(os.Stderr, "  ✓ validated (kid=%s, instanceId=%s)\n", kid, instanceID)
			return nil
		},
	}
	mintCmd.Flags().StringVar(&instanceID, "instance-id", "", "Instance ID (default: generated UUID)")
	mintCmd.Flags().StringVar(&assetID, "asset-id", "cli-agent", "Asset ID")
	mintCmd.Flags().StringVar(&riskLevel, "risk", "limited", "Risk level")
	mintCmd.Flags().StringVar(&mode, "mode", "NORMAL", "Operating mode")

	cmd.AddCommand(genCmd, mintCmd)
	return cmd
}

// ─── checkpoint ───

func checkpointCmd() *cobra.Command {
	var apiPort int
	var tok, orgID string

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Trigger integrity checkpoints on a running core",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run today's integrity checkpoint for one org, or all orgs if --org is omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if orgID != "" {
				body["orgId"] = orgID
			}
			return postAuthed(apiPort, "/api/checkpoint/trigger", tok, body)
		},
	}
	runCmd.Flags().StringVar(&orgID, "org", "", "Org ID (default: all orgs)")
	runCmd.Flags().IntVarP(&apiPort, "port", "p", 6777, "Management API port")
	runCmd.Flags().StringVar(&tok, "token", os.Getenv("AGENTWARDEN_TOKEN"), "Bearer token (default: $AGENTWARDEN_TOKEN)")

	cmd.AddCommand(runCmd)
	return cmd
}
