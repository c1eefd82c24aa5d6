package supervisor

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"pairmm/internal/config"
	"pairmm/internal/exchange"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(dryRun bool) config.Config {
	return config.Config{
		DryRun: dryRun,
		Market: config.MarketConfig{
			Slug:     "btc-updown-15m-1767707100",
			RESTURL:  "https://clob.polymarket.com",
			GammaURL: "https://gamma-api.polymarket.com",
		},
		Wallet: config.WalletConfig{
			ChainID: 137,
		},
	}
}

func TestCheckSafetyGatesPassesInDryRunWithNoCredentials(t *testing.T) {
	t.Parallel()
	cfg := testConfig(true)
	auth, err := exchange.NewAuth(cfgWithKey(cfg, "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690"))
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	sup := New(cfg, auth, testLogger())

	if err := sup.CheckSafetyGates(context.Background()); err != nil {
		t.Errorf("CheckSafetyGates() in dry-run = %v, want nil", err)
	}
}

func TestCheckSafetyGatesRejectsLiveWithNoPrivateKey(t *testing.T) {
	t.Parallel()
	cfg := testConfig(false) // live mode, no PrivateKey set
	auth, err := exchange.NewAuth(cfgWithKey(cfg, "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690"))
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	sup := New(cfg, auth, testLogger())
	// cfg passed to New still has an empty PrivateKey even though auth was
	// built from a throwaway one above — CheckSafetyGates reads cfg, not auth.
	if err := sup.CheckSafetyGates(context.Background()); err == nil {
		t.Fatal("expected CheckSafetyGates to reject a live session with no configured private key")
	}
}

func TestCheckSafetyGatesPassesLiveWithExistingL2Credentials(t *testing.T) {
	t.Parallel()
	cfg := testConfig(false)
	cfg.Wallet.PrivateKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690"
	cfg.API = config.APIConfig{ApiKey: "k", Secret: "s", Passphrase: "p"}

	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	sup := New(cfg, auth, testLogger())

	// Credentials are already present, so CheckSafetyGates must not attempt
	// to derive them over the network.
	if err := sup.CheckSafetyGates(context.Background()); err != nil {
		t.Errorf("CheckSafetyGates() with existing L2 credentials = %v, want nil", err)
	}
}

func TestBuildOrderClientReturnsNilInDryRun(t *testing.T) {
	t.Parallel()
	cfg := testConfig(true)
	auth, err := exchange.NewAuth(cfgWithKey(cfg, "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690"))
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	sup := New(cfg, auth, testLogger())

	client, err := sup.buildOrderClient()
	if err != nil {
		t.Fatalf("buildOrderClient: %v", err)
	}
	if client != nil {
		t.Error("buildOrderClient() in dry-run should return a nil OrderClient")
	}
}

func cfgWithKey(cfg config.Config, key string) config.Config {
	cfg.Wallet.PrivateKey = key
	return cfg
}
