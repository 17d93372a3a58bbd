package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/gannbot/internal/domain"
	"github.com/alanyoungcy/gannbot/internal/trader"
)

const sampleTOML = `
mode = "trade"
log_level = "debug"

[marketplace]
ws_url = "wss://feed.example/ws"
api_key = "key"
api_secret = "secret"
timeout = "5s"

[[traders]]
name = "alpha"
snapshot_path = "data/alpha.json"
cash = 100000
spend = 50000
profit = "5%"

[[traders]]
name = "beta"
snapshot_path = "data/beta.json"
pair = "etheur"
`

func TestParseFillsTraderDefaults(t *testing.T) {
	cfg, err := Parse(sampleTOML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Marketplace.Timeout.Duration != 5*time.Second {
		t.Fatalf("timeout = %v", cfg.Marketplace.Timeout)
	}
	if len(cfg.Traders) != 2 {
		t.Fatalf("traders = %+v", cfg.Traders)
	}

	alpha, err := cfg.Traders[0].Policy()
	if err != nil {
		t.Fatalf("alpha policy: %v", err)
	}
	def := trader.DefaultPolicy()
	if alpha.Spend != 50000 || alpha.Profit != trader.Percentage(5) || alpha.Tolerance != def.Tolerance || alpha.Pair != domain.PairBTCEUR {
		t.Fatalf("alpha policy = %+v", alpha)
	}

	beta, err := cfg.Traders[1].Policy()
	if err != nil {
		t.Fatalf("beta policy: %v", err)
	}
	if beta.Pair != domain.PairETHEUR || beta.Spend != def.Spend || beta.Profit != def.Profit {
		t.Fatalf("beta policy = %+v", beta)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(sampleTOML + "\n[bogus]\nvalue = 1\n")
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Traders = []TraderConfig{
		{Name: "alpha", Spend: 100, Decimals: 4, Pair: "btceur", Profit: "ten"},
		{Name: "alpha", Spend: 100, Decimals: 4, Pair: "btceur", Profit: "10"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"ws_url", "api_key", "snapshot_path", "duplicate name", domain.ErrInvalidProfit.Error()} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateModes(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "ingest"
	cfg.Marketplace.WSURL = "wss://feed.example/ws"
	cfg.Recorder.Enabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("ingest with recorder: %v", err)
	}

	cfg.Recorder.Upload = true
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "upload requires s3") {
		t.Fatalf("err = %v", err)
	}

	cfg = Defaults()
	cfg.Mode = "replay"
	cfg.Traders = []TraderConfig{DefaultTrader()}
	cfg.Traders[0].Name = "alpha"
	cfg.Traders[0].SnapshotPath = "alpha.json"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("replay: %v", err)
	}

	cfg.Mode = "backtest"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "unknown mode") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateFeeRate(t *testing.T) {
	for _, fee := range []string{"abc", "-0.1", "1"} {
		cfg := Defaults()
		cfg.Mode = "ingest"
		cfg.Marketplace.WSURL = "wss://feed.example/ws"
		cfg.Recorder.Enabled = true
		cfg.Marketplace.FeeRate = fee
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "fee_rate") {
			t.Fatalf("fee %q: err = %v", fee, err)
		}
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gannbot.toml")
	if err := os.WriteFile(path, []byte(sampleTOML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("GANNBOT_MARKETPLACE_API_SECRET", "from-env")
	t.Setenv("GANNBOT_REDIS_LOCK_TTL", "45s")
	t.Setenv("GANNBOT_NOTIFY_EVENTS", "trade_executed, feed_stopped")
	t.Setenv("GANNBOT_MARKETPLACE_DEDUP_TTL", "1m")
	t.Setenv("GANNBOT_SERVER_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Marketplace.APISecret != "from-env" {
		t.Fatalf("api_secret = %q", cfg.Marketplace.APISecret)
	}
	if cfg.Redis.LockTTL.Duration != 45*time.Second {
		t.Fatalf("lock_ttl = %v", cfg.Redis.LockTTL)
	}
	if len(cfg.Notify.Events) != 2 || cfg.Notify.Events[1] != "feed_stopped" {
		t.Fatalf("events = %v", cfg.Notify.Events)
	}
	if cfg.Marketplace.DedupTTL.Duration != time.Minute {
		t.Fatalf("dedup_ttl = %v", cfg.Marketplace.DedupTTL)
	}
	if !cfg.Server.Enabled || cfg.Server.Addr != ":8080" {
		t.Fatalf("server = %+v", cfg.Server)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg, err := Parse(sampleTOML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.Postgres.Password = "pw"

	red := RedactedConfig(cfg)
	if red.Marketplace.APIKey != redacted || red.Marketplace.APISecret != redacted || red.Postgres.Password != redacted {
		t.Fatalf("secrets not redacted: %+v", red.Marketplace)
	}
	if red.Marketplace.WSURL != cfg.Marketplace.WSURL {
		t.Fatalf("non-secret field changed")
	}
	if cfg.Marketplace.APISecret != "secret" {
		t.Fatalf("original modified")
	}

	red.Traders[0].Name = "changed"
	if cfg.Traders[0].Name != "alpha" {
		t.Fatalf("traders slice aliased")
	}
}
