package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHECKER_INTERVAL_SECONDS", "")
	t.Setenv("MIN_PAYOUT_AMOUNT", "")
	t.Setenv("ONIT_HOST", "")

	cfg := Load()
	if cfg.CheckerIntervalSeconds != 20 {
		t.Errorf("interval = %d, want 20", cfg.CheckerIntervalSeconds)
	}
	if cfg.CheckerMaxAttempts != 30 {
		t.Errorf("max attempts = %d, want 30", cfg.CheckerMaxAttempts)
	}
	if cfg.MinPayoutAmount != 10 {
		t.Errorf("min payout = %d, want 10", cfg.MinPayoutAmount)
	}
	if cfg.PaymentsConfigured() {
		t.Errorf("payments should not be configured without ONIT_HOST")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHECKER_MAX_ATTEMPTS", "5")
	t.Setenv("MIGRATE_ON_START", "yes")
	t.Setenv("CHESS_API_TIMEOUT_SECONDS", "not-a-number")

	cfg := Load()
	if cfg.CheckerMaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", cfg.CheckerMaxAttempts)
	}
	if !cfg.MigrateOnStart {
		t.Errorf("MIGRATE_ON_START=yes should enable migrations")
	}
	if cfg.ChessAPITimeoutSeconds != 10 {
		t.Errorf("bad int should fall back to default, got %d", cfg.ChessAPITimeoutSeconds)
	}
}
