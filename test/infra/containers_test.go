package infra

import (
	"context"
	"testing"
)

func TestSharedDSN_FlagWinsOverEnv(t *testing.T) {
	t.Setenv(sharedDSNEnv, "postgres://env/db")

	if got := sharedDSN("postgres://flag/db"); got != "postgres://flag/db" {
		t.Fatalf("flag dsn: got %q", got)
	}
	if got := sharedDSN("  "); got != "postgres://env/db" {
		t.Fatalf("blank flag should fall back to env: got %q", got)
	}
}

func TestSharedDSN_EmptyMeansOwnDatabase(t *testing.T) {
	t.Setenv(sharedDSNEnv, "")
	if got := sharedDSN(""); got != "" {
		t.Fatalf("expected no shared dsn, got %q", got)
	}
}

func TestDBContainer_ZeroValueStopIsNoop(t *testing.T) {
	var c dbContainer
	if err := c.stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
