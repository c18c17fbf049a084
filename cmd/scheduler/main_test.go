package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var out, logs bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), logs.String(), err
}

func useTempDatabase(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "scheduler.db")
	t.Setenv("SCHEDULER_CONFIG_FILE", "")
	t.Setenv("SCHEDULER_DATABASE_DRIVER", "sqlite")
	t.Setenv("SCHEDULER_DATABASE_DSN", dsn)
	return dsn
}

func TestMigrateCommand(t *testing.T) {
	useTempDatabase(t)

	status, _, err := executeCommand(t, "migrate", "--status")
	if err != nil {
		t.Fatalf("migrate --status failed: %v", err)
	}
	if !strings.Contains(status, "current version: none") || !strings.Contains(status, "pending: 4") {
		t.Fatalf("unexpected status before migrating:\n%s", status)
	}

	out, logs, err := executeCommand(t, "migrate")
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out, "applied: 4") || !strings.Contains(out, "pending: 0") {
		t.Fatalf("unexpected migrate output:\n%s", out)
	}
	if !strings.Contains(logs, "migrations completed") {
		t.Fatalf("expected migration logs, got:\n%s", logs)
	}

	again, _, err := executeCommand(t, "migrate")
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if !strings.Contains(again, "pending: 0") {
		t.Fatalf("expected migrate to be idempotent:\n%s", again)
	}
}

func TestConfigFlagOverridesEnvironment(t *testing.T) {
	useTempDatabase(t)
	t.Setenv("SCHEDULER_DATABASE_DSN", "")

	path := filepath.Join(t.TempDir(), "scheduler.yaml")
	dsn := filepath.Join(t.TempDir(), "from-file.db")
	if err := os.WriteFile(path, []byte("database:\n  dsn: "+dsn+"\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, _, err := executeCommand(t, "--config", path, "migrate"); err != nil {
		t.Fatalf("migrate with --config failed: %v", err)
	}
	if _, err := os.Stat(dsn); err != nil {
		t.Fatalf("expected database at %s: %v", dsn, err)
	}
}

func TestInvalidConfigurationFails(t *testing.T) {
	useTempDatabase(t)
	t.Setenv("SCHEDULER_BROKER", "carrier-pigeon")

	_, _, err := executeCommand(t, "serve")
	if err == nil || !strings.Contains(err.Error(), "SCHEDULER_BROKER") {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSingleServiceRejectsMemoryBroker(t *testing.T) {
	for _, sub := range []string{"meetings", "users"} {
		t.Run(sub, func(t *testing.T) {
			useTempDatabase(t)
			t.Setenv("SCHEDULER_BROKER", "memory")

			_, _, err := executeCommand(t, sub)
			if !errors.Is(err, errMemoryBrokerSplit) {
				t.Fatalf("expected memory broker rejection, got %v", err)
			}
		})
	}
}

func TestRunAll(t *testing.T) {
	t.Run("first failure cancels the rest", func(t *testing.T) {
		boom := errors.New("boom")
		var stopped atomic.Bool

		err := runAll(context.Background(),
			func(ctx context.Context) error {
				<-ctx.Done()
				stopped.Store(true)
				return nil
			},
			func(context.Context) error { return boom },
		)
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if !stopped.Load() {
			t.Fatal("expected the long running task to be cancelled")
		}
	})

	t.Run("cancellation stops every task", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := runAll(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	})
}
