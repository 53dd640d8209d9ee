package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleRestartsWithinBudgetInvariant12(t *testing.T) {
	cfg := Config{RestartDelay: 10 * time.Millisecond, MaxRestarts: 3, RestartWindow: time.Minute, HeartbeatPeriod: time.Hour, ShutdownGrace: time.Second}
	s := New(cfg)

	var runs int32
	s.Register("worker", func(ctx context.Context) error {
		n := atomic.AddInt32(&runs, 1)
		if n <= 4 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool {
		status, _ := s.Status("worker")
		return status == StatusCrashed
	}, 2*time.Second, 5*time.Millisecond)

	status, ok := s.Status("worker")
	require.True(t, ok)
	assert.Equal(t, StatusCrashed, status)
}

func TestRoleStopsOnCleanExit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatPeriod = time.Hour
	s := New(cfg)
	s.Register("worker", func(ctx context.Context) error {
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool {
		status, _ := s.Status("worker")
		return status == StatusStopped
	}, time.Second, 5*time.Millisecond)
}

func TestHeartbeatsReportAllRoles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatPeriod = time.Hour
	s := New(cfg)
	s.Register("a", func(ctx context.Context) error { <-ctx.Done(); return nil })
	s.Register("b", func(ctx context.Context) error { <-ctx.Done(); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool {
		return len(s.Heartbeats()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestShutdownStopsRolesWithinGrace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatPeriod = time.Hour
	cfg.ShutdownGrace = time.Second
	s := New(cfg)
	s.Register("worker", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	ctx := context.Background()
	s.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	s.Shutdown()

	status, ok := s.Status("worker")
	require.True(t, ok)
	assert.Equal(t, StatusStopped, status)
}

func TestLoadRoleConfigMissingFileIsNotAnError(t *testing.T) {
	overrides, err := LoadRoleConfig(filepath.Join(t.TempDir(), "missing-roles.yaml"))
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestLoadRoleConfigParsesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	yamlDoc := "roles:\n  - name: account-stream\n    maxRestarts: 2\n    restartDelay: 1ms\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	overrides, err := LoadRoleConfig(path)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, "account-stream", overrides[0].Name)
	assert.Equal(t, 2, overrides[0].MaxRestarts)
}

func TestApplyOverridesTightensRestartBudgetForNamedRole(t *testing.T) {
	cfg := Config{RestartDelay: time.Millisecond, MaxRestarts: 100, RestartWindow: time.Minute, HeartbeatPeriod: time.Hour, ShutdownGrace: time.Second}
	s := New(cfg)
	s.ApplyOverrides([]RoleOverride{{Name: "worker", MaxRestarts: 1}})

	var runs int32
	s.Register("worker", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return errors.New("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool {
		status, _ := s.Status("worker")
		return status == StatusCrashed
	}, 2*time.Second, 5*time.Millisecond)
}
