// Package supervisor launches and restarts named role processes with
// bounded-restart back-off and periodic heartbeats. Grounded on a
// registry-with-ticker-driven health-check shape (map+mutex, periodic
// goroutine, stats snapshot), repurposed from a connection pool to a
// role-process registry; LRU eviction does not apply to role processes and
// is dropped.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Status is a RoleProcess's lifecycle state.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusCrashed Status = "crashed"
	StatusError   Status = "error"
)

// RunFunc is a role's body. It should return promptly when ctx is
// cancelled, and return a non-nil error on abnormal exit.
type RunFunc func(ctx context.Context) error

// Config tunes the restart policy and heartbeat cadence for a role.
type Config struct {
	RestartDelay    time.Duration
	MaxRestarts     int
	RestartWindow   time.Duration
	HeartbeatPeriod time.Duration
	ShutdownGrace   time.Duration
}

// DefaultConfig holds the named defaults: 5s restart delay, 10 restarts
// per 5 minute window, 30s heartbeat, 5s shutdown grace.
func DefaultConfig() Config {
	return Config{
		RestartDelay:    5 * time.Second,
		MaxRestarts:     10,
		RestartWindow:   5 * time.Minute,
		HeartbeatPeriod: 30 * time.Second,
		ShutdownGrace:   5 * time.Second,
	}
}

// RoleOverride is one role's entry in an optional roles.yaml file,
// letting an operator tune restart policy per role without a redeploy.
type RoleOverride struct {
	Name            string        `yaml:"name"`
	RestartDelay    time.Duration `yaml:"restartDelay"`
	MaxRestarts     int           `yaml:"maxRestarts"`
	RestartWindow   time.Duration `yaml:"restartWindow"`
	HeartbeatPeriod time.Duration `yaml:"heartbeatPeriod"`
}

// LoadRoleConfig reads an optional roles.yaml file of per-role restart
// policy overrides. A missing file is not an error: the caller falls back
// to DefaultConfig for every role.
func LoadRoleConfig(path string) ([]RoleOverride, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("supervisor: read role config: %w", err)
	}

	var doc struct {
		Roles []RoleOverride `yaml:"roles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("supervisor: parse role config: %w", err)
	}
	return doc.Roles, nil
}

// RoleProcess is the Supervisor's record for one supervised role.
type RoleProcess struct {
	Name            string
	StartedCount    int
	CrashedCount    int
	RestartedCount  int
	Status          Status
	LastError       error
	StartedAt       time.Time
	restartTimes    []time.Time
	run             RunFunc
	cancel          context.CancelFunc
	done            chan struct{}
}

// Heartbeat is one role's periodic status record.
type Heartbeat struct {
	Name   string
	Status Status
	Uptime time.Duration
}

// Supervisor owns the RoleProcess registry exclusively; no other component
// reads or writes it directly.
type Supervisor struct {
	cfg     Config
	roleCfg map[string]Config

	mu    sync.Mutex
	roles map[string]*RoleProcess

	heartbeatStop chan struct{}
}

func New(cfg Config) *Supervisor {
	return &Supervisor{cfg: cfg, roles: make(map[string]*RoleProcess), roleCfg: make(map[string]Config)}
}

// ApplyOverrides installs per-role restart-policy overrides loaded via
// LoadRoleConfig. Call before Start; roles without an override keep the
// Supervisor's default Config. A per-role HeartbeatPeriod is stored but has
// no effect: heartbeats for all roles follow the Supervisor's own period.
func (s *Supervisor) ApplyOverrides(overrides []RoleOverride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range overrides {
		cfg := s.cfg
		if o.RestartDelay > 0 {
			cfg.RestartDelay = o.RestartDelay
		}
		if o.MaxRestarts > 0 {
			cfg.MaxRestarts = o.MaxRestarts
		}
		if o.RestartWindow > 0 {
			cfg.RestartWindow = o.RestartWindow
		}
		if o.HeartbeatPeriod > 0 {
			cfg.HeartbeatPeriod = o.HeartbeatPeriod
		}
		s.roleCfg[o.Name] = cfg
	}
}

// configFor returns the role's override config if one was applied,
// otherwise the Supervisor's default.
func (s *Supervisor) configFor(name string) Config {
	if cfg, ok := s.roleCfg[name]; ok {
		return cfg
	}
	return s.cfg
}

// Register adds a named role and its body but does not start it; Start
// does.
func (s *Supervisor) Register(name string, run RunFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[name] = &RoleProcess{Name: name, Status: StatusStopped, run: run}
}

// Start launches every registered role as a supervised goroutine and begins
// the heartbeat ticker.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.roles))
	for name := range s.roles {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		s.launch(ctx, name)
	}

	s.heartbeatStop = make(chan struct{})
	go s.heartbeatLoop(ctx)
}

func (s *Supervisor) launch(ctx context.Context, name string) {
	s.mu.Lock()
	role, ok := s.roles[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	roleCtx, cancel := context.WithCancel(ctx)
	role.cancel = cancel
	role.Status = StatusRunning
	role.StartedAt = time.Now()
	role.StartedCount++
	role.done = make(chan struct{})
	run := role.run
	done := role.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		err := run(roleCtx)
		s.handleExit(ctx, name, err)
	}()
}

func (s *Supervisor) handleExit(ctx context.Context, name string, err error) {
	s.mu.Lock()
	role, ok := s.roles[name]
	if !ok {
		s.mu.Unlock()
		return
	}

	if err == nil {
		role.Status = StatusStopped
		s.mu.Unlock()
		return
	}

	roleCfg := s.configFor(name)

	role.LastError = err
	now := time.Now()
	role.restartTimes = append(role.restartTimes, now)
	cutoff := now.Add(-roleCfg.RestartWindow)
	kept := role.restartTimes[:0]
	for _, t := range role.restartTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	role.restartTimes = kept

	if len(role.restartTimes) > roleCfg.MaxRestarts {
		role.Status = StatusCrashed
		s.mu.Unlock()
		log.Printf("❌ supervisor: role %s crashed after exceeding %d restarts in %s: %v",
			name, roleCfg.MaxRestarts, roleCfg.RestartWindow, err)
		return
	}

	role.Status = StatusError
	role.RestartedCount++
	s.mu.Unlock()

	log.Printf("🔄 supervisor: role %s exited (%v), restarting in %s", name, err, roleCfg.RestartDelay)
	select {
	case <-ctx.Done():
		return
	case <-time.After(roleCfg.RestartDelay):
	}
	s.launch(ctx, name)
}

func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.heartbeatStop:
			return
		case <-ticker.C:
			for _, hb := range s.Heartbeats() {
				log.Printf("💓 supervisor: role=%s status=%s uptime=%s", hb.Name, hb.Status, hb.Uptime)
			}
		}
	}
}

// Heartbeats returns a per-role status snapshot.
func (s *Supervisor) Heartbeats() []Heartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Heartbeat, 0, len(s.roles))
	for _, r := range s.roles {
		uptime := time.Duration(0)
		if r.Status == StatusRunning {
			uptime = time.Since(r.StartedAt)
		}
		out = append(out, Heartbeat{Name: r.Name, Status: r.Status, Uptime: uptime})
	}
	return out
}

// Status returns the current lifecycle state of a named role.
func (s *Supervisor) Status(name string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[name]
	if !ok {
		return "", false
	}
	return r.Status, true
}

// Shutdown cancels every role's context and waits up to the shutdown grace
// period for the roles to exit; roles still running after that are logged
// and left running.
func (s *Supervisor) Shutdown() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
	}

	s.mu.Lock()
	var dones []chan struct{}
	for _, r := range s.roles {
		if r.cancel != nil {
			r.cancel()
		}
		if r.done != nil {
			dones = append(dones, r.done)
		}
	}
	s.mu.Unlock()

	deadline := time.After(s.cfg.ShutdownGrace)
	for _, d := range dones {
		select {
		case <-d:
		case <-deadline:
			log.Printf("⚠️ supervisor: shutdown grace period elapsed with roles still running")
			return
		}
	}
}
