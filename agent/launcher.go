package agent

import (
	"context"
	"sync"

	"eidolon/config"
)

// Launcher keeps at most one agent running per process.
type Launcher struct {
	mu    sync.Mutex
	opts  Options
	agent *Agent
}

// NewLauncher returns a launcher that builds agents with opts.
func NewLauncher(opts Options) *Launcher {
	return &Launcher{opts: opts}
}

// Start builds and starts an agent from cfg. It reports false without error
// when cfg disables the agent or one is already running.
func (l *Launcher) Start(ctx context.Context, cfg *config.Config) (bool, error) {
	if cfg != nil && !cfg.Enabled {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.agent != nil && l.agent.Running() {
		return false, nil
	}
	a, err := New(cfg, l.opts)
	if err != nil {
		return false, err
	}
	if err := a.Start(ctx); err != nil {
		return false, err
	}
	l.agent = a
	return true, nil
}

// Stop stops the running agent, if any. Safe to call more than once.
func (l *Launcher) Stop() {
	l.mu.Lock()
	a := l.agent
	l.agent = nil
	l.mu.Unlock()
	if a != nil {
		a.Stop()
	}
}

// Running reports whether an agent is up.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.agent != nil && l.agent.Running()
}

// Agent returns the running agent or nil.
func (l *Launcher) Agent() *Agent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.agent == nil || !l.agent.Running() {
		return nil
	}
	return l.agent
}
