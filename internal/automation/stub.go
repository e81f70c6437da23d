//go:build no_automation

package automation

import (
	"errors"
	"log/slog"
)

var errDisabled = errors.New("automation disabled")

// ErrScriptNotFound is returned when a script does not exist.
var ErrScriptNotFound = errors.New("script not found")

// Manager is a no-op stub when automation is disabled.
type Manager struct{}

// NewManager returns a nil manager when automation is disabled.
func NewManager(_ string, _ *slog.Logger) (*Manager, error) { return nil, nil }

func (m *Manager) List() ([]*Script, error)        { return nil, nil }
func (m *Manager) Get(_ string) (*Script, error)   { return nil, ErrScriptNotFound }
func (m *Manager) Save(s *Script) (*Script, error) { return nil, errDisabled }
func (m *Manager) Delete(_ string) error           { return errDisabled }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a no-op engine when automation is disabled.
func NewEngine(_ Light, _ Controller, _ *Manager, _ *slog.Logger) *Engine {
	return &Engine{}
}

func (e *Engine) Start()                      {}
func (e *Engine) Stop()                       {}
func (e *Engine) Running() int                { return 0 }
func (e *Engine) RunningIDs() []string        { return nil }
func (e *Engine) ReloadScript(_ string) error { return nil }
func (e *Engine) StopScript(_ string)         {}

func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{OK: false, Error: errDisabled.Error()}
}

func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{OK: false, Error: errDisabled.Error()}
}
