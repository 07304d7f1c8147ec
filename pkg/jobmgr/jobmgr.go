// Package jobmgr runs named background jobs with cancellation and status
// callbacks. One job per name; finished jobs remove themselves. No retries,
// no persistence.
package jobmgr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// StatusReporter receives job lifecycle messages:
//
//	running:memory-sweep
//	error:memory-persist:disk full
//	done:memory-sweep
type StatusReporter func(string)

// Manager tracks running jobs by name. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]context.CancelFunc
	Reporter StatusReporter
}

// NewManager creates a Manager. reporter may be nil.
func NewManager(reporter StatusReporter) *Manager {
	return &Manager{
		jobs:     make(map[string]context.CancelFunc),
		Reporter: reporter,
	}
}

// StartAsync runs the job in its own goroutine. A second job under the same
// name is rejected until the first finishes or is stopped.
func (m *Manager) StartAsync(name string, runner func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if _, exists := m.jobs[name]; exists {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("job %q is already running", name)
	}
	m.jobs[name] = cancel
	m.mu.Unlock()

	go func() {
		m.report("running:" + name)
		if err := runner(ctx); err != nil && ctx.Err() == nil {
			m.report("error:" + name + ":" + err.Error())
		} else {
			m.report("done:" + name)
		}
		m.mu.Lock()
		delete(m.jobs, name)
		m.mu.Unlock()
		cancel()
	}()
	return nil
}

// Stop cancels a running job by name.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("job %q not running", name)
	}
	cancel()
	delete(m.jobs, name)
	return nil
}

// StopAll cancels every running job.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, cancel := range m.jobs {
		cancel()
		delete(m.jobs, name)
	}
}

// List returns active job names, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.jobs))
	for name := range m.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Status returns a one-line summary of active jobs.
func (m *Manager) Status() string {
	active := m.List()
	if len(active) == 0 {
		return "No jobs are running."
	}
	return "Running jobs: " + strings.Join(active, ", ")
}

func (m *Manager) report(s string) {
	if m.Reporter != nil {
		m.Reporter(s)
	}
}
