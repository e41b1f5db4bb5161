// Package supervisor owns the backend subprocess lifecycle for every route:
// start, liveness confirmation, graceful and forced stop, restart, and
// health reporting. Each backend runs as a separate OS process in its own
// session for fault isolation.
package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ttymux/ttymux/internal/dynargs"
	"github.com/ttymux/ttymux/internal/logutil"
	"github.com/ttymux/ttymux/internal/portalloc"
	"github.com/ttymux/ttymux/internal/routes"
)

const (
	startupCheckInterval = 100 * time.Millisecond
	startupTimeout       = 2 * time.Second
	startupTimeoutDebug  = 4 * time.Second

	stopGracePeriod = 5 * time.Second
	stopKillPeriod  = 1 * time.Second

	// portRecheckDelay gives the OS time to release a port after the
	// best-effort kill of a leftover occupant.
	portRecheckDelay = 1 * time.Second
)

// Supervisor manages one backend process per configured route. Routes are
// independent: one route's failure never blocks or corrupts another's
// state. Start and stop are synchronous and bounded.
type Supervisor struct {
	table *routes.Table
	store *dynargs.Store
	debug bool

	mu    sync.Mutex
	procs map[string]*process
	// starting reserves routes whose launch is in flight, so a concurrent
	// Start cannot slip past the already-running check and orphan the
	// first process.
	starting map[string]bool
}

// New creates a supervisor over the given route table. store may be nil
// when no dynamic routes are configured.
func New(table *routes.Table, store *dynargs.Store, debug bool) *Supervisor {
	return &Supervisor{
		table:    table,
		store:    store,
		debug:    debug,
		procs:    make(map[string]*process),
		starting: make(map[string]bool),
	}
}

// StartAll starts every configured route in configuration order. Per-route
// failures are collected and returned joined; remaining routes still start.
// The caller decides whether to abort or continue degraded.
func (s *Supervisor) StartAll() error {
	cfgs := s.table.Routes()
	log.Printf("Starting %d backend processes", len(cfgs))
	var errs []error
	for _, cfg := range cfgs {
		if err := s.Start(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start launches the backend for one route and confirms it is alive before
// returning. It fails with *AlreadyRunningError when the route is already
// tracked as running, with *StartupError when the process exits before
// confirmation (carrying its stderr) or cannot launch, and with
// *StartupTimeoutError when the deadline elapses with neither signal.
func (s *Supervisor) Start(cfg *routes.Config) error {
	routePath := cfg.RoutePath

	s.mu.Lock()
	if existing, ok := s.procs[routePath]; ok && existing.alive() {
		s.mu.Unlock()
		return &AlreadyRunningError{Route: routePath}
	}
	if s.starting[routePath] {
		s.mu.Unlock()
		return &AlreadyRunningError{Route: routePath}
	}
	s.starting[routePath] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.starting, routePath)
		s.mu.Unlock()
	}()

	if cfg.Port == 0 {
		return &StartupError{Route: routePath, Err: errors.New("no port allocated")}
	}

	// A foreign listener on our port means a leftover backend from a
	// previous run. Try the best-effort kill exactly once, then give up.
	if portalloc.InUse("127.0.0.1", cfg.Port) {
		killPortOccupant(cfg.Port)
		time.Sleep(portRecheckDelay)
		if portalloc.InUse("127.0.0.1", cfg.Port) {
			return &StartupError{
				Route: routePath,
				Err:   fmt.Errorf("port %d still in use after killing leftover process", cfg.Port),
			}
		}
	}

	argv, err := s.buildArgv(cfg)
	if err != nil {
		return &StartupError{Route: routePath, Err: err}
	}

	log.Printf("Starting backend for route %s: %v", logutil.SanitizeForLog(routePath), argv)

	stderr := &bytes.Buffer{}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = stderr
	// New session so signals delivered to the supervisor's group are not
	// inherited, and so the whole backend tree can be signaled at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return &StartupError{Route: routePath, Err: err}
	}

	proc := &process{
		cmd:       cmd,
		startTime: time.Now(),
		stderr:    stderr,
		exited:    make(chan struct{}),
	}
	go func() {
		proc.exitErr = cmd.Wait()
		close(proc.exited)
	}()

	s.mu.Lock()
	s.procs[routePath] = proc
	s.mu.Unlock()

	timeout := startupTimeout
	if s.debug {
		timeout = startupTimeoutDebug
	}
	checks := int(timeout / startupCheckInterval)

	for i := 0; i < checks; i++ {
		select {
		case <-proc.exited:
			s.remove(routePath, proc)
			out := proc.stderrOutput()
			log.Printf("Backend for route %s exited during startup: %s",
				logutil.SanitizeForLog(routePath), logutil.SanitizeForLog(out))
			return &StartupError{Route: routePath, Stderr: out, Err: proc.exitErr}
		case <-time.After(startupCheckInterval):
		}
		if proc.alive() {
			log.Printf("Backend started for route %s (pid %d, port %d)",
				logutil.SanitizeForLog(routePath), proc.pid(), cfg.Port)
			return nil
		}
	}

	// Neither confirmed alive nor observed dead before the deadline.
	s.remove(routePath, proc)
	s.signalGroup(proc, syscall.SIGKILL)
	return &StartupTimeoutError{Route: routePath, Timeout: timeout}
}

// buildArgv assembles the process argv. Dynamic routes launch through a
// generated wrapper that picks up runtime arguments; static routes launch
// the configured command directly.
func (s *Supervisor) buildArgv(cfg *routes.Config) ([]string, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("empty backend command")
	}
	full := append(append([]string{}, cfg.Command...), cfg.Args...)
	if !cfg.Dynamic {
		return full, nil
	}
	if s.store == nil {
		return nil, errors.New("dynamic route configured without a parameter store")
	}
	wrapper, err := s.store.CreateWrapper(cfg.RoutePath, full)
	if err != nil {
		return nil, err
	}
	return []string{wrapper}, nil
}

// Stop terminates the backend for a route. Calling it on a route that was
// never started, or whose process already died, is a no-op. The process
// group gets SIGTERM, then SIGKILL after the grace period; the handle is
// always removed regardless of which path was taken.
func (s *Supervisor) Stop(routePath string) error {
	routePath = routes.NormalizePath(routePath)

	s.mu.Lock()
	proc, ok := s.procs[routePath]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.procs, routePath)
	s.mu.Unlock()

	log.Printf("Stopping backend for route %s (pid %d)", logutil.SanitizeForLog(routePath), proc.pid())

	s.signalGroup(proc, syscall.SIGTERM)

	select {
	case <-proc.exited:
	case <-time.After(stopGracePeriod):
		log.Printf("Backend for route %s did not exit gracefully, sending SIGKILL", logutil.SanitizeForLog(routePath))
		s.signalGroup(proc, syscall.SIGKILL)
		select {
		case <-proc.exited:
		case <-time.After(stopKillPeriod):
			// Process is stuck or already gone; nothing more to do.
		}
	}
	return nil
}

// signalGroup signals the backend's whole process group. Races with an
// already-dead process are expected and swallowed.
func (s *Supervisor) signalGroup(proc *process, sig syscall.Signal) {
	pid := proc.pid()
	if pid == 0 {
		return
	}
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		log.Printf("Failed to signal process group %d with %v: %v", pid, sig, err)
	}
}

// Restart stops then starts a route's backend. If the start fails the route
// ends up stopped, never half-initialized.
func (s *Supervisor) Restart(routePath string) error {
	cfg := s.table.Lookup(routePath)
	if cfg == nil {
		return &routes.NotFoundError{Path: routePath}
	}
	if err := s.Stop(routePath); err != nil {
		return err
	}
	return s.Start(cfg)
}

// StopAll stops every tracked backend. It always runs to completion: errors
// are logged and suppressed so one stuck route cannot abort the batch.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	paths := make([]string, 0, len(s.procs))
	for routePath := range s.procs {
		paths = append(paths, routePath)
	}
	s.mu.Unlock()

	log.Printf("Stopping all backend processes (%d tracked)", len(paths))
	for _, routePath := range paths {
		if err := s.Stop(routePath); err != nil {
			log.Printf("Error stopping backend for route %s: %v", logutil.SanitizeForLog(routePath), err)
		}
	}
}

// IsRunning reports whether a route's backend is tracked and alive.
func (s *Supervisor) IsRunning(routePath string) bool {
	s.mu.Lock()
	proc, ok := s.procs[routes.NormalizePath(routePath)]
	s.mu.Unlock()
	return ok && proc.alive()
}

// Uptime returns how long a route's backend has been running, or false when
// it is not running.
func (s *Supervisor) Uptime(routePath string) (time.Duration, bool) {
	s.mu.Lock()
	proc, ok := s.procs[routes.NormalizePath(routePath)]
	s.mu.Unlock()
	if !ok || !proc.alive() {
		return 0, false
	}
	return time.Since(proc.startTime), true
}

// RouteHealth is one route's entry in a health snapshot.
type RouteHealth struct {
	RoutePath string   `json:"route_path"`
	Title     string   `json:"title,omitempty"`
	Status    string   `json:"status"`
	Uptime    *float64 `json:"uptime"`
	Port      int      `json:"port"`
	PID       *int     `json:"pid"`
}

// Report is a JSON-serializable snapshot of supervisor state, intended to
// back an HTTP health endpoint.
type Report struct {
	Routes       []RouteHealth `json:"routes"`
	Mounting     string        `json:"mounting"`
	ProcessCount int           `json:"process_count"`
}

// Health reports every configured route's status from supervisor-local
// bookkeeping only; it never touches the network and reflects state at the
// instant of the call.
func (s *Supervisor) Health() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := Report{Mounting: "non-root"}
	if s.table.IsRootMounted() {
		report.Mounting = "root"
	}

	for _, cfg := range s.table.Routes() {
		entry := RouteHealth{
			RoutePath: cfg.RoutePath,
			Title:     cfg.Title,
			Status:    "stopped",
			Port:      cfg.Port,
		}
		if proc, ok := s.procs[cfg.RoutePath]; ok && proc.alive() {
			entry.Status = "running"
			uptime := time.Since(proc.startTime).Seconds()
			entry.Uptime = &uptime
			pid := proc.pid()
			entry.PID = &pid
			report.ProcessCount++
		}
		report.Routes = append(report.Routes, entry)
	}
	return report
}

// remove drops a route's handle only if it still points at the same
// process, so a concurrent restart is not clobbered.
func (s *Supervisor) remove(routePath string, proc *process) {
	s.mu.Lock()
	if cur, ok := s.procs[routePath]; ok && cur == proc {
		delete(s.procs, routePath)
	}
	s.mu.Unlock()
}
