package supervisor

import (
	"bytes"
	"os/exec"
	"time"
)

// process is the runtime handle for one route's backend. It never escapes
// the supervisor; other components only see derived facts through the
// Supervisor API.
type process struct {
	cmd       *exec.Cmd
	startTime time.Time
	stderr    *bytes.Buffer

	// exited is closed by the wait goroutine once the process is reaped.
	exited  chan struct{}
	exitErr error
}

func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// stderrOutput returns captured stderr. Only safe to call after exited is
// closed; the wait goroutine has finished all pipe writes by then.
func (p *process) stderrOutput() string {
	return p.stderr.String()
}
