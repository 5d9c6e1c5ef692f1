package mapprovider

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// Recorder is an in-memory Sink. It backs dry runs and tests.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
	failOps  map[string]bool
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{failOps: make(map[string]bool)}
}

// FailOp makes every later Send of op return an error.
func (r *Recorder) FailOp(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOps[op] = true
}

func (r *Recorder) Send(_ context.Context, cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOps[cmd.Op] {
		return eris.Errorf("recorder: %s rejected", cmd.Op)
	}
	r.commands = append(r.commands, cmd)
	return nil
}

// Commands returns a copy of everything sent so far.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Ops returns the op names sent so far, in order.
func (r *Recorder) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]string, len(r.commands))
	for i, c := range r.commands {
		ops[i] = c.Op
	}
	return ops
}

// Count returns how many commands with op were sent.
func (r *Recorder) Count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.commands {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset drops the recorded commands.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}
