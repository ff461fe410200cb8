package transport

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// ProcessRun executes a shell command and captures its standard output as
// the feed bytes. A nonzero exit or spawn failure surfaces the process's
// own error text.
type ProcessRun struct {
	command string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	status   Status
	err      error
	result   []byte
	canceled bool
	done     chan struct{}
}

// NewProcessRun prepares a run of the given shell command string.
func NewProcessRun(command string) *ProcessRun {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessRun{
		command: command,
		ctx:     ctx,
		cancel:  cancel,
		status:  StatusIdle,
		done:    make(chan struct{}),
	}
}

func (p *ProcessRun) Start() {
	p.mu.Lock()
	if p.status != StatusIdle {
		p.mu.Unlock()
		return
	}
	p.status = StatusActive
	p.mu.Unlock()

	go p.run()
}

// Cancel kills the running process.
func (p *ProcessRun) Cancel() {
	p.mu.Lock()
	p.canceled = true
	p.mu.Unlock()
	p.cancel()
}

func (p *ProcessRun) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *ProcessRun) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *ProcessRun) Result() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

func (p *ProcessRun) Done() <-chan struct{} {
	return p.done
}

func (p *ProcessRun) run() {
	defer close(p.done)

	cmd := exec.CommandContext(p.ctx, "sh", "-c", p.command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.canceled {
		p.status = StatusCanceled
		return
	}
	if err != nil {
		p.status = StatusError
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			p.err = fmt.Errorf("%s", msg)
		} else {
			p.err = err
		}
		return
	}

	p.result = stdout.Bytes()
	p.status = StatusReady
}
