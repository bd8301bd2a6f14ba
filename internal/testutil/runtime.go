package testutil

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/p-arndt/compilerz/internal/runtime"
)

// FakeDriver is an in-memory runtime.Driver. Files copied in are unpacked
// into Files and every Exec yields a FakeProcess the test drives.
type FakeDriver struct {
	mu sync.Mutex

	CreateErr error
	StopErr   error
	CopyErr   error
	ExecErr   error

	// ExecStarted, when set, receives a value as Exec begins. ExecGate, when
	// set, holds Exec until it is closed.
	ExecStarted chan struct{}
	ExecGate    chan struct{}

	Sandboxes map[string]runtime.CreateOpts
	Stopped   []string
	Files     map[string]map[string][]byte // handle -> name -> content
	Commands  [][]string

	procs chan *FakeProcess
	seq   int
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		Sandboxes: make(map[string]runtime.CreateOpts),
		Files:     make(map[string]map[string][]byte),
		procs:     make(chan *FakeProcess, 16),
	}
}

func (d *FakeDriver) Create(ctx context.Context, opts runtime.CreateOpts) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CreateErr != nil {
		return "", d.CreateErr
	}
	d.seq++
	handle := fmt.Sprintf("sandbox-%d", d.seq)
	d.Sandboxes[handle] = opts
	return handle, nil
}

func (d *FakeDriver) Stop(ctx context.Context, handle string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StopErr != nil {
		return d.StopErr
	}
	if _, ok := d.Sandboxes[handle]; !ok {
		return fmt.Errorf("%w: %s", runtime.ErrNotFound, handle)
	}
	delete(d.Sandboxes, handle)
	d.Stopped = append(d.Stopped, handle)
	return nil
}

func (d *FakeDriver) CopyTo(ctx context.Context, handle, dir string, archive io.Reader) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CopyErr != nil {
		return d.CopyErr
	}
	if _, ok := d.Sandboxes[handle]; !ok {
		return fmt.Errorf("%w: %s", runtime.ErrNotFound, handle)
	}
	if d.Files[handle] == nil {
		d.Files[handle] = make(map[string][]byte)
	}
	tr := tar.NewReader(archive)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		d.Files[handle][hdr.Name] = data
	}
}

func (d *FakeDriver) Exec(ctx context.Context, handle string, cmd []string) (runtime.Process, error) {
	if d.ExecStarted != nil {
		d.ExecStarted <- struct{}{}
	}
	if d.ExecGate != nil {
		<-d.ExecGate
	}
	d.mu.Lock()
	if d.ExecErr != nil {
		d.mu.Unlock()
		return nil, d.ExecErr
	}
	if _, ok := d.Sandboxes[handle]; !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", runtime.ErrNotFound, handle)
	}
	d.Commands = append(d.Commands, cmd)
	d.mu.Unlock()

	p := NewFakeProcess()
	d.procs <- p
	return p, nil
}

func (d *FakeDriver) Ping(ctx context.Context) error { return nil }
func (d *FakeDriver) Close() error                   { return nil }

// NextProcess returns the process created by the next Exec.
func (d *FakeDriver) NextProcess(timeout time.Duration) (*FakeProcess, error) {
	select {
	case p := <-d.procs:
		return p, nil
	case <-time.After(timeout):
		return nil, errors.New("no process started")
	}
}

// FileContent returns what was copied as name into handle.
func (d *FakeDriver) FileContent(handle, name string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.Files[handle][name]
	return data, ok
}

// Live returns a copy of the sandboxes that have been created and not stopped.
func (d *FakeDriver) Live() map[string]runtime.CreateOpts {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]runtime.CreateOpts, len(d.Sandboxes))
	for h, opts := range d.Sandboxes {
		out[h] = opts
	}
	return out
}

func (d *FakeDriver) StoppedHandles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.Stopped...)
}

// FakeProcess is a runtime.Process whose output and exit the test controls.
type FakeProcess struct {
	out *io.PipeReader
	w   *io.PipeWriter

	mu     sync.Mutex
	input  bytes.Buffer
	closed bool

	exit chan int
}

func NewFakeProcess() *FakeProcess {
	r, w := io.Pipe()
	return &FakeProcess{out: r, w: w, exit: make(chan int, 1)}
}

func (p *FakeProcess) Read(b []byte) (int, error) { return p.out.Read(b) }

func (p *FakeProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.input.Write(b)
}

func (p *FakeProcess) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.out.CloseWithError(io.ErrClosedPipe)
	return nil
}

func (p *FakeProcess) Wait(ctx context.Context) (int, error) {
	select {
	case code := <-p.exit:
		return code, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Emit writes output and blocks until it has been read.
func (p *FakeProcess) Emit(s string) error {
	_, err := p.w.Write([]byte(s))
	return err
}

// Exit ends the output and reports code from Wait.
func (p *FakeProcess) Exit(code int) {
	p.exit <- code
	p.w.Close()
}

func (p *FakeProcess) Input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

func (p *FakeProcess) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
