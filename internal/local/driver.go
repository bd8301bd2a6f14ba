// Package local runs sessions as plain host processes under a scratch
// directory. It gives no isolation and exists for development and tests on
// machines without a container daemon.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/moby/go-archive"

	"github.com/p-arndt/compilerz/internal/runtime"
)

var errNoImages = errors.New("local backend does not manage images")

type Driver struct {
	root string

	mu    sync.Mutex
	boxes map[string]*box
}

type box struct {
	dir string

	mu    sync.Mutex
	procs map[*ptyProcess]struct{}
}

// New returns a driver keeping one directory per sandbox under root.
func New(root string) *Driver {
	return &Driver{
		root:  filepath.Join(root, "sandboxes"),
		boxes: make(map[string]*box),
	}
}

func (d *Driver) Ping(ctx context.Context) error {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("sandbox root: %w", err)
	}
	if _, err := exec.LookPath("sh"); err != nil {
		return fmt.Errorf("shell not found: %w", err)
	}
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	handles := make([]string, 0, len(d.boxes))
	for h := range d.boxes {
		handles = append(handles, h)
	}
	d.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := d.Stop(context.Background(), h); err != nil && !errors.Is(err, runtime.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Create makes the sandbox directory. The handle is the session ID.
func (d *Driver) Create(ctx context.Context, opts runtime.CreateOpts) (string, error) {
	if !validHandle(opts.SessionID) {
		return "", fmt.Errorf("invalid session id %q", opts.SessionID)
	}
	dir := filepath.Join(d.root, opts.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sandbox dir: %w", err)
	}

	d.mu.Lock()
	d.boxes[opts.SessionID] = &box{dir: dir, procs: make(map[*ptyProcess]struct{})}
	d.mu.Unlock()

	return opts.SessionID, nil
}

func (d *Driver) Stop(ctx context.Context, handle string) error {
	d.mu.Lock()
	b, ok := d.boxes[handle]
	delete(d.boxes, handle)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", runtime.ErrNotFound, handle)
	}

	b.mu.Lock()
	procs := make([]*ptyProcess, 0, len(b.procs))
	for p := range b.procs {
		procs = append(procs, p)
	}
	b.mu.Unlock()
	for _, p := range procs {
		p.Close()
	}

	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("remove sandbox dir: %w", err)
	}
	return nil
}

func (d *Driver) CopyTo(ctx context.Context, handle, dir string, tarball io.Reader) error {
	b, err := d.lookup(handle)
	if err != nil {
		return err
	}
	rel := strings.TrimPrefix(dir, runtime.WorkDir)
	target := filepath.Join(b.dir, filepath.FromSlash(rel))
	if err := archive.Untar(tarball, target, &archive.TarOptions{NoLchown: true}); err != nil {
		return fmt.Errorf("untar: %w", err)
	}
	return nil
}

// Exec starts cmd in the sandbox directory on a fresh pseudo-terminal.
func (d *Driver) Exec(ctx context.Context, handle string, cmd []string) (runtime.Process, error) {
	if len(cmd) == 0 {
		return nil, errors.New("empty command")
	}
	b, err := d.lookup(handle)
	if err != nil {
		return nil, err
	}

	c := exec.Command(cmd[0], cmd[1:]...)
	c.Dir = b.dir
	c.Env = append(os.Environ(), "TERM=xterm")

	ptmx, err := pty.StartWithSize(c, &pty.Winsize{Rows: runtime.TermRows, Cols: runtime.TermCols})
	if err != nil {
		return nil, fmt.Errorf("pty start: %w", err)
	}

	p := &ptyProcess{ptmx: ptmx, cmd: c, done: make(chan struct{}), owner: b}
	b.mu.Lock()
	b.procs[p] = struct{}{}
	b.mu.Unlock()

	go p.reap()
	return p, nil
}

func (d *Driver) ListManaged(ctx context.Context) ([]runtime.Sandbox, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}

	var result []runtime.Sandbox
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		result = append(result, runtime.Sandbox{
			Handle:    e.Name(),
			SessionID: e.Name(),
			CreatedAt: info.ModTime(),
		})
	}
	return result, nil
}

func (d *Driver) Remove(ctx context.Context, handle string) error {
	if !validHandle(handle) {
		return fmt.Errorf("invalid handle %q", handle)
	}
	if err := d.Stop(ctx, handle); err == nil || !errors.Is(err, runtime.ErrNotFound) {
		return err
	}
	return os.RemoveAll(filepath.Join(d.root, handle))
}

// ImageExists always succeeds: host toolchains stand in for images.
func (d *Driver) ImageExists(ctx context.Context, ref string) (bool, error) {
	return true, nil
}

func (d *Driver) PullImage(ctx context.Context, ref string, progress func(string)) error {
	return errNoImages
}

func (d *Driver) BuildImage(ctx context.Context, ref string, buildContext io.Reader, progress func(string)) error {
	return errNoImages
}

func (d *Driver) lookup(handle string) (*box, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.boxes[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", runtime.ErrNotFound, handle)
	}
	return b, nil
}

func validHandle(h string) bool {
	return h != "" && h != "." && h != ".." && !strings.ContainsAny(h, `/\`)
}

type ptyProcess struct {
	ptmx  *os.File
	cmd   *exec.Cmd
	owner *box

	done     chan struct{}
	exitCode int
	once     sync.Once
}

func (p *ptyProcess) reap() {
	err := p.cmd.Wait()
	p.exitCode = 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		p.exitCode = exitErr.ExitCode()
	} else if err != nil {
		p.exitCode = -1
	}
	close(p.done)
}

// Read maps the EIO a Linux pty master returns once the child side closes to io.EOF.
func (p *ptyProcess) Read(b []byte) (int, error) {
	n, err := p.ptmx.Read(b)
	if err != nil && errors.Is(err, syscall.EIO) {
		return n, io.EOF
	}
	return n, err
}

func (p *ptyProcess) Write(b []byte) (int, error) {
	return p.ptmx.Write(b)
}

func (p *ptyProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.exitCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Close kills the process if it is still running and releases the terminal.
func (p *ptyProcess) Close() error {
	var err error
	p.once.Do(func() {
		select {
		case <-p.done:
		default:
			p.cmd.Process.Kill()
		}
		err = p.ptmx.Close()

		p.owner.mu.Lock()
		delete(p.owner.procs, p)
		p.owner.mu.Unlock()
	})
	return err
}
