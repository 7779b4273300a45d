// Package proc launches producers as child processes of the current binary.
//
// A child receives its configuration in the environment and a pipe on fd 3.
// It writes one byte to the pipe once its signal handlers are installed; the
// parent does not signal it before that.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/config"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/coordinator"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/turn"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/sem"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/signals"
)

const (
	// Subcommand is the hidden subcommand a child is started with.
	Subcommand = "producer"

	readyFd      = 3
	readyTimeout = 10 * time.Second
)

var (
	ErrNotReady    = errors.New("producer exited before becoming ready")
	ErrNoSemaphore = errors.New("process launcher needs a System V semaphore set")
)

type Launcher struct {
	Log    *zap.Logger
	Config config.Config
	// Path defaults to the running executable.
	Path string
	// Args are appended after the producer arguments.
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

type child struct {
	index int
	cmd   *exec.Cmd
	start signals.ProcessNotifier
}

func (l *Launcher) Launch(ctx context.Context, t coordinator.Target) (coordinator.Handle, error) {
	set, ok := t.Set.(*sem.SysV)
	if !ok {
		return nil, ErrNoSemaphore
	}
	path := l.Path
	if path == "" {
		var err error
		path, err = os.Executable()
		if err != nil {
			return nil, err
		}
	}

	cfg := l.Config
	cfg.SegmentName = t.Segment.Name()
	raw, err := cfg.Encode()
	if err != nil {
		return nil, err
	}

	args := []string{Subcommand,
		"-index", strconv.Itoa(t.Index),
		"-semid", strconv.Itoa(set.ID()),
	}
	cmd := exec.Command(path, append(args, l.Args...)...)
	cmd.Env = append(os.Environ(), config.EnvKey+"="+string(raw))
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	cmd.ExtraFiles = []*os.File{w}
	err = cmd.Start()
	w.Close()
	if err != nil {
		return nil, err
	}

	c := &child{
		index: t.Index,
		cmd:   cmd,
		start: signals.ProcessNotifier{Pid: cmd.Process.Pid, Signal: signals.StartWrite},
	}
	err = awaitReady(ctx, r)
	if err != nil {
		_ = cmd.Process.Kill()
		werr := cmd.Wait()
		return nil, fmt.Errorf("%s: %w (%v)", c, err, werr)
	}
	l.Log.Debug("producer ready", zap.Int("index", t.Index), zap.Int("pid", cmd.Process.Pid))
	return c, nil
}

func awaitReady(ctx context.Context, r *os.File) error {
	deadline := time.Now().Add(readyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	err := r.SetReadDeadline(deadline)
	if err != nil {
		return err
	}
	var b [1]byte
	_, err = io.ReadFull(r, b[:])
	if errors.Is(err, io.EOF) {
		return ErrNotReady
	}
	return err
}

func (c *child) Start() error { return c.start.Notify() }

// Wait wraps ErrKilled only when the child died of SIGKILL, so a child that
// exited on its own just before Kill keeps its exit status.
func (c *child) Wait() error {
	err := c.cmd.Wait()
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGKILL {
			return fmt.Errorf("%w: %w", coordinator.ErrKilled, err)
		}
	}
	return err
}

func (c *child) Kill() error { return c.cmd.Process.Kill() }

func (c *child) String() string {
	return fmt.Sprintf("producer %d (pid %d)", c.index, c.cmd.Process.Pid)
}

// Ready reports readiness to the parent. It is a no-op if the process was
// not started by a Launcher.
func Ready() error {
	var st unix.Stat_t
	if err := unix.Fstat(readyFd, &st); err != nil || st.Mode&unix.S_IFMT != unix.S_IFIFO {
		return nil
	}
	f := os.NewFile(readyFd, "ready")
	defer f.Close()
	_, err := f.Write([]byte{1})
	return err
}

// Attach opens the semaphore set the parent passed on the command line.
func Attach(semID int, l turn.Layout) *sem.SysV {
	return sem.Attach(semID, l.Slots())
}
