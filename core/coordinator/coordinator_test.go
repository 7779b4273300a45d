package coordinator_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/config"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/coordinator"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/latch"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/record"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/clock"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/sem"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/shm"
)

func newCoordinator(cfg config.Config, sink *bytes.Buffer) *coordinator.Coordinator {
	log := zap.NewNop()
	read := latch.New("startRead")
	return &coordinator.Coordinator{
		Log:         log,
		Config:      cfg,
		Provisioner: coordinator.Memory{},
		Launcher: &coordinator.GoroutineLauncher{
			Log:    log,
			Config: cfg,
			Clock:  &clock.SystemClock{Log: log},
			Read:   read,
		},
		Read: read,
		Sink: sink,
	}
}

func rowIndexes(t *testing.T, out string) []int {
	t.Helper()
	var rows []int
	for _, line := range strings.SplitAfter(out, "\n") {
		if line == "" {
			continue
		}
		rec, err := record.Decode([]byte(line))
		require.NoError(t, err, "line %q", line)
		rows = append(rows, rec.RowIndex)
	}
	sort.Ints(rows)
	return rows
}

func TestSimulate(t *testing.T) {
	var tests = []struct {
		name                    string
		total, chunk, producers int
		wait                    string
		mode                    string
		graceMS                 int
	}{
		{"two chunks", 150, 75, 2, config.LatchWaitSpin, config.TurnModeAlternating, 0},
		{"defaults", 1000, 75, 2, config.LatchWaitBlock, config.TurnModeAlternating, 0},
		{"uneven boundary", 100, 30, 2, config.LatchWaitSpin, config.TurnModeAlternating, 0},
		{"three producers", 500, 40, 3, config.LatchWaitBlock, config.TurnModeAlternating, 0},
		{"single producer", 20, 7, 1, config.LatchWaitBlock, config.TurnModeAlternating, 0},
		// The producer left holding no turn is killed after the grace period.
		{"asymmetric", 150, 75, 2, config.LatchWaitBlock, config.TurnModeAsymmetric, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.mode == config.TurnModeAsymmetric && raceEnabled {
				t.Skip("asymmetric mode lets two producers write rows at once")
			}
			cfg := config.Default()
			cfg.TotalRecords = tt.total
			cfg.ChunkSize = tt.chunk
			cfg.Producers = tt.producers
			cfg.LatchWait = tt.wait
			cfg.TurnMode = tt.mode
			if tt.graceMS > 0 {
				cfg.ShutdownGraceMS = tt.graceMS
			}
			require.NoError(t, cfg.Validate())

			var out bytes.Buffer
			c := newCoordinator(cfg, &out)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			st, err := c.Run(ctx)
			require.NoError(t, err)
			require.Equal(t, tt.total, st.Records)
			require.Zero(t, st.DecodeErrors)
			require.Equal(t, coordinator.Done, c.Phase())

			require.Equal(t, tt.total, strings.Count(out.String(), "\n"))
			rows := rowIndexes(t, out.String())
			require.Len(t, rows, tt.total)
			for i, r := range rows {
				require.Equal(t, i+1, r)
			}
		})
	}
}

type countingLauncher struct {
	launched int
	fail     error
	handles  []*fakeHandle
}

func (l *countingLauncher) Launch(ctx context.Context, t coordinator.Target) (coordinator.Handle, error) {
	if l.fail != nil && l.launched == 1 {
		return nil, l.fail
	}
	l.launched++
	h := newFakeHandle()
	l.handles = append(l.handles, h)
	return h, nil
}

type fakeHandle struct {
	exit   chan struct{}
	killed bool
}

func newFakeHandle() *fakeHandle { return &fakeHandle{exit: make(chan struct{})} }

func (h *fakeHandle) Start() error { return nil }

func (h *fakeHandle) Wait() error {
	<-h.exit
	return nil
}

func (h *fakeHandle) Kill() error {
	if !h.killed {
		h.killed = true
		close(h.exit)
	}
	return nil
}

func (h *fakeHandle) String() string { return "fake producer" }

func TestSegmentCollisionAbortsBeforeLaunch(t *testing.T) {
	if _, err := os.Stat("/dev/shm"); err != nil {
		t.Skipf("/dev/shm unavailable: %v", err)
	}
	name := "shmturn-test-" + uuid.NewString()
	seg, err := shm.Create(name, 1, 64)
	if errors.Is(err, shm.ErrUnsupported) {
		t.Skip(err)
	}
	require.NoError(t, err)
	defer func() { _ = shm.Unlink(name) }()
	defer seg.Close()

	cfg := config.Default()
	cfg.SegmentName = name
	l := &countingLauncher{}
	c := newCoordinator(cfg, &bytes.Buffer{})
	c.Provisioner = coordinator.System{}
	c.Launcher = l

	_, err = c.Run(context.Background())
	require.ErrorIs(t, err, coordinator.ErrProvision)
	require.ErrorIs(t, err, os.ErrExist)
	require.Zero(t, l.launched)
	require.Equal(t, coordinator.Idle, c.Phase())
}

func TestSemaphoreCollisionAbortsBeforeLaunch(t *testing.T) {
	if _, err := os.Stat("/dev/shm"); err != nil {
		t.Skipf("/dev/shm unavailable: %v", err)
	}
	key := 0x53550000 | os.Getpid()&0xffff
	set, err := sem.Create(key, 3)
	if errors.Is(err, sem.ErrUnsupported) || errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EPERM) {
		t.Skip(err)
	}
	require.NoError(t, err)
	defer set.Remove()

	cfg := config.Default()
	cfg.SemKey = key
	cfg.SegmentName = "shmturn-test-" + uuid.NewString()
	l := &countingLauncher{}
	c := newCoordinator(cfg, &bytes.Buffer{})
	c.Provisioner = coordinator.System{}
	c.Launcher = l

	_, err = c.Run(context.Background())
	require.ErrorIs(t, err, coordinator.ErrProvision)
	require.ErrorIs(t, err, unix.EEXIST)
	require.Zero(t, l.launched)

	// The segment created before the semaphore failure is gone.
	_, err = shm.Open(cfg.SegmentName, cfg.TotalRecords, cfg.RecordWidth)
	require.ErrorIs(t, err, os.ErrNotExist)
}

type recordingProvisioner struct {
	coordinator.Memory
	released int
}

func (p *recordingProvisioner) Release(seg *shm.Segment, set sem.Set) error {
	p.released++
	return p.Memory.Release(seg, set)
}

type undersizedProvisioner struct {
	recordingProvisioner
}

func (p *undersizedProvisioner) Provision(cfg config.Config, slots int) (*shm.Segment, sem.Set, error) {
	return shm.NewMemory(1, cfg.RecordWidth), sem.NewMemory(slots), nil
}

func TestUndersizedSegmentAbortsBeforeLaunch(t *testing.T) {
	cfg := config.Default()
	p := &undersizedProvisioner{}
	l := &countingLauncher{}
	c := newCoordinator(cfg, &bytes.Buffer{})
	c.Provisioner = p
	c.Launcher = l

	_, err := c.Run(context.Background())
	require.ErrorIs(t, err, coordinator.ErrProvision)
	require.Zero(t, l.launched)
	require.Equal(t, 1, p.released)
	require.Equal(t, coordinator.Idle, c.Phase())
}

func TestLaunchFailureKillsLaunched(t *testing.T) {
	cfg := config.Default()
	p := &recordingProvisioner{}
	l := &countingLauncher{fail: errors.New("fork failed")}
	c := newCoordinator(cfg, &bytes.Buffer{})
	c.Provisioner = p
	c.Launcher = l

	_, err := c.Run(context.Background())
	require.ErrorIs(t, err, coordinator.ErrLaunch)
	require.Equal(t, 1, l.launched)
	require.True(t, l.handles[0].killed)
	require.Equal(t, 1, p.released)
}

type exitingLauncher struct{}

func (exitingLauncher) Launch(ctx context.Context, t coordinator.Target) (coordinator.Handle, error) {
	h := newFakeHandle()
	_ = h.Kill()
	return h, nil
}

func TestProducersExitWithoutCompletion(t *testing.T) {
	cfg := config.Default()
	cfg.ShutdownGraceMS = 10
	var out bytes.Buffer
	c := newCoordinator(cfg, &out)
	c.Launcher = exitingLauncher{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := c.Run(ctx)
	require.ErrorIs(t, err, coordinator.ErrProducersExited)
	require.Zero(t, out.Len())
	require.Equal(t, coordinator.Writing, c.Phase())
}
