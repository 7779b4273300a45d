package coordinator

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/config"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/sem"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/shm"
)

const segmentNamePrefix = "shmturn-"

// Provisioner creates and destroys the segment and semaphore set of a run.
type Provisioner interface {
	Provision(cfg config.Config, slots int) (*shm.Segment, sem.Set, error)
	Release(seg *shm.Segment, set sem.Set) error
}

// Memory provisions process-local resources for in-process runs.
type Memory struct{}

func (Memory) Provision(cfg config.Config, slots int) (*shm.Segment, sem.Set, error) {
	return shm.NewMemory(cfg.TotalRecords, cfg.RecordWidth), sem.NewMemory(slots), nil
}

func (Memory) Release(seg *shm.Segment, set sem.Set) error {
	return multierr.Append(seg.Close(), set.Remove())
}

// System provisions a POSIX named segment and a System V semaphore set,
// both created exclusively.
type System struct{}

func SegmentName(cfg config.Config) string {
	if cfg.SegmentName != "" {
		return cfg.SegmentName
	}
	return segmentNamePrefix + uuid.NewString()
}

func (System) Provision(cfg config.Config, slots int) (*shm.Segment, sem.Set, error) {
	name := SegmentName(cfg)
	seg, err := shm.Create(name, cfg.TotalRecords, cfg.RecordWidth)
	if err != nil {
		return nil, nil, err
	}
	set, err := sem.Create(cfg.SemKey, slots)
	if err != nil {
		err = fmt.Errorf("semget key %#x: %w", cfg.SemKey, err)
		err = multierr.Append(err, seg.Close())
		err = multierr.Append(err, shm.Unlink(name))
		return nil, nil, err
	}
	return seg, set, nil
}

func (System) Release(seg *shm.Segment, set sem.Set) error {
	err := seg.Close()
	err = multierr.Append(err, shm.Unlink(seg.Name()))
	err = multierr.Append(err, set.Remove())
	return err
}
