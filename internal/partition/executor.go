package partition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sigreer/jbodplan/internal/disk"
	"github.com/sigreer/jbodplan/internal/runner"
)

// Steps of partitioning one disk, in execution order
const (
	StepPlan        = "plan"
	StepMountpoints = "mountpoints"
	StepUnmount     = "umount"
	StepFstab       = "fstab"
	StepRmdir       = "rmdir"
	StepLabel       = "mklabel"
	StepPartition   = "mkpart"
)

// DiskError reports the step at which partitioning a disk stopped
type DiskError struct {
	Node string
	Disk string
	Step string
	Err  error
}

func (e *DiskError) Error() string {
	return fmt.Sprintf("%s:/dev/%s: %s: %v", e.Node, e.Disk, e.Step, e.Err)
}

func (e *DiskError) Unwrap() error {
	return e.Err
}

// Outcome is the result of partitioning one disk
type Outcome struct {
	Node       string
	Disk       string
	Partitions int
	Duration   time.Duration
	// Err is a *DiskError or nil
	Err error
}

// Observer is notified after each disk. It may be called concurrently.
type Observer func(Outcome)

// Options configures an Executor
type Options struct {
	// Concurrency bounds how many disks are partitioned at once, default 1
	Concurrency int
	Label       string
	Alignment   string
	Observer    Observer
}

// Executor applies a DeviceMap to its nodes. Partitioning is destructive:
// mounted filesystems on the planned disks are unmounted, removed from
// /etc/fstab and their mountpoints deleted.
type Executor struct {
	runner runner.Runner
	opts   Options
	logger zerolog.Logger
}

// NewExecutor creates an executor
func NewExecutor(r runner.Runner, opts Options, logger zerolog.Logger) *Executor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Label == "" {
		opts.Label = "gpt"
	}
	if opts.Alignment == "" {
		opts.Alignment = "optimal"
	}
	return &Executor{
		runner: r,
		opts:   opts,
		logger: logger.With().Str("component", "partition").Logger(),
	}
}

type job struct {
	node string
	disk *disk.Disk
	// cleanup serializes mountpoint removal on one node, since every disk
	// of the node edits the same /etc/fstab
	cleanup *sync.Mutex
}

// Execute partitions every disk of dm as user, nodes and disks in sorted
// order. A failing disk does not stop the others; all failures are
// returned joined.
func (e *Executor) Execute(ctx context.Context, dm *disk.DeviceMap, user string) error {
	var jobs []job
	for _, nodeName := range dm.SortedNodeNames() {
		node := dm.Nodes[nodeName]
		cleanup := new(sync.Mutex)
		for _, diskName := range node.SortedDiskNames() {
			jobs = append(jobs, job{node: nodeName, disk: node.Disks[diskName], cleanup: cleanup})
		}
	}

	errs := make([]error, len(jobs))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.opts.Concurrency)

	for i, j := range jobs {
		g.Go(func() error {
			start := time.Now()
			err := e.partitionDisk(ctx, runner.Target{Host: j.node, User: user}, j.disk, j.cleanup)
			errs[i] = err

			if e.opts.Observer != nil {
				mu.Lock()
				e.opts.Observer(Outcome{
					Node:       j.node,
					Disk:       j.disk.Name,
					Partitions: len(j.disk.Partitions),
					Duration:   time.Since(start),
					Err:        err,
				})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (e *Executor) partitionDisk(ctx context.Context, target runner.Target, d *disk.Disk, cleanup *sync.Mutex) error {
	fail := func(step string, err error) error {
		e.logger.Error().Err(err).Str("node", target.Host).Str("disk", d.Name).Str("step", step).Msg("partitioning failed")
		return &DiskError{Node: target.Host, Disk: d.Name, Step: step, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return fail(StepPlan, err)
	}

	ranges, err := Ranges(d)
	if err != nil {
		return fail(StepPlan, err)
	}
	device := "/dev/" + d.Name
	log := e.logger.With().Str("node", target.Host).Str("disk", d.Name).Logger()

	mountpoints, err := runner.Output(ctx, e.runner, target, fmt.Sprintf("Could not determine mountpoints for '%s'", d.Name),
		"lsblk", "--ascii", "--noheadings", "--output", "mountpoint", device)
	if err != nil {
		return fail(StepMountpoints, err)
	}
	if step, err := e.removeMountpoints(ctx, target, mountpoints, cleanup, log); err != nil {
		return fail(step, err)
	}

	if err := CreateLabel(ctx, e.runner, target, device, e.opts.Label); err != nil {
		return fail(StepLabel, err)
	}
	for _, r := range ranges {
		log.Info().Int("partition", r.Index).Int("start", r.Start).Int("end", r.End).Msg("creating partition")
		if err := CreatePartition(ctx, e.runner, target, device, r.Start, r.End, e.opts.Alignment); err != nil {
			return fail(StepPartition, fmt.Errorf("partition %d: %w", r.Index, err))
		}
	}

	log.Info().Int("partitions", len(ranges)).Msg("disk partitioned")
	return nil
}

// removeMountpoints unmounts every mountpoint in the lsblk listing, drops
// its fstab entry and deletes the directory. It returns the failing step.
func (e *Executor) removeMountpoints(ctx context.Context, target runner.Target, listing string, cleanup *sync.Mutex, log zerolog.Logger) (string, error) {
	var mountpoints []string
	for _, mp := range strings.Split(listing, "\n") {
		if mp = strings.TrimSpace(mp); mp != "" {
			mountpoints = append(mountpoints, mp)
		}
	}
	if len(mountpoints) == 0 {
		return "", nil
	}

	cleanup.Lock()
	defer cleanup.Unlock()
	for _, mp := range mountpoints {
		log.Info().Str("mountpoint", mp).Msg("removing existing mountpoint")

		if _, err := runner.Output(ctx, e.runner, target, fmt.Sprintf("Could not unmount '%s'", mp),
			"umount", "-f", mp); err != nil {
			return StepUnmount, err
		}
		if _, err := runner.Output(ctx, e.runner, target, fmt.Sprintf("Could not remove fstab entry for '%s'", mp),
			"sed", "--in-place", `s|.*\s`+sedEscape(mp)+`\s.*||`, "/etc/fstab"); err != nil {
			return StepFstab, err
		}
		if _, err := runner.Output(ctx, e.runner, target, fmt.Sprintf("Could not remove mount point '%s'", mp),
			"/bin/rmdir", mp); err != nil {
			return StepRmdir, err
		}
	}
	return "", nil
}

// sedEscape escapes characters that are special in a sed basic regular
// expression delimited by '|'.
func sedEscape(s string) string {
	var sb strings.Builder
	for _, c := range s {
		switch c {
		case '\\', '.', '*', '[', ']', '^', '$', '|':
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
