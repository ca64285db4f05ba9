// Package discovery builds a DeviceMap for a set of hosts by listing their
// block devices and, where disks are controller volumes, asking the
// controller what backs them.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sigreer/jbodplan/internal/blockdev"
	"github.com/sigreer/jbodplan/internal/cache"
	"github.com/sigreer/jbodplan/internal/config"
	"github.com/sigreer/jbodplan/internal/disk"
	"github.com/sigreer/jbodplan/internal/hba"
	"github.com/sigreer/jbodplan/internal/reconcile"
	"github.com/sigreer/jbodplan/internal/runner"
)

// Options configures a Discoverer
type Options struct {
	// User runs the discovery commands on each host
	User string
	// Concurrency bounds how many hosts are discovered at once
	Concurrency int
	Parse       disk.ParseOptions

	LsblkCommand   []string
	MappingCommand []string
	Dialects       []hba.Dialect

	// Cache holds controller info within this process, nil disables it
	Cache *cache.Cache[*hba.ControllerInfo]
	// Store keeps controller output across runs for StoreTTL, nil disables it
	Store        hba.Store
	StoreTTL     time.Duration
	ForceRefresh bool
}

// OptionsFromConfig builds discovery options from the loaded configuration
func OptionsFromConfig(cfg *config.Config, logger zerolog.Logger) (Options, error) {
	minSize, err := cfg.Discovery.MinDiskSizeBytes()
	if err != nil {
		return Options{}, err
	}

	cmds := cfg.Discovery.Commands
	argv := make(map[string][]string)
	for name, line := range map[string]string{
		"lsblk":                cmds.Lsblk,
		"block_device_mapping": cmds.BlockDeviceMapping,
		"arcconf_ld":           cmds.ArcconfLD,
		"arcconf_pd":           cmds.ArcconfPD,
		"storcli_ld":           cmds.StorcliLD,
		"storcli_pd":           cmds.StorcliPD,
	} {
		args, err := config.SplitCommand(line)
		if err != nil {
			return Options{}, fmt.Errorf("discovery.commands.%s: %w", name, err)
		}
		argv[name] = args
	}

	adaptec := hba.NewAdaptecParser(logger)
	adaptec.LogicalCommand = argv["arcconf_ld"]
	adaptec.PhysicalCommand = argv["arcconf_pd"]
	lsi := hba.NewLSIParser(logger)
	lsi.LogicalCommand = argv["storcli_ld"]
	lsi.PhysicalCommand = argv["storcli_pd"]

	return Options{
		User:        cfg.User,
		Concurrency: cfg.Discovery.Concurrency,
		Parse: disk.ParseOptions{
			IncludePartitions: cfg.Discovery.IncludePartitions,
			IgnoreOSDisks:     cfg.Discovery.IgnoreOSDisks,
			MinSize:           minSize,
			Logger:            logger,
		},
		LsblkCommand:   argv["lsblk"],
		MappingCommand: argv["block_device_mapping"],
		Dialects:       []hba.Dialect{lsi, adaptec},
		Cache:          cache.New[*hba.ControllerInfo](cfg.Discovery.ControllerCacheTTL),
		StoreTTL:       cfg.Discovery.ControllerCacheTTL,
	}, nil
}

// Discoverer collects the candidate disks of hosts
type Discoverer struct {
	runner     runner.Runner
	fetcher    *hba.Fetcher
	reconciler *reconcile.Reconciler
	dialects   map[hba.Vendor]hba.Dialect
	opts       Options
	logger     zerolog.Logger
}

// New creates a discoverer. Zero options fall back to the built-in commands.
func New(r runner.Runner, opts Options, logger zerolog.Logger) *Discoverer {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if len(opts.LsblkCommand) == 0 {
		opts.LsblkCommand = disk.LsblkCommand
	}
	if len(opts.MappingCommand) == 0 {
		opts.MappingCommand = blockdev.DefaultCommand
	}
	if len(opts.Dialects) == 0 {
		opts.Dialects = hba.Dialects(logger)
	}

	dialects := make(map[hba.Vendor]hba.Dialect)
	for _, d := range opts.Dialects {
		dialects[d.Vendor()] = d
	}
	fetcher := hba.NewFetcher(r, opts.Cache, logger)
	if opts.Store != nil {
		fetcher.WithStore(opts.Store, opts.StoreTTL)
	}
	return &Discoverer{
		runner:     r,
		fetcher:    fetcher,
		reconciler: reconcile.New(logger),
		dialects:   dialects,
		opts:       opts,
		logger:     logger.With().Str("component", "discovery").Logger(),
	}
}

// Discover lists the disks of every host. A host whose block devices
// cannot be listed fails the whole discovery; controller problems only
// downgrade that node to the types lsblk reports.
func (d *Discoverer) Discover(ctx context.Context, hosts []string) (*disk.DeviceMap, error) {
	dm := disk.NewDeviceMap()
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)

	for _, host := range hosts {
		g.Go(func() error {
			node, err := d.discoverNode(ctx, host)
			if err != nil {
				return err
			}
			mu.Lock()
			dm.AddNode(node)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.logger.Debug().Int("nodes", len(dm.Nodes)).Int("disks", dm.DiskCount()).Msg("available devices")
	return dm, nil
}

func (d *Discoverer) discoverNode(ctx context.Context, host string) (*disk.Node, error) {
	target := runner.Target{Host: host, User: d.opts.User}
	log := d.logger.With().Str("host", host).Logger()

	out, err := runner.Output(ctx, d.runner, target,
		fmt.Sprintf("Could not determine available devices on %s as %s", host, d.opts.User), d.opts.LsblkCommand...)
	if err != nil {
		return nil, err
	}

	parse := d.opts.Parse
	parse.Logger = log
	disks, err := disk.ParseLsblk(out, parse)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", host, err)
	}

	node := disk.NewNode(host)
	node.OSDisks = disk.OSDisks(out)
	node.Virtual = disk.IsVirtualMachine(disks)
	node.Disks = disks

	vendor, ok := reconcile.Vendor(disks)
	if !ok {
		return node, nil
	}
	log.Info().Str("vendor", string(vendor)).Msg("adding controller information")

	if err := d.classify(ctx, target, vendor, disks); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isControllerError(err) {
			return nil, err
		}
		log.Error().Err(err).Str("vendor", string(vendor)).Msg("controller information unavailable, using lsblk disk types")
		// reconcile may have updated some disks before failing
		node.Disks, _ = disk.ParseLsblk(out, parse)
	}
	return node, nil
}

func (d *Discoverer) classify(ctx context.Context, target runner.Target, vendor hba.Vendor, disks map[string]*disk.Disk) error {
	dialect, ok := d.dialects[vendor]
	if !ok {
		return &reconcile.ContractError{Msg: fmt.Sprintf("no %s dialect configured", vendor)}
	}
	info, err := d.fetcher.Fetch(ctx, target, dialect, d.opts.ForceRefresh)
	if err != nil {
		return err
	}

	var mapping *blockdev.Mapping
	if vendor == hba.LSI {
		out, err := runner.Output(ctx, d.runner, target,
			fmt.Sprintf("Could not determine block device mappings on %s as %s", target.Host, target.User), d.opts.MappingCommand...)
		if err != nil {
			return err
		}
		if mapping, err = blockdev.Parse(out); err != nil {
			return err
		}
	}
	return d.reconciler.Apply(disks, info, mapping)
}

func isControllerError(err error) bool {
	var cmdErr *runner.CommandError
	var hbaErr *hba.ParseError
	var mapErr *blockdev.ParseError
	var contractErr *reconcile.ContractError
	return errors.As(err, &cmdErr) || errors.As(err, &hbaErr) ||
		errors.As(err, &mapErr) || errors.As(err, &contractErr)
}
