// Package hba parses vendor RAID/HBA controller tool output into a common
// model of logical and physical devices.
package hba

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sigreer/jbodplan/internal/cache"
	"github.com/sigreer/jbodplan/internal/runner"
)

// Dialect is one vendor's controller tooling
type Dialect interface {
	Vendor() Vendor
	// ModelPrefix is the disk model prefix lsblk shows for volumes
	// exported by this controller.
	ModelPrefix() string
	LogicalDevicesCommand() []string
	PhysicalDevicesCommand() []string
	Parse(logical, physical string) (*ControllerInfo, error)
}

// Dialects returns all supported dialects in precedence order
func Dialects(logger zerolog.Logger) []Dialect {
	return []Dialect{NewLSIParser(logger), NewAdaptecParser(logger)}
}

// DialectForModel returns the dialect whose model prefix matches model
func DialectForModel(model string, dialects []Dialect) (Dialect, bool) {
	for _, d := range dialects {
		if strings.HasPrefix(model, d.ModelPrefix()) {
			return d, true
		}
	}
	return nil, false
}

// Output is the raw output of a dialect's logical and physical commands
type Output struct {
	Logical   string
	Physical  string
	FetchedAt time.Time
}

// Store keeps controller tool output between runs. ControllerOutput
// returns nil when nothing is stored for host and vendor.
type Store interface {
	ControllerOutput(host string, vendor Vendor) (*Output, error)
	SaveControllerOutput(host string, vendor Vendor, out *Output) error
}

// Fetcher runs a dialect's commands on a host and caches the parsed result
type Fetcher struct {
	runner   runner.Runner
	cache    *cache.Cache[*ControllerInfo]
	store    Store
	storeTTL time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewFetcher creates a fetcher. A nil cache disables caching.
func NewFetcher(r runner.Runner, c *cache.Cache[*ControllerInfo], logger zerolog.Logger) *Fetcher {
	if c == nil {
		c = cache.New[*ControllerInfo](0)
	}
	return &Fetcher{
		runner: r,
		cache:  c,
		now:    time.Now,
		logger: logger.With().Str("component", "hba.fetcher").Logger(),
	}
}

// WithStore makes the fetcher reuse stored output younger than ttl and
// save every output that parses. A zero ttl only saves.
func (f *Fetcher) WithStore(s Store, ttl time.Duration) *Fetcher {
	f.store = s
	f.storeTTL = ttl
	return f
}

// Fetch returns controller info for target, using the cache and the store
// unless forceRefresh is set.
func (f *Fetcher) Fetch(ctx context.Context, target runner.Target, d Dialect, forceRefresh bool) (*ControllerInfo, error) {
	key := cache.Key(target.Host, string(d.Vendor()))
	if forceRefresh {
		f.cache.Delete(key)
	}
	return f.cache.GetOrFetch(key, func() (*ControllerInfo, error) {
		log := f.logger.With().Str("host", target.Host).Str("vendor", string(d.Vendor())).Logger()

		if !forceRefresh {
			if info, ok := f.stored(target.Host, d, log); ok {
				return info, nil
			}
		}

		log.Info().Msg("fetching controller information")
		logical, err := runner.Output(ctx, f.runner, target,
			fmt.Sprintf("Could not determine available logical devices on %s", target), d.LogicalDevicesCommand()...)
		if err != nil {
			return nil, err
		}
		physical, err := runner.Output(ctx, f.runner, target,
			fmt.Sprintf("Could not determine available physical devices on %s", target), d.PhysicalDevicesCommand()...)
		if err != nil {
			return nil, err
		}
		info, err := d.Parse(logical, physical)
		if err != nil {
			return nil, err
		}

		if f.store != nil {
			out := &Output{Logical: logical, Physical: physical, FetchedAt: f.now()}
			if err := f.store.SaveControllerOutput(target.Host, d.Vendor(), out); err != nil {
				log.Warn().Err(err).Msg("failed to store controller output")
			}
		}
		return info, nil
	})
}

// stored parses output kept from an earlier run if it is still fresh
func (f *Fetcher) stored(host string, d Dialect, log zerolog.Logger) (*ControllerInfo, bool) {
	if f.store == nil || f.storeTTL <= 0 {
		return nil, false
	}
	out, err := f.store.ControllerOutput(host, d.Vendor())
	if err != nil {
		log.Warn().Err(err).Msg("failed to read stored controller output")
		return nil, false
	}
	if out == nil {
		return nil, false
	}
	age := f.now().Sub(out.FetchedAt)
	if age >= f.storeTTL {
		log.Debug().Dur("age", age).Msg("stored controller output expired")
		return nil, false
	}
	info, err := d.Parse(out.Logical, out.Physical)
	if err != nil {
		log.Warn().Err(err).Msg("stored controller output no longer parses")
		return nil, false
	}
	log.Info().Dur("age", age).Msg("using stored controller information")
	return info, true
}
