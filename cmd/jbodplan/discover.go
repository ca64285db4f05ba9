package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigreer/jbodplan/internal/db"
	"github.com/sigreer/jbodplan/internal/discovery"
)

var discoverCmd = &cobra.Command{
	Use:   "discover HOST...",
	Short: "Discover the candidate disks of hosts",
	Long: `Discover lists the block devices of every host, drops operating system
and undersized disks, and classifies the rest as SSD or HDD. Disks that
are Adaptec or LSI MegaRAID volumes are matched to the physical drives
behind them through arcconf or storcli.

The result is printed, or written as a plan file with -o for use with
'jbodplan plan' and 'jbodplan partition'.

When the inventory is enabled, controller output is kept there and reused
for discovery.controller_cache_ttl; --refresh queries the controllers again.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().StringP("output", "o", "", "write the device map to a plan file (.yaml or .json)")
	discoverCmd.Flags().Bool("json", false, "print the device map as JSON")
	discoverCmd.Flags().Bool("include-partitions", false, "record existing partitions of each disk")
	discoverCmd.Flags().Bool("refresh", false, "query controllers even if the inventory holds fresh output")
	discoverCmd.Flags().Bool("no-record", false, "do not record the run in the inventory")
}

func runDiscover(cmd *cobra.Command, hosts []string) error {
	output, _ := cmd.Flags().GetString("output")
	jsonOut, _ := cmd.Flags().GetBool("json")
	noRecord, _ := cmd.Flags().GetBool("no-record")
	if cmd.Flags().Changed("include-partitions") {
		cfg.Discovery.IncludePartitions, _ = cmd.Flags().GetBool("include-partitions")
	}

	opts, err := discovery.OptionsFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	opts.ForceRefresh, _ = cmd.Flags().GetBool("refresh")

	var database *db.DB
	if cfg.Inventory.Enabled {
		if database, err = openDB(); err != nil {
			return err
		}
		defer database.Close()
		opts.Store = database
	}

	r, closeRunner, err := newRunner()
	if err != nil {
		return err
	}
	defer closeRunner()

	started := time.Now()
	dm, err := discovery.New(r, opts, logger).Discover(cmd.Context(), hosts)
	if err != nil {
		return err
	}
	logger.Info().Int("nodes", len(dm.Nodes)).Int("disks", dm.DiskCount()).Str("types", typeCounts(dm)).
		Dur("elapsed", time.Since(started)).Msg("discovery finished")

	if database != nil && !noRecord {
		run, err := database.RecordRun(dm, hosts, started)
		if err != nil {
			return err
		}
		logger.Info().Str("run", run.ID).Msg("recorded discovery run")
	}

	switch {
	case output != "":
		if err := dm.Save(output); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d disks on %d nodes to %s\n", dm.DiskCount(), len(dm.Nodes), output)
	case jsonOut:
		data, err := dm.Marshal("json")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	default:
		printDeviceMap(cmd.OutOrStdout(), dm)
	}
	return nil
}
