package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/sigreer/jbodplan/internal/blockdev"
	"github.com/sigreer/jbodplan/internal/disk"
	"github.com/sigreer/jbodplan/internal/hba"
	"github.com/sigreer/jbodplan/internal/runner"
)

// EnvPrefix prefixes every environment override, e.g. JBODPLAN_DISCOVERY_CONCURRENCY
const EnvPrefix = "JBODPLAN"

type Config struct {
	User      string    `mapstructure:"user" validate:"required"`
	Transport string    `mapstructure:"transport" validate:"oneof=ssh native local"`
	SSH       SSH       `mapstructure:"ssh"`
	Discovery Discovery `mapstructure:"discovery"`
	Partition Partition `mapstructure:"partition"`
	Inventory Inventory `mapstructure:"inventory"`
	Logging   Logging   `mapstructure:"logging"`
}

type SSH struct {
	Binary         string        `mapstructure:"binary" validate:"required"`
	Port           int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	IdentityFile   string        `mapstructure:"identity_file"`
	KnownHosts     string        `mapstructure:"known_hosts"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gte=0"`
	Options        []string      `mapstructure:"options"`
}

type Discovery struct {
	Concurrency        int           `mapstructure:"concurrency" validate:"gte=1"`
	MinDiskSize        string        `mapstructure:"min_disk_size" validate:"bytesize"`
	IgnoreOSDisks      bool          `mapstructure:"ignore_os_disks"`
	IncludePartitions  bool          `mapstructure:"include_partitions"`
	ControllerCacheTTL time.Duration `mapstructure:"controller_cache_ttl" validate:"gte=0"`
	Commands           Commands      `mapstructure:"commands"`
}

// Commands are shell-style command lines run on each node during discovery
type Commands struct {
	Lsblk              string `mapstructure:"lsblk" validate:"required,command"`
	BlockDeviceMapping string `mapstructure:"block_device_mapping" validate:"required,command"`
	ArcconfLD          string `mapstructure:"arcconf_ld" validate:"required,command"`
	ArcconfPD          string `mapstructure:"arcconf_pd" validate:"required,command"`
	StorcliLD          string `mapstructure:"storcli_ld" validate:"required,command"`
	StorcliPD          string `mapstructure:"storcli_pd" validate:"required,command"`
}

type Partition struct {
	Label       string `mapstructure:"label" validate:"oneof=gpt msdos"`
	Alignment   string `mapstructure:"alignment" validate:"oneof=none cylinder minimal optimal"`
	Filesystem  string `mapstructure:"filesystem" validate:"required"`
	Concurrency int    `mapstructure:"concurrency" validate:"gte=1"`
}

type Inventory struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type Logging struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// Default locations searched when no config file is given
var searchPaths = []string{
	"/etc/jbodplan/config.yaml",
	filepath.Join(os.Getenv("HOME"), ".config/jbodplan/config.yaml"),
	"jbodplan.yaml",
}

// Load reads configuration from path, or the first existing default
// location when path is empty. Running without any config file is fine;
// defaults and JBODPLAN_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		for _, c := range searchPaths {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration, ignoring files and environment
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("user", "root")
	v.SetDefault("transport", runner.TransportSSH)

	v.SetDefault("ssh.binary", "ssh")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.identity_file", "")
	v.SetDefault("ssh.known_hosts", "")
	v.SetDefault("ssh.connect_timeout", 10*time.Second)
	v.SetDefault("ssh.options", []string{})

	v.SetDefault("discovery.concurrency", 4)
	v.SetDefault("discovery.min_disk_size", "10MB")
	v.SetDefault("discovery.ignore_os_disks", true)
	v.SetDefault("discovery.include_partitions", false)
	v.SetDefault("discovery.controller_cache_ttl", time.Hour)

	adaptec := hba.NewAdaptecParser(zerolog.Nop())
	lsi := hba.NewLSIParser(zerolog.Nop())
	v.SetDefault("discovery.commands.lsblk", runner.Quote(disk.LsblkCommand))
	v.SetDefault("discovery.commands.block_device_mapping", runner.Quote(blockdev.DefaultCommand))
	v.SetDefault("discovery.commands.arcconf_ld", runner.Quote(adaptec.LogicalCommand))
	v.SetDefault("discovery.commands.arcconf_pd", runner.Quote(adaptec.PhysicalCommand))
	v.SetDefault("discovery.commands.storcli_ld", runner.Quote(lsi.LogicalCommand))
	v.SetDefault("discovery.commands.storcli_pd", runner.Quote(lsi.PhysicalCommand))

	v.SetDefault("partition.label", "gpt")
	v.SetDefault("partition.alignment", "optimal")
	v.SetDefault("partition.filesystem", "gpfs")
	v.SetDefault("partition.concurrency", 1)

	v.SetDefault("inventory.enabled", true)
	v.SetDefault("inventory.path", "/var/lib/jbodplan/inventory.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// MinDiskSizeBytes parses discovery.min_disk_size, e.g. "10MB" or "1GiB"
func (d Discovery) MinDiskSizeBytes() (int64, error) {
	n, err := humanize.ParseBytes(d.MinDiskSize)
	if err != nil {
		return 0, fmt.Errorf("invalid min_disk_size %q: %w", d.MinDiskSize, err)
	}
	return int64(n), nil
}

// SplitCommand splits a configured command line into argv
func SplitCommand(line string) ([]string, error) {
	args, err := shellquote.Split(line)
	if err != nil {
		return nil, fmt.Errorf("invalid command %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}

// RunnerOptions converts the ssh section for runner.New
func (c *Config) RunnerOptions() runner.Options {
	return runner.Options{
		Binary:         c.SSH.Binary,
		Port:           c.SSH.Port,
		IdentityFile:   c.SSH.IdentityFile,
		KnownHosts:     c.SSH.KnownHosts,
		ConnectTimeout: int(c.SSH.ConnectTimeout / time.Second),
		ExtraOptions:   c.SSH.Options,
	}
}
