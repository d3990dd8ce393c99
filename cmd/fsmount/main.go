// fsmount exposes a volume image through FUSE. The mount stays up until
// the process receives SIGINT or SIGTERM, then unmounts and detaches the
// volume cleanly. An optional prometheus endpoint reports block-device
// traffic while mounted.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/flashfs/flashfs/internal/adapter"
	"github.com/flashfs/flashfs/internal/blockcache"
	"github.com/flashfs/flashfs/internal/config"
	"github.com/flashfs/flashfs/internal/engine/testengine"
	"github.com/flashfs/flashfs/internal/fuse"
	"github.com/flashfs/flashfs/internal/metrics"
	"github.com/flashfs/flashfs/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fsmount: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		imagePath  string
		configPath string
		mountPoint string
		sizeMiB    int
		readOnly   bool
		allowOther bool
		debug      bool
	)

	flags := pflag.NewFlagSet("fsmount", pflag.ContinueOnError)
	flags.StringVar(&imagePath, "image", "", "volume image file (created if missing)")
	flags.StringVar(&mountPoint, "mountpoint", "", "directory to mount at")
	flags.IntVar(&sizeMiB, "size", 1, "image capacity in MiB when creating")
	flags.StringVar(&configPath, "config", "", "YAML configuration file")
	flags.BoolVar(&readOnly, "read-only", false, "mount read-only")
	flags.BoolVar(&allowOther, "allow-other", false, "allow access by other users")
	flags.BoolVar(&debug, "debug", false, "log kernel request traffic")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if imagePath == "" || mountPoint == "" {
		return fmt.Errorf("--image and --mountpoint are required")
	}

	cfg := config.NewDefault()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	file, err := storage.OpenFile(imagePath, int64(sizeMiB)<<20)
	if err != nil {
		return err
	}
	defer file.Close()

	var part storage.Partition = file
	if cfg.Cache.Enabled {
		part = blockcache.New(file, int64(cfg.Geometry.BlockSize), cfg.Cache.MaxBlocks)
	}

	vfs := adapter.New(testengine.New(), part,
		adapter.WithGeometry(cfg.Geometry),
		adapter.WithLogger(log))
	if err := vfs.Mount(); err != nil {
		return fmt.Errorf("mounting %s: %w", imagePath, err)
	}
	defer vfs.Unmount()

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(cfg.Metrics.Namespace)
		vfs.SetProfiler(collector)
		if err := collector.Serve(cfg.Metrics.Listen); err != nil {
			return err
		}
		defer collector.Close()
		log.Info("metrics endpoint up", "listen", cfg.Metrics.Listen)
	}

	opts := fuse.DefaultOptions()
	opts.ReadOnly = readOnly
	opts.AllowOther = allowOther
	opts.Debug = debug
	opts.UID = uint32(os.Getuid())
	opts.GID = uint32(os.Getgid())

	mgr := fuse.NewMountManager(vfs, mountPoint, opts)
	if err := mgr.Mount(); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("unmounting on signal", "signal", sig)
		if err := mgr.Unmount(); err != nil {
			log.Warn("unmount failed", "error", err)
		}
	}()

	mgr.Wait()
	return nil
}
