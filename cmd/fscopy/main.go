// fscopy packs a host directory tree into a volume image. Files can
// optionally be stored LZ4-compressed; the compression descriptor is
// written alongside so readers see the original size through stat.
package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
	"github.com/spf13/pflag"

	"github.com/flashfs/flashfs/internal/adapter"
	"github.com/flashfs/flashfs/internal/config"
	"github.com/flashfs/flashfs/internal/engine/testengine"
	"github.com/flashfs/flashfs/internal/storage"
	"github.com/flashfs/flashfs/pkg/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fscopy: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		imagePath  string
		srcPath    string
		configPath string
		sizeMiB    int
		compress   bool
		format     bool
		verbose    bool
	)

	flags := pflag.NewFlagSet("fscopy", pflag.ContinueOnError)
	flags.StringVar(&imagePath, "image", "", "volume image file (created if missing)")
	flags.StringVar(&srcPath, "source", ".", "host directory to copy from")
	flags.IntVar(&sizeMiB, "size", 1, "image capacity in MiB when creating")
	flags.StringVar(&configPath, "config", "", "YAML configuration file")
	flags.BoolVar(&compress, "compress", false, "store file content LZ4-compressed where it saves space")
	flags.BoolVar(&format, "format", false, "format the image even if it already holds a volume")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log every entry copied")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if imagePath == "" {
		return fmt.Errorf("--image is required")
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

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	part, err := storage.OpenFile(imagePath, int64(sizeMiB)<<20)
	if err != nil {
		return err
	}
	defer part.Close()

	vfs := adapter.New(testengine.New(), part,
		adapter.WithGeometry(cfg.Geometry),
		adapter.WithLogger(log))
	if format {
		if err := vfs.Format(); err != nil {
			return fmt.Errorf("formatting %s: %w", imagePath, err)
		}
	}
	if err := vfs.Mount(); err != nil {
		return fmt.Errorf("mounting %s: %w", imagePath, err)
	}
	defer vfs.Unmount()

	c := &copier{vfs: vfs, compress: compress, log: log}
	if err := c.copyTree(srcPath); err != nil {
		return err
	}

	info, err := vfs.GetInfo()
	if err != nil {
		return err
	}
	fmt.Printf("copied %d files and %d directories, %d bytes in, %d stored\n",
		c.files, c.dirs, c.bytesIn, c.bytesOut)
	fmt.Printf("volume: %d of %d bytes used\n", info.Used, info.VolumeSize)
	return nil
}

type copier struct {
	vfs      *adapter.FileSystem
	compress bool
	log      *slog.Logger

	files    int
	dirs     int
	bytesIn  int64
	bytesOut int64
}

func (c *copier) copyTree(root string) error {
	return filepath.WalkDir(root, func(hostPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, hostPath)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dest := path.Join("/", filepath.ToSlash(rel))

		fi, err := d.Info()
		if err != nil {
			return err
		}

		if d.IsDir() {
			return c.copyDir(dest, fi)
		}
		if !fi.Mode().IsRegular() {
			c.log.Warn("skipping non-regular entry", "path", hostPath)
			return nil
		}
		return c.copyFile(hostPath, dest, fi)
	})
}

func (c *copier) copyDir(dest string, fi fs.FileInfo) error {
	if err := c.vfs.Mkdir(dest); err != nil {
		return fmt.Errorf("mkdir %s: %w", dest, err)
	}
	if err := c.vfs.SetXattr(dest, types.TagModifiedTime, types.MarshalTime(fi.ModTime())); err != nil {
		return fmt.Errorf("setting time on %s: %w", dest, err)
	}
	c.log.Info("dir", "path", dest)
	c.dirs++
	return nil
}

func (c *copier) copyFile(hostPath, dest string, fi fs.FileInfo) error {
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return err
	}

	payload := data
	comp := types.Compression{Type: types.CompressNone, OriginalSize: uint32(len(data))}
	if c.compress {
		if packed, ok := compressLZ4(data); ok {
			payload = packed
			comp.Type = types.CompressLZ4
		}
	}

	f, err := c.vfs.Open(dest, types.OpenWrite|types.OpenCreate|types.OpenTruncate)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := c.vfs.Write(f, payload); err != nil {
		c.vfs.Close(f)
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if comp.Type != types.CompressNone {
		if err := c.vfs.FSetXattr(f, types.TagCompression, comp.Marshal()); err != nil {
			c.vfs.Close(f)
			return fmt.Errorf("marking %s compressed: %w", dest, err)
		}
	}
	if err := c.vfs.FSetXattr(f, types.TagModifiedTime, types.MarshalTime(fi.ModTime())); err != nil {
		c.vfs.Close(f)
		return fmt.Errorf("setting time on %s: %w", dest, err)
	}
	if err := c.vfs.Close(f); err != nil {
		return fmt.Errorf("closing %s: %w", dest, err)
	}

	c.log.Info("file", "path", dest, "size", len(data), "stored", len(payload),
		"compression", comp.Type)
	c.files++
	c.bytesIn += int64(len(data))
	c.bytesOut += int64(len(payload))
	return nil
}

// compressLZ4 block-compresses data, reporting false when the result
// would not be smaller than the input.
func compressLZ4(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil || n == 0 || n >= len(data) {
		return nil, false
	}
	return dst[:n], true
}
