package main

import (
	"context"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/objectfs/imageop/internal/bitmap"
	"github.com/objectfs/imageop/internal/imageop"
	"github.com/objectfs/imageop/pkg/errors"
)

func newApp(w io.Writer) *cli.Command {
	scaleFlag := &cli.FloatFlag{
		Name:    "scale",
		Aliases: []string{"s"},
		Usage:   "scale factor applied before tiling",
		Value:   1,
	}

	return &cli.Command{
		Name:    "imageop",
		Usage:   "image operation cache",
		Version: version,
		Writer:  w,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				Sources: cli.EnvVars("IMAGEOP_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn, error or fatal",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text, json, cli, short or discard",
			},
			&cli.StringFlag{
				Name:  "scratch-root",
				Usage: "directory holding session scratch trees",
			},
			&cli.BoolFlag{
				Name:        "metrics",
				Usage:       "serve Prometheus metrics while the command runs",
				HideDefault: true,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "print size and tile grid without decoding pixels",
				ArgsUsage: "FILE",
				Flags:     []cli.Flag{scaleFlag},
				Action:    withEnv(infoAction),
			},
			{
				Name:      "tiles",
				Usage:     "render every tile to PNG files",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					scaleFlag,
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "output directory (default: <file>_tiles in the working directory)",
					},
				},
				Action: withEnv(tilesAction),
			},
			{
				Name:   "sweep",
				Usage:  "delete scratch sessions left by dead processes",
				Action: withEnv(sweepAction),
			},
		},
	}
}

// resolveSource resolves FILE and, unless --scale is 1, its scaled version.
// The returned handle keeps its ancestors alive on its own.
func resolveSource(cmd *cli.Command, cache *imageop.Cache) (*imageop.Handle, error) {
	if cmd.NArg() != 1 {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "expected exactly one FILE argument")
	}
	load, err := cache.Resolve(imageop.Load{Path: cmd.Args().First()})
	if err != nil {
		return nil, err
	}
	factor := cmd.Float("scale")
	if factor == 1 {
		return load, nil
	}
	defer load.Release()
	return load.Scale(factor)
}

func infoAction(ctx context.Context, cmd *cli.Command, e *env) error {
	h, err := resolveSource(cmd, e.cache)
	if err != nil {
		return err
	}
	defer h.Release()

	size, grid := h.Size(), h.TileGrid()
	w := cmd.Root().Writer
	fmt.Fprintf(w, "file:   %s\n", cmd.Args().First())
	fmt.Fprintf(w, "scale:  %g\n", cmd.Float("scale"))
	fmt.Fprintf(w, "size:   %dx%d (%s)\n", size.X, size.Y, humanize.IBytes(uint64(bitmap.PixelBytes(size.X, size.Y))))
	fmt.Fprintf(w, "tiles:  %dx%d of %dx%d\n", grid.NumTilesX(), grid.NumTilesY(), grid.TileWidth, grid.TileHeight)
	fmt.Fprintf(w, "key:    %s\n", h.Key().Short())
	return nil
}

func tilesAction(ctx context.Context, cmd *cli.Command, e *env) error {
	h, err := resolveSource(cmd, e.cache)
	if err != nil {
		return err
	}
	defer h.Release()

	out := cmd.String("out")
	if out == "" {
		out = defaultTilesDir(cmd.Args().First())
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}

	start := time.Now()
	grid := h.TileGrid()
	var written atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for ty := 0; ty < grid.NumTilesY(); ty++ {
		for tx := 0; tx < grid.NumTilesX(); tx++ {
			tile, err := h.Tile(tx, ty)
			if err != nil {
				_ = g.Wait()
				return err
			}
			f := tile.Materialize()
			name := filepath.Join(out, fmt.Sprintf("tile_%03d_%03d.png", tx, ty))
			g.Go(func() error {
				defer tile.Release()
				b, err := f.Get(gctx)
				if err != nil {
					return err
				}
				n, err := writePNG(name, b)
				written.Add(n)
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.Root().Writer, "%d tiles (%dx%d) written to %s: %s in %s\n",
		grid.Count(), grid.NumTilesX(), grid.NumTilesY(), out,
		humanize.Bytes(uint64(written.Load())), time.Since(start).Round(time.Millisecond))
	return nil
}

// defaultTilesDir names the output directory after the source file's stem.
func defaultTilesDir(src string) string {
	base := filepath.Base(src)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_tiles"
}

func writePNG(path string, b *bitmap.Bitmap) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	if err := png.Encode(f, b.Image()); err != nil {
		_ = f.Close()
		return 0, err
	}
	info, err := f.Stat()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func sweepAction(ctx context.Context, cmd *cli.Command, e *env) error {
	report := e.store.LastSweep()
	w := cmd.Root().Writer
	for _, dir := range report.Deleted {
		fmt.Fprintf(w, "deleted  %s\n", dir)
	}
	for _, dir := range report.Live {
		fmt.Fprintf(w, "live     %s\n", dir)
	}
	for _, dir := range report.Failed {
		fmt.Fprintf(w, "failed   %s\n", dir)
	}
	fmt.Fprintf(w, "%d deleted, %d live, %d failed under %s\n",
		len(report.Deleted), len(report.Live), len(report.Failed), e.store.Root())
	return report.Err
}
