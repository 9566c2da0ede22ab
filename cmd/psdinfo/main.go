package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/disintegration/imaging"

	psd "github.com/Mark24Code/psddecode"
)

type config struct {
	Input      string
	Output     string
	Thumbnail  string
	MaxSize    int
	JSON       bool
	Strict     bool
	SkipLayers bool
	Verbose    bool
}

func main() {
	cfg := parseFlags()
	if cfg.Input == "" {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(cfg, logger, os.Stdout); err != nil {
		logger.Error("psdinfo failed", slog.String("input", cfg.Input), slog.Any("error", err))
		os.Exit(1)
	}
}

func parseFlags() *config {
	cfg := &config{}
	flag.StringVar(&cfg.Output, "o", "", "export the composite image (.png, .jpg, .tif, .bmp, .gif)")
	flag.StringVar(&cfg.Thumbnail, "thumb", "", "export the embedded thumbnail")
	flag.IntVar(&cfg.MaxSize, "size", 0, "fit exported images into a box of this many pixels")
	flag.BoolVar(&cfg.JSON, "json", false, "print metadata as JSON")
	flag.BoolVar(&cfg.Strict, "strict", false, "fail on broken EXIF, IPTC, XMP or thumbnail resources")
	flag.BoolVar(&cfg.SkipLayers, "skip-layers", false, "do not read layer records")
	flag.BoolVar(&cfg.Verbose, "v", false, "log every section")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: psdinfo [flags] <input.psd>\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() > 0 {
		cfg.Input = flag.Arg(0)
	}
	return cfg
}

func run(cfg *config, logger *slog.Logger, w io.Writer) error {
	opts := &psd.Options{
		Logger:         logger,
		StrictMetadata: cfg.Strict,
		SkipLayers:     cfg.SkipLayers,
	}
	return psd.Open(cfg.Input, opts, func(doc *psd.Document) error {
		if cfg.JSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(doc.Metadata()); err != nil {
				return err
			}
		} else {
			printSummary(w, doc)
		}

		if cfg.Output != "" {
			if err := save(doc.Image.Image(), cfg.Output, cfg.MaxSize); err != nil {
				return fmt.Errorf("failed to export image: %w", err)
			}
			logger.Info("exported image", slog.String("path", cfg.Output))
		}

		if cfg.Thumbnail != "" {
			th := doc.Thumbnail()
			if th == nil {
				return errors.New("document has no thumbnail")
			}
			img, err := th.Image()
			if err != nil {
				return err
			}
			if err := save(img, cfg.Thumbnail, cfg.MaxSize); err != nil {
				return fmt.Errorf("failed to export thumbnail: %w", err)
			}
			logger.Info("exported thumbnail", slog.String("path", cfg.Thumbnail))
		}
		return nil
	})
}

func save(img image.Image, path string, maxSize int) error {
	if maxSize > 0 {
		b := img.Bounds()
		if b.Dx() > maxSize || b.Dy() > maxSize {
			img = imaging.Fit(img, maxSize, maxSize, imaging.Lanczos)
		}
	}
	return imaging.Save(img, path)
}

func printSummary(w io.Writer, doc *psd.Document) {
	m := doc.Metadata()
	fmt.Fprintf(w, "%s\n", doc.Header)
	fmt.Fprintf(w, "compression: %s\n", m.Compression)
	if m.ColorSpace != "" {
		fmt.Fprintf(w, "color space: %s\n", m.ColorSpace)
	}
	if r := m.Resolution; r != nil {
		fmt.Fprintf(w, "resolution: %.2f x %.2f per %s (%.4f x %.4f mm per pixel)\n",
			r.Horizontal, r.Vertical, r.Unit, r.PixelWidthMM, r.PixelHeightMM)
	}

	fmt.Fprintf(w, "resources: %d\n", len(m.Resources))
	for _, res := range m.Resources {
		line := fmt.Sprintf("  %s %d bytes", res.ID, res.Size)
		if res.Name != "" {
			line += fmt.Sprintf(" %q", res.Name)
		}
		if res.Error != "" {
			line += " (" + res.Error + ")"
		}
		fmt.Fprintln(w, line)
	}

	if tree := doc.Tree(); tree != nil && len(tree.Children) > 0 {
		fmt.Fprintln(w, "layers:")
		printTree(w, tree, 0)
	}
	for _, k := range slices.Sorted(maps.Keys(m.EXIF)) {
		fmt.Fprintf(w, "exif %s: %s\n", k, m.EXIF[k])
	}
	for _, k := range slices.Sorted(maps.Keys(m.IPTC)) {
		fmt.Fprintf(w, "iptc %s: %s\n", k, strings.Join(m.IPTC[k], "; "))
	}
}

func printTree(w io.Writer, n *psd.Node, depth int) {
	for _, child := range n.Children {
		mark := " "
		if !child.Visible {
			mark = "-"
		}
		fmt.Fprintf(w, "%s%s %s [%d,%d %dx%d] %s %d\n", strings.Repeat("  ", depth+1), mark,
			child.Name, child.Left, child.Top, child.Width(), child.Height(), child.BlendMode, child.Opacity)
		printTree(w, child, depth+1)
	}
}
