package psd

import (
	"log/slog"
)

// Options configures a decode. The zero value is valid.
type Options struct {
	// Logger receives debug records for each section and warnings for
	// recovered metadata failures. Nil discards them.
	Logger *slog.Logger

	// Progress is called after every decoded row of the composite image
	// with the completed percentage.
	Progress func(percent float64)

	// Abort is polled after every decoded row. Returning true stops the
	// decode with ErrAborted.
	Abort func() bool

	// StrictMetadata makes EXIF, IPTC, XMP and thumbnail failures fatal.
	StrictMetadata bool

	// SkipLayers steps over the layer and mask section without reading
	// the layer records.
	SkipLayers bool
}

func (o *Options) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return discardLogger
	}
	return o.Logger
}

var discardLogger = slog.New(slog.DiscardHandler)
