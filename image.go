package psd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"math"
)

// Compression is the encoding of channel image data.
type Compression uint16

// Compression methods
const (
	CompressionNone Compression = iota
	CompressionRLE
	CompressionZIP
	CompressionZIPPrediction
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionRLE:
		return "RLE"
	case CompressionZIP:
		return "ZIP"
	case CompressionZIPPrediction:
		return "ZIP with prediction"
	}
	return fmt.Sprintf("Compression(%d)", uint16(c))
}

func (c Compression) known() bool {
	return c <= CompressionZIPPrediction
}

// Raster is the decoded composite image.
//
// Samples are interleaved with the channels in reverse file order: an RGB
// document is stored as B, G, R and RGB with alpha as A, B, G, R. CMYK
// samples are ink amounts (0 = no ink), alpha is straight. Bitmap rasters
// pack eight pixels per byte, most significant bit first, with a set bit
// meaning white.
type Raster struct {
	Width   int
	Height  int
	Bands   int
	Depth   int
	Mode    ColorMode
	Alpha   bool
	Stride  int
	Pix     []byte
	Palette color.Palette
}

// rasterLayout returns the number of bands decoded for h and whether the
// last of them is alpha.
func rasterLayout(h *Header) (bands int, alpha bool, err error) {
	channels := int(h.Channels)
	unsupported := func() error {
		return unsupportedf("channel count/bit depth for %s: %d channels/%d bits", h.ModeName(), channels, h.Depth)
	}

	switch h.Mode {
	case ColorModeBitmap:
		if channels == 1 && h.Depth == 1 {
			return 1, false, nil
		}
	case ColorModeGrayscale, ColorModeDuotone, ColorModeIndexed:
		if h.Depth == 8 {
			return 1, false, nil
		}
	case ColorModeRGB:
		if h.Depth == 8 && channels == 3 {
			return 3, false, nil
		}
		if h.Depth == 8 && channels >= 4 {
			return 4, true, nil
		}
	case ColorModeCMYK:
		if h.Depth == 8 && channels == 4 {
			return 4, false, nil
		}
		if h.Depth == 8 && channels >= 5 {
			return 5, true, nil
		}
	default:
		return 0, false, unsupportedf("color mode %s (%d channels/%d bits)", h.ModeName(), channels, h.Depth)
	}
	return 0, false, unsupported()
}

// compositeDecoder reads the image data section into a Raster.
type compositeDecoder struct {
	r       *reader
	h       *Header
	opts    *Options
	raster  *Raster
	counts  []uint16
	scratch []byte
}

// rasterConfig describes the raster for h without allocating pixels.
func rasterConfig(h *Header, cd *ColorModeData) (*Raster, error) {
	bands, alpha, err := rasterLayout(h)
	if err != nil {
		return nil, err
	}
	w := h.Width()
	raster := &Raster{
		Width:  w,
		Height: h.Height(),
		Bands:  bands,
		Depth:  int(h.Depth),
		Mode:   h.Mode,
		Alpha:  alpha,
		Stride: w * bands,
	}
	if h.Depth == 1 {
		raster.Stride = (w + 7) / 8
	}
	if h.Mode == ColorModeIndexed && cd != nil && cd.Palette != nil {
		raster.Palette = cd.Palette.Palette()
	}
	return raster, nil
}

// rowLen is the number of samples in one row of one channel.
func (r *Raster) rowLen() int {
	if r.Depth == 1 {
		return r.Stride
	}
	return r.Width
}

// decodeComposite decodes the merged image. The raster layout is
// validated before the compression tag is read, and the stream is checked
// to hold enough data for every decoded channel before pixels are
// allocated. On ErrAborted the partially filled raster is returned as well.
func decodeComposite(r *reader, h *Header, cd *ColorModeData, opts *Options) (*Raster, Compression, error) {
	raster, err := rasterConfig(h, cd)
	if err != nil {
		return nil, 0, err
	}

	offset := r.Tell()
	tag, err := r.ReadUint16()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read image compression: %w", err)
	}
	compression := Compression(tag)
	switch compression {
	case CompressionNone, CompressionRLE:
	case CompressionZIP, CompressionZIPPrediction:
		return nil, compression, unsupportedf("%s compressed image data", compression)
	default:
		return nil, compression, formatErrorf(offset,
			"unknown image compression %d, expected 0 (none), 1 (RLE), 2 (ZIP) or 3 (ZIP with prediction)", tag)
	}

	opts.logger().Debug("image data", slog.Int64("offset", offset), slog.String("compression", compression.String()),
		slog.Int("bands", raster.Bands), slog.Bool("alpha", raster.Alpha))

	d := &compositeDecoder{r: r, h: h, opts: opts, raster: raster}
	if compression == CompressionRLE {
		if err := d.readByteCounts(); err != nil {
			return nil, compression, err
		}
	}
	if err := d.checkAvailable(); err != nil {
		return nil, compression, err
	}
	raster.Pix = make([]byte, raster.Stride*raster.Height)

	for c := 0; c < raster.Bands; c++ {
		if err := d.decodeChannel(c); err != nil {
			if errors.Is(err, ErrAborted) {
				return raster, compression, err
			}
			return nil, compression, err
		}
	}

	if raster.Alpha && h.Mode == ColorModeRGB {
		decomposeAlpha(raster)
	}
	return raster, compression, nil
}

// readByteCounts reads the RLE row lengths of every channel in the file,
// including the ones that are not decoded.
func (d *compositeDecoder) readByteCounts() error {
	n := int64(d.h.Channels) * int64(d.h.Height())
	buf, err := d.r.ReadBytes(2 * n)
	if err != nil {
		return fmt.Errorf("failed to read RLE byte counts: %w", err)
	}
	d.counts = make([]uint16, n)
	for i := range d.counts {
		d.counts[i] = binary.BigEndian.Uint16(buf[2*i:])
	}
	return nil
}

// checkAvailable fails with the position of the first row that the rest of
// the stream cannot hold. Uncompressed rows report the column the data
// stops at, RLE rows report column 0. An RLE row takes at least two bytes
// per 128 samples whatever its byte count says.
func (d *compositeDecoder) checkAvailable() error {
	raster := d.raster
	rowLen := int64(raster.rowLen())
	avail := d.r.size - d.r.Tell()
	truncated := func(c, y, column int) error {
		return &TruncatedError{Offset: d.r.size, Channel: c, Row: y, Column: column, Err: io.ErrUnexpectedEOF}
	}

	if d.counts == nil {
		need := int64(raster.Bands) * rowLen * int64(raster.Height)
		if avail >= need {
			return nil
		}
		rows := avail / rowLen
		return truncated(int(rows)/raster.Height, int(rows)%raster.Height, int(avail%rowLen))
	}

	minRow := 2 * ((rowLen + 127) / 128)
	var need int64
	for c := 0; c < raster.Bands; c++ {
		for y := 0; y < raster.Height; y++ {
			need += max(int64(d.counts[c*raster.Height+y]), minRow)
			if need > avail {
				return truncated(c, y, 0)
			}
		}
	}
	return nil
}

func (d *compositeDecoder) decodeChannel(c int) error {
	raster := d.raster
	rowLen := raster.rowLen()
	row := make([]byte, rowLen)

	invert := d.h.Mode == ColorModeCMYK && c < 4
	band := raster.Bands - 1 - c

	for y := 0; y < raster.Height; y++ {
		if err := d.readRow(row, c, y); err != nil {
			return err
		}

		switch {
		case raster.Depth == 1:
			line := raster.Pix[y*raster.Stride:]
			for i, v := range row {
				line[i] = ^v
			}
			if pad := raster.Width % 8; pad != 0 {
				line[rowLen-1] &= 0xff << (8 - pad)
			}
		default:
			off := y*raster.Stride + band
			for x, v := range row {
				if invert {
					v = 255 - v
				}
				raster.Pix[off+x*raster.Bands] = v
			}
		}

		if d.opts.Progress != nil {
			done := c*raster.Height + y + 1
			d.opts.Progress(100 * float64(done) / float64(raster.Bands*raster.Height))
		}
		if d.opts.Abort != nil && d.opts.Abort() {
			d.opts.logger().Debug("image decode aborted", slog.Int("channel", c), slog.Int("row", y))
			return ErrAborted
		}
	}
	return nil
}

// readRow fills row with the decoded samples of channel c, row y.
func (d *compositeDecoder) readRow(row []byte, c, y int) error {
	start := d.r.Tell()
	withContext := func(err error, column int) error {
		var te *TruncatedError
		if errors.As(err, &te) {
			te.Channel, te.Row, te.Column = c, y, column
		}
		return err
	}

	if d.counts == nil {
		n, err := d.r.Read(row)
		if err != nil {
			return withContext(err, n)
		}
		return nil
	}

	count := int(d.counts[c*d.raster.Height+y])
	if cap(d.scratch) < count {
		d.scratch = make([]byte, count)
	}
	src := d.scratch[:count]
	if _, err := d.r.Read(src); err != nil {
		return withContext(err, 0)
	}
	if _, err := unpackBits(row, src); err != nil {
		return formatErrorf(start, "channel %d row %d: %v (%d compressed bytes for %d samples)", c, y, err, count, len(row))
	}
	return nil
}

// decomposeAlpha removes the white matte Photoshop composes into
// semi-transparent pixels. Alpha is the first sample of each pixel.
func decomposeAlpha(raster *Raster) {
	for i := 0; i+raster.Bands <= len(raster.Pix); i += raster.Bands {
		px := raster.Pix[i : i+raster.Bands]
		alpha := px[0]
		if alpha == 0 {
			for j := 1; j < len(px); j++ {
				px[j] = 0
			}
			continue
		}
		a := float64(alpha) / 255
		for j := 1; j < len(px); j++ {
			px[j] = decompose(px[j], a)
		}
	}
}

func decompose(v byte, alpha float64) byte {
	c := float64(v) / 255
	out := math.Round((c/alpha - (1-alpha)/alpha) * 255)
	return uint8(max(0, min(255, out)))
}

// Image converts the raster to the closest image type of the standard
// library. Alpha is dropped for CMYK.
func (r *Raster) Image() image.Image {
	rect := image.Rect(0, 0, r.Width, r.Height)

	switch {
	case r.Depth == 1:
		img := image.NewGray(rect)
		for y := 0; y < r.Height; y++ {
			line := r.Pix[y*r.Stride:]
			for x := 0; x < r.Width; x++ {
				if line[x/8]&(0x80>>(x%8)) != 0 {
					img.Pix[y*img.Stride+x] = 0xff
				}
			}
		}
		return img

	case r.Mode == ColorModeIndexed && r.Palette != nil:
		img := image.NewPaletted(rect, r.Palette)
		copy(img.Pix, r.Pix)
		return img

	case r.Bands == 1:
		img := image.NewGray(rect)
		copy(img.Pix, r.Pix)
		return img

	case r.Mode == ColorModeRGB:
		img := image.NewNRGBA(rect)
		for i, j := 0, 0; i < len(r.Pix); i, j = i+r.Bands, j+4 {
			px := r.Pix[i : i+r.Bands]
			a := byte(0xff)
			if r.Alpha {
				a, px = px[0], px[1:]
			}
			img.Pix[j+0] = px[2]
			img.Pix[j+1] = px[1]
			img.Pix[j+2] = px[0]
			img.Pix[j+3] = a
		}
		return img

	default:
		img := image.NewCMYK(rect)
		for i, j := 0, 0; i < len(r.Pix); i, j = i+r.Bands, j+4 {
			px := r.Pix[i : i+r.Bands]
			if r.Alpha {
				px = px[1:]
			}
			img.Pix[j+0] = px[3]
			img.Pix[j+1] = px[2]
			img.Pix[j+2] = px[1]
			img.Pix[j+3] = px[0]
		}
		return img
	}
}

// ColorModel returns the color model of the image returned by Image.
func (r *Raster) ColorModel() color.Model {
	switch {
	case r.Depth == 1 || (r.Bands == 1 && r.Palette == nil):
		return color.GrayModel
	case r.Palette != nil:
		return r.Palette
	case r.Mode == ColorModeRGB:
		return color.NRGBAModel
	}
	return color.CMYKModel
}
