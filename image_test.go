package psd

import (
	"bytes"
	"image"
	"image/color"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeImageData(t *testing.T, h *Header, data []byte, opts *Options) (*Raster, Compression, error) {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	r, err := newReader(bytes.NewReader(data))
	require.NoError(t, err)
	return decodeComposite(r, h, nil, opts)
}

func imageHeader(mode ColorMode, channels uint16, w, h uint32) *Header {
	return &Header{Version: 1, Channels: channels, Cols: w, Rows: h, Depth: 8, Mode: mode}
}

func TestDecodeRawRGB(t *testing.T) {
	raster, compression, err := decodeImageData(t, imageHeader(ColorModeRGB, 3, 1, 1),
		rawImage([]byte{0x10}, []byte{0x20}, []byte{0x30}), nil)
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, compression)
	assert.Equal(t, 3, raster.Bands)
	assert.False(t, raster.Alpha)
	assert.Equal(t, []byte{0x30, 0x20, 0x10}, raster.Pix)

	img, ok := raster.Image().(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, color.NRGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}, img.NRGBAAt(0, 0))
}

func TestDecodeRLE(t *testing.T) {
	const w, h = 4, 2
	var rows [][]byte
	for c := 0; c < 3; c++ {
		for y := 0; y < h; y++ {
			rows = append(rows, []byte{0xfd, byte(10*c + y)})
		}
	}
	raster, compression, err := decodeImageData(t, imageHeader(ColorModeRGB, 3, w, h), rleImage(rows...), nil)
	require.NoError(t, err)
	assert.Equal(t, CompressionRLE, compression)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				assert.Equal(t, byte(10*c+y), raster.Pix[y*raster.Stride+x*3+(2-c)], "x=%d y=%d c=%d", x, y, c)
			}
		}
	}
}

func TestDecodeRLEIgnoresExtraChannels(t *testing.T) {
	// The byte counts cover all four channels but only the first is decoded.
	rows := [][]byte{packRow([]byte{1, 2}), packRow([]byte{9, 9}), {0xff, 7}, {0xff, 8}}
	raster, _, err := decodeImageData(t, imageHeader(ColorModeGrayscale, 4, 2, 1), rleImage(rows...), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, raster.Bands)
	assert.Equal(t, []byte{1, 2}, raster.Pix)
}

func TestDecodeCMYK(t *testing.T) {
	raster, _, err := decodeImageData(t, imageHeader(ColorModeCMYK, 4, 1, 1),
		rawImage([]byte{10}, []byte{20}, []byte{30}, []byte{40}), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{215, 225, 235, 245}, raster.Pix)

	img, ok := raster.Image().(*image.CMYK)
	require.True(t, ok)
	assert.Equal(t, color.CMYK{C: 245, M: 235, Y: 225, K: 215}, img.CMYKAt(0, 0))

	// Alpha is not inverted.
	raster, _, err = decodeImageData(t, imageHeader(ColorModeCMYK, 5, 1, 1),
		rawImage([]byte{10}, []byte{20}, []byte{30}, []byte{40}, []byte{50}), nil)
	require.NoError(t, err)
	assert.True(t, raster.Alpha)
	assert.Equal(t, []byte{50, 215, 225, 235, 245}, raster.Pix)
}

func TestDecodeAlpha(t *testing.T) {
	raster, _, err := decodeImageData(t, imageHeader(ColorModeRGB, 4, 3, 1), rawImage(
		[]byte{50, 1, 200},
		[]byte{50, 2, 10},
		[]byte{50, 3, 200},
		[]byte{0, 255, 128},
	), nil)
	require.NoError(t, err)
	require.True(t, raster.Alpha)
	assert.Equal(t, []byte{
		0, 0, 0, 0,
		255, 3, 2, 1,
		128, 145, 0, 145,
	}, raster.Pix)

	img := raster.Image().(*image.NRGBA)
	assert.Equal(t, color.NRGBA{R: 1, G: 2, B: 3, A: 255}, img.NRGBAAt(1, 0))
	assert.Equal(t, color.NRGBA{R: 145, G: 0, B: 145, A: 128}, img.NRGBAAt(2, 0))
}

func TestDecompose(t *testing.T) {
	for v := 0; v < 256; v++ {
		assert.Equal(t, byte(v), decompose(byte(v), 1))
	}
	assert.Equal(t, byte(255), decompose(255, 0.25))
	assert.Equal(t, byte(0), decompose(0, 0.25))
}

func TestDecodeAbort(t *testing.T) {
	calls := 0
	var progress []float64
	opts := &Options{
		Progress: func(p float64) { progress = append(progress, p) },
		Abort: func() bool {
			calls++
			return calls == 2
		},
	}
	raster, _, err := decodeImageData(t, imageHeader(ColorModeGrayscale, 1, 2, 3),
		rawImage([]byte{1, 2, 3, 4, 5, 6}), opts)
	require.ErrorIs(t, err, ErrAborted)
	require.NotNil(t, raster)
	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0}, raster.Pix)
	require.Len(t, progress, 2)
	assert.InDelta(t, 100.0/3, progress[0], 1e-9)
}

func TestDecodeProgress(t *testing.T) {
	var progress []float64
	opts := &Options{Progress: func(p float64) { progress = append(progress, p) }}
	_, _, err := decodeImageData(t, imageHeader(ColorModeRGB, 3, 1, 2),
		rawImage([]byte{1, 2}, []byte{3, 4}, []byte{5, 6}), opts)
	require.NoError(t, err)
	require.Len(t, progress, 6)
	assert.IsIncreasing(t, progress)
	assert.Equal(t, 100.0, progress[len(progress)-1])
}

func TestDecodeCompressionErrors(t *testing.T) {
	h := imageHeader(ColorModeGrayscale, 1, 1, 1)

	for _, c := range []Compression{CompressionZIP, CompressionZIPPrediction} {
		_, got, err := decodeImageData(t, h, be(uint16(c), make([]byte, 16)), nil)
		var ue *UnsupportedError
		require.ErrorAs(t, err, &ue, c.String())
		assert.Equal(t, c, got)
	}

	_, _, err := decodeImageData(t, h, be(uint16(7), byte(0)), nil)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, int64(0), fe.Offset)
	assert.Contains(t, fe.Msg, "unknown image compression 7")

	_, _, err = decodeImageData(t, h, nil, nil)
	var te *TruncatedError
	assert.ErrorAs(t, err, &te)
}

func TestDecodeTruncated(t *testing.T) {
	t.Run("raw", func(t *testing.T) {
		_, _, err := decodeImageData(t, imageHeader(ColorModeRGB, 3, 2, 1),
			rawImage([]byte{1, 2}, []byte{3}), nil)
		var te *TruncatedError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, 1, te.Channel)
		assert.Equal(t, 0, te.Row)
		assert.Equal(t, 1, te.Column)
	})

	t.Run("rle rows", func(t *testing.T) {
		data := rleImage([]byte{0xff, 1}, []byte{0xff, 2})
		_, _, err := decodeImageData(t, imageHeader(ColorModeGrayscale, 1, 2, 2), data[:len(data)-1], nil)
		var te *TruncatedError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, 0, te.Channel)
		assert.Equal(t, 1, te.Row)
		assert.Equal(t, 0, te.Column)
	})

	t.Run("rle byte counts", func(t *testing.T) {
		_, _, err := decodeImageData(t, imageHeader(ColorModeGrayscale, 1, 2, 2), be(uint16(CompressionRLE), uint16(2)), nil)
		var te *TruncatedError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, -1, te.Channel)
	})
}

func TestDecodeOversized(t *testing.T) {
	t.Run("raw", func(t *testing.T) {
		_, _, err := decodeImageData(t, imageHeader(ColorModeRGB, 4, 30000, 30000), rawImage([]byte{1, 2, 3}), nil)
		var te *TruncatedError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, int64(5), te.Offset)
		assert.Equal(t, 0, te.Channel)
		assert.Equal(t, 0, te.Row)
		assert.Equal(t, 3, te.Column)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("rle", func(t *testing.T) {
		// Zero byte counts still need two bytes per 128 samples.
		data := be(uint16(CompressionRLE), make([]byte, 2*30000), []byte{0x81, 0})
		_, _, err := decodeImageData(t, imageHeader(ColorModeGrayscale, 1, 30000, 30000), data, nil)
		var te *TruncatedError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, 0, te.Channel)
		assert.Equal(t, 0, te.Row)
		assert.Equal(t, 0, te.Column)
	})
}

func TestDecodeCorruptRLE(t *testing.T) {
	_, _, err := decodeImageData(t, imageHeader(ColorModeGrayscale, 1, 4, 1), rleImage([]byte{0x05, 1}), nil)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Msg, "channel 0 row 0")
}

func TestDecodeBitmap(t *testing.T) {
	h := &Header{Version: 1, Channels: 1, Cols: 10, Rows: 1, Depth: 1, Mode: ColorModeBitmap}
	raster, _, err := decodeImageData(t, h, rawImage([]byte{0xa0, 0x40}), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, raster.Stride)
	assert.Equal(t, []byte{0x5f, 0x80}, raster.Pix)

	img, ok := raster.Image().(*image.Gray)
	require.True(t, ok)
	want := []byte{0, 255, 0, 255, 255, 255, 255, 255, 255, 0}
	assert.Equal(t, want, img.Pix)
	assert.True(t, raster.ColorModel() == color.GrayModel)
}

func TestRasterLayout(t *testing.T) {
	tests := []struct {
		name     string
		mode     ColorMode
		channels uint16
		depth    uint16
		bands    int
		alpha    bool
	}{
		{"bitmap", ColorModeBitmap, 1, 1, 1, false},
		{"gray", ColorModeGrayscale, 1, 8, 1, false},
		{"gray with extra channels", ColorModeGrayscale, 3, 8, 1, false},
		{"duotone", ColorModeDuotone, 1, 8, 1, false},
		{"indexed", ColorModeIndexed, 1, 8, 1, false},
		{"rgb", ColorModeRGB, 3, 8, 3, false},
		{"rgba", ColorModeRGB, 4, 8, 4, true},
		{"rgb with spot channels", ColorModeRGB, 6, 8, 4, true},
		{"cmyk", ColorModeCMYK, 4, 8, 4, false},
		{"cmyka", ColorModeCMYK, 5, 8, 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Header{Channels: tt.channels, Depth: tt.depth, Mode: tt.mode}
			bands, alpha, err := rasterLayout(h)
			require.NoError(t, err)
			assert.Equal(t, tt.bands, bands)
			assert.Equal(t, tt.alpha, alpha)
		})
	}
}

func TestRasterLayoutUnsupported(t *testing.T) {
	tests := []struct {
		name     string
		mode     ColorMode
		channels uint16
		depth    uint16
		msg      string
	}{
		{"16 bit rgb", ColorModeRGB, 3, 16, "channel count/bit depth for RGB: 3 channels/16 bits"},
		{"32 bit gray", ColorModeGrayscale, 1, 32, "channel count/bit depth for Grayscale"},
		{"two channel rgb", ColorModeRGB, 2, 8, "channel count/bit depth"},
		{"8 bit bitmap", ColorModeBitmap, 1, 8, "channel count/bit depth"},
		{"three channel cmyk", ColorModeCMYK, 3, 8, "channel count/bit depth"},
		{"lab", ColorModeLab, 3, 8, "color mode Lab"},
		{"multichannel", ColorModeMultichannel, 2, 8, "color mode Multichannel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Nothing is read before the layout is checked.
			h := imageHeader(tt.mode, tt.channels, 1, 1)
			h.Depth = tt.depth
			_, _, err := decodeImageData(t, h, nil, nil)
			var ue *UnsupportedError
			require.ErrorAs(t, err, &ue)
			assert.Contains(t, ue.Feature, tt.msg)
		})
	}
}

func TestRasterImageTypes(t *testing.T) {
	gray, _, err := decodeImageData(t, imageHeader(ColorModeGrayscale, 1, 2, 1), rawImage([]byte{7, 8}), nil)
	require.NoError(t, err)
	g, ok := gray.Image().(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, []byte{7, 8}, g.Pix)
	assert.True(t, gray.ColorModel() == color.GrayModel)

	rgb, _, err := decodeImageData(t, imageHeader(ColorModeRGB, 3, 1, 1), rawImage([]byte{1}, []byte{2}, []byte{3}), nil)
	require.NoError(t, err)
	assert.True(t, rgb.ColorModel() == color.NRGBAModel)

	cmyk := &Raster{Width: 1, Height: 1, Bands: 4, Depth: 8, Mode: ColorModeCMYK, Stride: 4, Pix: make([]byte, 4)}
	assert.True(t, cmyk.ColorModel() == color.CMYKModel)
	assert.Equal(t, image.Rect(0, 0, 1, 1), cmyk.Image().Bounds())
}
