package psd

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seehuhn.de/go/icc"
)

// rgbDoc is a 2x1 RGB document with resolution info, an sRGB profile, a
// grouped layer stack and a raw composite.
func rgbDoc() *docBuilder {
	b := newDoc(ColorModeRGB, 3, 2, 1)
	b.resources = be(
		resourceRecord(ResourceResolutionInfo, "", resolutionData(72, 72, 1)),
		resourceRecord(ResourceICCProfile, "", icc.SRGBv4Profile),
		resourceRecord(ResourceIPTC, "", be(uint8(0x1c), uint8(2), uint8(5), uint16(6), "Poster")),
	)
	b.layers = layerSection(groupedLayers(), nil)
	b.image = rawImage([]byte{1, 2}, []byte{3, 4}, []byte{5, 6})
	return b
}

func indexedDoc() *docBuilder {
	var pal Palette
	pal[1] = [3]byte{10, 20, 30}
	b := newDoc(ColorModeIndexed, 1, 2, 1)
	b.colorData = pal.Planes()
	b.image = rawImage([]byte{1, 0})
	return b
}

func TestDecode(t *testing.T) {
	doc, err := Decode(rgbDoc().reader(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, doc.Header.Width())
	assert.Equal(t, ColorModeRGB, doc.Header.Mode)
	assert.Equal(t, CompressionNone, doc.Compression)
	assert.Equal(t, []byte{5, 3, 1, 6, 4, 2}, doc.Image.Pix)

	require.NotNil(t, doc.Resolution())
	assert.Equal(t, 72.0, doc.Resolution().HRes)
	assert.Equal(t, icc.SRGBv4Profile, doc.ICCProfile())
	require.NotNil(t, doc.ColorSpace)
	assert.True(t, doc.ColorSpace.Embedded)
	require.NotNil(t, doc.IPTC())
	assert.Nil(t, doc.EXIF())
	assert.Nil(t, doc.XMP())
	assert.Nil(t, doc.Thumbnail())

	tree := doc.Tree()
	require.NotNil(t, tree)
	assert.Len(t, tree.DescendantLayers(), 3)
}

func TestDecodeAtOffset(t *testing.T) {
	data := append([]byte("junk"), rgbDoc().bytes()...)
	rs := bytes.NewReader(data)
	_, err := rs.Seek(4, io.SeekStart)
	require.NoError(t, err)

	doc, err := Decode(rs, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 3, 1, 6, 4, 2}, doc.Image.Pix)
}

func TestDecodeSkipLayers(t *testing.T) {
	doc, err := Decode(rgbDoc().reader(), &Options{SkipLayers: true})
	require.NoError(t, err)
	assert.True(t, doc.Layers.Skipped)
	assert.Empty(t, doc.Tree().Children)
	assert.Equal(t, []byte{5, 3, 1, 6, 4, 2}, doc.Image.Pix)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("GIF89a and then some more bytes")), nil)
	var fe *FormatError
	assert.ErrorAs(t, err, &fe)

	b := rgbDoc()
	data := b.bytes()
	_, err = Decode(bytes.NewReader(data[:len(data)-1]), nil)
	var te *TruncatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, te.Channel)

	b.resources = be(uint32(8))
	_, err = Decode(b.reader(), nil)
	assert.ErrorAs(t, err, &fe)
}

func TestDecodeOversizedDocument(t *testing.T) {
	b := newDoc(ColorModeRGB, 4, 30000, 30000)
	b.image = rawImage([]byte{1, 2, 3, 4})
	doc, err := Decode(b.reader(), nil)
	assert.Nil(t, doc)
	var te *TruncatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, te.Row)
	assert.Equal(t, 4, te.Column)
}

func TestDecodeContext(t *testing.T) {
	b := newDoc(ColorModeGrayscale, 1, 1, 3)
	b.image = rawImage([]byte{7, 8, 9})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := &Options{Progress: func(float64) { cancel() }}

	doc, err := DecodeContext(ctx, b.reader(), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAborted))
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, doc)
	assert.Equal(t, []byte{7, 0, 0}, doc.Image.Pix)

	// The caller's options are not modified.
	assert.Nil(t, opts.Abort)

	doc, err = DecodeContext(ctx, b.reader(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, doc)

	doc, err = DecodeContext(context.Background(), b.reader(), &Options{Abort: func() bool { return true }})
	assert.ErrorIs(t, err, ErrAborted)
	assert.NotErrorIs(t, err, context.Canceled)
	assert.Equal(t, []byte{7, 0, 0}, doc.Image.Pix)
}

func TestOpen(t *testing.T) {
	name := filepath.Join(t.TempDir(), "doc.psd")
	require.NoError(t, os.WriteFile(name, rgbDoc().bytes(), 0o644))

	var width int
	err := Open(name, nil, func(doc *Document) error {
		width = doc.Header.Width()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, width)

	errStop := errors.New("stop")
	assert.ErrorIs(t, Open(name, nil, func(*Document) error { return errStop }), errStop)
	assert.ErrorIs(t, Open(filepath.Join(t.TempDir(), "missing.psd"), nil, nil), os.ErrNotExist)
}

func TestProbe(t *testing.T) {
	rs := rgbDoc().reader()
	ok, err := Probe(rs)
	require.NoError(t, err)
	assert.True(t, ok)
	pos, err := rs.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	ok, err = Probe(bytes.NewReader([]byte("8B")))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, ProbeBytes([]byte("8BPS\x00\x01")))
	assert.False(t, ProbeBytes([]byte("8BPS\x00\x02")))
	assert.False(t, ProbeBytes([]byte("8BIM\x00\x01")))
}

func TestImageRegistration(t *testing.T) {
	img, format, err := image.Decode(rgbDoc().reader())
	require.NoError(t, err)
	assert.Equal(t, "psd", format)
	nrgba, ok := img.(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, color.NRGBA{R: 2, G: 4, B: 6, A: 255}, nrgba.NRGBAAt(1, 0))

	cfg, format, err := image.DecodeConfig(rgbDoc().reader())
	require.NoError(t, err)
	assert.Equal(t, "psd", format)
	assert.Equal(t, 2, cfg.Width)
	assert.Equal(t, 1, cfg.Height)
	assert.True(t, cfg.ColorModel == color.NRGBAModel)
}

func TestIndexedImage(t *testing.T) {
	img, _, err := image.Decode(indexedDoc().reader())
	require.NoError(t, err)
	p, ok := img.(*image.Paletted)
	require.True(t, ok)
	assert.Equal(t, uint8(1), p.ColorIndexAt(0, 0))
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, p.At(0, 0))

	cfg, err := DecodeConfig(indexedDoc().reader())
	require.NoError(t, err)
	pal, ok := cfg.ColorModel.(color.Palette)
	require.True(t, ok)
	assert.Len(t, pal, 256)
}

func TestDecodeConfigUnsupported(t *testing.T) {
	b := newDoc(ColorModeRGB, 3, 2, 1)
	b.depth = 16
	_, err := DecodeConfig(b.reader())
	var ue *UnsupportedError
	assert.ErrorAs(t, err, &ue)
}

func TestMetadata(t *testing.T) {
	doc, err := Decode(rgbDoc().reader(), nil)
	require.NoError(t, err)

	m := doc.Metadata()
	assert.Equal(t, 2, m.Width)
	assert.Equal(t, 1, m.Height)
	assert.Equal(t, "RGB", m.Mode)
	assert.Equal(t, "None", m.Compression)
	assert.Equal(t, "embedded RGB", m.ColorSpace)
	assert.True(t, m.EmbeddedProfile)
	assert.Equal(t, len(icc.SRGBv4Profile), m.ProfileSize)

	require.NotNil(t, m.Resolution)
	assert.Equal(t, "pixels/inch", m.Resolution.Unit)
	assert.InDelta(t, 25.4/72, m.Resolution.PixelWidthMM, 1e-9)

	require.Len(t, m.Resources, 3)
	assert.Equal(t, "ResolutionInfo", m.Resources[0].ID)
	assert.Equal(t, []string{"Poster"}, m.IPTC["ObjectName"])

	require.Len(t, m.Layers, 4)
	assert.Equal(t, "Background", m.Layers[0].Name)
	assert.True(t, m.Layers[1].Group)
	assert.Equal(t, "Group/Inner top", m.Layers[2].Path)
	assert.False(t, m.Layers[2].Visible)
}
