// Package psd decodes Adobe Photoshop documents: the header, color mode
// data, image resources, layer records and the merged composite image.
package psd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"

	"github.com/Mark24Code/psddecode/exif"
	"github.com/Mark24Code/psddecode/iptc"
	"seehuhn.de/go/xmp"
)

// Document is a decoded Photoshop document.
type Document struct {
	Header      *Header
	ColorData   *ColorModeData
	Resources   *ResourceSection
	Layers      *LayerMask
	ColorSpace  *ColorSpace
	Compression Compression
	Image       *Raster
}

// session carries the state of one decode. It is used once and discarded.
type session struct {
	r    *reader
	opts *Options
	doc  *Document
}

func newSession(rs io.ReadSeeker, opts *Options) (*session, error) {
	if opts == nil {
		opts = &Options{}
	}
	r, err := newReader(rs)
	if err != nil {
		return nil, err
	}
	return &session{r: r, opts: opts, doc: &Document{}}, nil
}

func (s *session) readHeader() error {
	h, err := parseHeader(s.r)
	if err != nil {
		return err
	}
	s.doc.Header = h
	s.opts.logger().Debug("header", slog.String("header", h.String()))

	cd, err := parseColorModeData(s.r, h)
	if err != nil {
		return fmt.Errorf("failed to parse color mode data: %w", err)
	}
	s.doc.ColorData = cd
	return nil
}

func (s *session) readResources(parse bool) error {
	resources, err := parseResources(s.r, parse, s.opts)
	if err != nil {
		return fmt.Errorf("failed to parse resources: %w", err)
	}
	s.doc.Resources = resources
	s.doc.ColorSpace = resolveColorSpace(s.doc.Header, resources, s.opts.logger())
	return nil
}

func (s *session) readLayers() error {
	lm, err := parseLayerMask(s.r, s.doc.Header, s.opts)
	if err != nil {
		return fmt.Errorf("failed to parse layer mask: %w", err)
	}
	s.doc.Layers = lm
	return nil
}

func (s *session) readImage() error {
	raster, compression, err := decodeComposite(s.r, s.doc.Header, s.doc.ColorData, s.opts)
	s.doc.Image = raster
	s.doc.Compression = compression
	if err != nil && !errors.Is(err, ErrAborted) {
		return fmt.Errorf("failed to parse image: %w", err)
	}
	return err
}

func (s *session) run() (*Document, error) {
	if err := s.readHeader(); err != nil {
		return nil, err
	}
	if err := s.readResources(true); err != nil {
		return nil, err
	}
	if err := s.readLayers(); err != nil {
		return nil, err
	}
	if err := s.readImage(); err != nil {
		if errors.Is(err, ErrAborted) {
			return s.doc, err
		}
		return nil, err
	}
	return s.doc, nil
}

// Decode reads a whole document from rs, starting at its current position.
// When the Abort hook stops the decode, the document is returned together
// with ErrAborted and its Image is only partially filled.
func Decode(rs io.ReadSeeker, opts *Options) (*Document, error) {
	s, err := newSession(rs, opts)
	if err != nil {
		return nil, err
	}
	return s.run()
}

// DecodeContext is like Decode but also stops when ctx is done. The
// returned error then matches both ErrAborted and ctx.Err().
func DecodeContext(ctx context.Context, rs io.ReadSeeker, opts *Options) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := Options{}
	if opts != nil {
		o = *opts
	}
	abort := o.Abort
	o.Abort = func() bool {
		return ctx.Err() != nil || (abort != nil && abort())
	}

	doc, err := Decode(rs, &o)
	if errors.Is(err, ErrAborted) && ctx.Err() != nil {
		return doc, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	}
	return doc, err
}

// Open decodes the named file and calls fn with the result.
func Open(filename string, opts *Options, fn func(*Document) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := Decode(f, opts)
	if err != nil {
		return err
	}
	return fn(doc)
}

// Probe reports whether rs starts with a PSD header this package can
// decode. The stream position is restored.
func Probe(rs io.ReadSeeker) (bool, error) {
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, err
	}
	var buf [6]byte
	n, err := io.ReadFull(rs, buf[:])
	if _, serr := rs.Seek(pos, io.SeekStart); serr != nil {
		return false, serr
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, err
	}
	return ProbeBytes(buf[:n]), nil
}

// ProbeBytes reports whether b starts with the signature and version of a
// PSD document.
func ProbeBytes(b []byte) bool {
	return len(b) >= 6 && string(b[:4]) == psdSignature && b[4] == 0 && b[5] == versionPSD
}

func asReadSeeker(r io.Reader) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

// DecodeConfig returns the dimensions and color model of the composite
// image without decoding any resources, layers or pixels.
func DecodeConfig(r io.Reader) (image.Config, error) {
	rs, err := asReadSeeker(r)
	if err != nil {
		return image.Config{}, err
	}
	s, err := newSession(rs, nil)
	if err != nil {
		return image.Config{}, err
	}
	if err := s.readHeader(); err != nil {
		return image.Config{}, err
	}
	raster, err := rasterConfig(s.doc.Header, s.doc.ColorData)
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{
		ColorModel: raster.ColorModel(),
		Width:      raster.Width,
		Height:     raster.Height,
	}, nil
}

func decodeImage(r io.Reader) (image.Image, error) {
	rs, err := asReadSeeker(r)
	if err != nil {
		return nil, err
	}
	doc, err := Decode(rs, nil)
	if err != nil {
		return nil, err
	}
	return doc.Image.Image(), nil
}

func init() {
	image.RegisterFormat("psd", psdSignature, decodeImage, DecodeConfig)
}

// Tree returns the layer tree, or nil if the layer section was not read.
func (d *Document) Tree() *Node {
	if d.Layers == nil {
		return nil
	}
	return d.Layers.Tree()
}

func (d *Document) resource(id ResourceID) ResourceValue {
	if d.Resources == nil {
		return nil
	}
	res := d.Resources.Get(id)
	if res == nil {
		return nil
	}
	return res.Value
}

// Resolution returns the resolution info resource, if any.
func (d *Document) Resolution() *ResolutionInfo {
	ri, _ := d.resource(ResourceResolutionInfo).(*ResolutionInfo)
	return ri
}

// ICCProfile returns the embedded ICC profile bytes, if any.
func (d *Document) ICCProfile() []byte {
	if p, ok := d.resource(ResourceICCProfile).(*ICCProfile); ok {
		return p.Data
	}
	return nil
}

// EXIF returns the parsed EXIF directory, if any.
func (d *Document) EXIF() *exif.Directory {
	if e, ok := d.resource(ResourceEXIF).(*EXIFData); ok {
		return e.Directory
	}
	return nil
}

// IPTC returns the parsed IPTC directory, if any.
func (d *Document) IPTC() *iptc.Directory {
	if e, ok := d.resource(ResourceIPTC).(*IPTCData); ok {
		return e.Directory
	}
	return nil
}

// XMP returns the parsed XMP packet, if any.
func (d *Document) XMP() *xmp.Packet {
	if e, ok := d.resource(ResourceXMP).(*XMPData); ok {
		return e.Packet
	}
	return nil
}

// Thumbnail returns the newest thumbnail resource, if any.
func (d *Document) Thumbnail() *Thumbnail {
	if th, ok := d.resource(ResourceThumbnail).(*Thumbnail); ok {
		return th
	}
	th, _ := d.resource(ResourceThumbnailPS4).(*Thumbnail)
	return th
}
