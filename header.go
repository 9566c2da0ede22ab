package psd

import (
	"fmt"
)

// ColorMode is the document color mode stored in the header.
type ColorMode uint16

// Color modes
const (
	ColorModeBitmap       ColorMode = 0
	ColorModeGrayscale    ColorMode = 1
	ColorModeIndexed      ColorMode = 2
	ColorModeRGB          ColorMode = 3
	ColorModeCMYK         ColorMode = 4
	ColorModeHSL          ColorMode = 5
	ColorModeHSB          ColorMode = 6
	ColorModeMultichannel ColorMode = 7
	ColorModeDuotone      ColorMode = 8
	ColorModeLab          ColorMode = 9
)

var colorModeNames = []string{
	"Bitmap",
	"Grayscale",
	"Indexed",
	"RGB",
	"CMYK",
	"HSL",
	"HSB",
	"Multichannel",
	"Duotone",
	"Lab",
}

func (m ColorMode) String() string {
	if int(m) < len(colorModeNames) {
		return colorModeNames[m]
	}
	return fmt.Sprintf("Unknown(%d)", uint16(m))
}

const (
	headerSize     = 26
	maxChannels    = 56
	maxDimension   = 30000
	versionPSD     = 1
	versionPSB     = 2
	psdSignature   = "8BPS"
	imageSignature = "8BIM"
)

// Header represents the PSD file header
type Header struct {
	Version  uint16
	Channels uint16
	Rows     uint32
	Cols     uint32
	Depth    uint16
	Mode     ColorMode
}

// Width returns the width of the document
func (h *Header) Width() int {
	return int(h.Cols)
}

// Height returns the height of the document
func (h *Header) Height() int {
	return int(h.Rows)
}

// ModeName returns the human-readable color mode name
func (h *Header) ModeName() string {
	return h.Mode.String()
}

// IsRGB returns true if the color mode is RGB
func (h *Header) IsRGB() bool {
	return h.Mode == ColorModeRGB
}

// IsCMYK returns true if the color mode is CMYK
func (h *Header) IsCMYK() bool {
	return h.Mode == ColorModeCMYK
}

func (h *Header) String() string {
	return fmt.Sprintf("Header[version: %d, channels: %d, width: %d, height: %d, depth: %d, mode: %d (%s)]",
		h.Version, h.Channels, h.Cols, h.Rows, h.Depth, uint16(h.Mode), h.Mode)
}

// parseHeader reads the 26 byte file header and validates every field.
func parseHeader(r *reader) (*Header, error) {
	sig, err := r.ReadString(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature: %w", err)
	}
	if sig != psdSignature {
		return nil, formatErrorf(0, "not a PSD document, expected signature %q, got %q", psdSignature, sig)
	}

	h := &Header{}
	if h.Version, err = r.ReadUint16(); err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}
	switch h.Version {
	case versionPSD:
	case versionPSB:
		return nil, unsupportedf("large document format (PSB, version 2)")
	default:
		return nil, unsupportedf("PSD version %d", h.Version)
	}

	if err := r.Skip(6); err != nil {
		return nil, fmt.Errorf("failed to skip reserved bytes: %w", err)
	}

	if h.Channels, err = r.ReadUint16(); err != nil {
		return nil, fmt.Errorf("failed to read channels: %w", err)
	}
	if h.Channels < 1 || h.Channels > maxChannels {
		return nil, formatErrorf(12, "channel count %d outside 1..%d", h.Channels, maxChannels)
	}

	if h.Rows, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if h.Cols, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("failed to read cols: %w", err)
	}
	if h.Rows < 1 || h.Rows > maxDimension || h.Cols < 1 || h.Cols > maxDimension {
		return nil, formatErrorf(14, "dimensions %dx%d outside 1..%d", h.Cols, h.Rows, maxDimension)
	}

	if h.Depth, err = r.ReadUint16(); err != nil {
		return nil, fmt.Errorf("failed to read depth: %w", err)
	}
	switch h.Depth {
	case 1, 8, 16, 32:
	default:
		return nil, formatErrorf(22, "bit depth %d not one of 1, 8, 16, 32", h.Depth)
	}

	mode, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("failed to read mode: %w", err)
	}
	h.Mode = ColorMode(mode)
	switch h.Mode {
	case ColorModeBitmap, ColorModeGrayscale, ColorModeIndexed, ColorModeRGB, ColorModeCMYK,
		ColorModeMultichannel, ColorModeDuotone, ColorModeLab:
	default:
		return nil, unsupportedf("color mode %s", h.Mode)
	}

	return h, nil
}
