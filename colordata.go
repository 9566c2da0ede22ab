package psd

import (
	"fmt"
	"image/color"
)

const paletteSize = 256

// ColorModeData holds the mode specific block that follows the header.
// Palette is set for indexed documents, Duotone keeps the duotone
// specification as an undecoded blob.
type ColorModeData struct {
	Palette *Palette
	Duotone []byte
}

// Palette is the 256 entry color table of an indexed document.
type Palette [paletteSize][3]byte

// Planes re-encodes the palette into the on-disk layout: all red values,
// then all green values, then all blue values.
func (p *Palette) Planes() []byte {
	out := make([]byte, 3*paletteSize)
	for i, rgb := range p {
		out[i] = rgb[0]
		out[paletteSize+i] = rgb[1]
		out[2*paletteSize+i] = rgb[2]
	}
	return out
}

// Palette returns the table as an opaque color.Palette.
func (p *Palette) Palette() color.Palette {
	pal := make(color.Palette, paletteSize)
	for i, rgb := range p {
		pal[i] = color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 0xff}
	}
	return pal
}

func paletteFromPlanes(b []byte) *Palette {
	var p Palette
	for i := range p {
		p[i] = [3]byte{b[i], b[paletteSize+i], b[2*paletteSize+i]}
	}
	return &p
}

func parseColorModeData(r *reader, h *Header) (*ColorModeData, error) {
	length, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read color data length: %w", err)
	}
	s, err := r.openSection("color mode data", int64(length))
	if err != nil {
		return nil, err
	}

	cd := &ColorModeData{}
	switch h.Mode {
	case ColorModeIndexed:
		if length != 3*paletteSize {
			return nil, formatErrorf(s.start-4, "indexed color data must be %d bytes, got %d", 3*paletteSize, length)
		}
		planes, err := r.ReadBytes(int64(length))
		if err != nil {
			return nil, fmt.Errorf("failed to read palette: %w", err)
		}
		cd.Palette = paletteFromPlanes(planes)
	case ColorModeDuotone:
		if cd.Duotone, err = r.ReadBytes(int64(length)); err != nil {
			return nil, fmt.Errorf("failed to read duotone data: %w", err)
		}
	}

	if err := r.seekEnd(s); err != nil {
		return nil, fmt.Errorf("failed to skip color data: %w", err)
	}
	return cd, nil
}
