package psd

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

// LayerMaskData is the layer mask / adjustment layer record of a layer.
type LayerMaskData struct {
	Top          int32
	Left         int32
	Bottom       int32
	Right        int32
	DefaultColor uint8
	Flags        uint8

	// Mask parameters, present when Flags has bit 4 set.
	Parameters        uint8
	UserMaskDensity   uint8
	UserMaskFeather   float64
	VectorMaskDensity uint8
	VectorMaskFeather float64

	// The real user mask, present in records longer than 20 bytes.
	HasRealMask    bool
	RealFlags      uint8
	RealBackground uint8
	RealTop        int32
	RealLeft       int32
	RealBottom     int32
	RealRight      int32
}

// Relative reports whether the mask position is relative to the layer.
func (m *LayerMaskData) Relative() bool { return m.Flags&0x01 != 0 }

// Disabled reports whether the mask is switched off.
func (m *LayerMaskData) Disabled() bool { return m.Flags&0x02 != 0 }

// Inverted reports the obsolete invert-when-blending flag.
func (m *LayerMaskData) Inverted() bool { return m.Flags&0x04 != 0 }

const (
	maskParamsApplied    = 0x10
	minLayerMaskDataSize = 20
	maxLayerMaskDataSize = 55
)

func parseLayerMaskData(r *reader, extra section) (*LayerMaskData, error) {
	if r.remaining(extra) < 4 {
		return nil, nil
	}
	at := r.Tell()
	size, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read layer mask data size: %w", err)
	}
	if size == 0 {
		return nil, nil
	}
	if size < minLayerMaskDataSize || size > maxLayerMaskDataSize {
		return nil, formatErrorf(at, "layer mask data size %d outside %d..%d", size, minLayerMaskDataSize, maxLayerMaskDataSize)
	}
	s, err := r.openWithin(extra, "layer mask data", int64(size))
	if err != nil {
		return nil, err
	}

	m := &LayerMaskData{}
	rect := make([]int32, 4)
	if err := binary.Read(r, binary.BigEndian, rect); err != nil {
		return nil, fmt.Errorf("failed to read layer mask rectangle: %w", err)
	}
	m.Top, m.Left, m.Bottom, m.Right = rect[0], rect[1], rect[2], rect[3]
	if m.DefaultColor, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if m.Flags, err = r.ReadByte(); err != nil {
		return nil, err
	}

	if m.Flags&maskParamsApplied != 0 && r.remaining(s) > 0 {
		if err := m.readParameters(r, s); err != nil {
			return nil, err
		}
	}

	if size > minLayerMaskDataSize && r.remaining(s) >= 18 {
		m.HasRealMask = true
		if m.RealFlags, err = r.ReadByte(); err != nil {
			return nil, err
		}
		if m.RealBackground, err = r.ReadByte(); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, rect); err != nil {
			return nil, fmt.Errorf("failed to read real layer mask rectangle: %w", err)
		}
		m.RealTop, m.RealLeft, m.RealBottom, m.RealRight = rect[0], rect[1], rect[2], rect[3]
	}

	if r.Tell() > s.end {
		return nil, r.expectEnd(s)
	}
	if err := r.seekEnd(s); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *LayerMaskData) readParameters(r *reader, s section) error {
	var err error
	if m.Parameters, err = r.ReadByte(); err != nil {
		return err
	}
	if m.Parameters&0x01 != 0 {
		if m.UserMaskDensity, err = r.ReadByte(); err != nil {
			return err
		}
	}
	if m.Parameters&0x02 != 0 {
		if err := binary.Read(r, binary.BigEndian, &m.UserMaskFeather); err != nil {
			return err
		}
	}
	if m.Parameters&0x04 != 0 {
		if m.VectorMaskDensity, err = r.ReadByte(); err != nil {
			return err
		}
	}
	if m.Parameters&0x08 != 0 {
		if err := binary.Read(r, binary.BigEndian, &m.VectorMaskFeather); err != nil {
			return err
		}
	}
	if r.Tell() > s.end {
		return r.expectEnd(s)
	}
	return nil
}

// GlobalLayerMask is the document wide mask record after the layer info.
type GlobalLayerMask struct {
	ColorSpace uint16
	Color      [4]uint16
	// Opacity is 0 for transparent and 100 for opaque.
	Opacity uint16
	// Kind is 0 for color selected, 1 for color protected and 128 to use
	// the value stored per layer.
	Kind uint8
}

const globalLayerMaskSize = 13

// LayerMask represents the layer and mask information section
type LayerMask struct {
	// Layers in file order, which is bottom-most first.
	Layers []*Layer
	// MergedAlpha is set when the layer count was stored negative: the
	// first alpha channel then holds the transparency of the merged image.
	MergedAlpha bool
	GlobalMask  *GlobalLayerMask
	// Skipped is set when the section was stepped over without decoding.
	Skipped bool
	tree    *Node
}

// parseLayerMask reads the layer and mask information section and leaves
// the cursor at its end.
func parseLayerMask(r *reader, h *Header, opts *Options) (*LayerMask, error) {
	length, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read layer mask length: %w", err)
	}
	s, err := r.openSection("layer and mask information", int64(length))
	if err != nil {
		return nil, err
	}
	opts.logger().Debug("layer and mask information", slog.Int64("offset", s.start), slog.Uint64("length", uint64(length)))

	lm := &LayerMask{Layers: []*Layer{}}
	if opts.SkipLayers {
		lm.Skipped = true
		lm.buildTree(h)
		return lm, r.seekEnd(s)
	}

	if r.remaining(s) >= 4 {
		if err := lm.parseLayerInfo(r, s, opts); err != nil {
			return nil, fmt.Errorf("failed to parse layer info: %w", err)
		}
	}
	if r.remaining(s) >= 4 {
		if err := lm.parseGlobalMask(r, s); err != nil {
			return nil, fmt.Errorf("failed to parse global layer mask: %w", err)
		}
	}

	if r.Tell() > s.end {
		return nil, r.expectEnd(s)
	}
	if err := r.seekEnd(s); err != nil {
		return nil, err
	}

	lm.buildTree(h)
	return lm, nil
}

func (lm *LayerMask) parseLayerInfo(r *reader, outer section, opts *Options) error {
	length, err := r.ReadUint32()
	if err != nil {
		return err
	}
	info, err := r.openWithin(outer, "layer info", int64(length))
	if err != nil {
		return err
	}
	if length == 0 {
		return nil
	}

	count, err := r.ReadInt16()
	if err != nil {
		return fmt.Errorf("failed to read layer count: %w", err)
	}
	n := int(count)
	if n < 0 {
		lm.MergedAlpha = true
		n = -n
	}

	lm.Layers = make([]*Layer, n)
	for i := range lm.Layers {
		layer, err := parseRecord(r, info, opts)
		if err != nil {
			return fmt.Errorf("failed to parse layer %d: %w", i, err)
		}
		lm.Layers[i] = layer
		opts.logger().Debug("layer", slog.Int("index", i), slog.String("name", layer.Name),
			slog.Int64("offset", layer.Offset), slog.Int("channels", len(layer.ChannelInfo)))
	}

	for _, layer := range lm.Layers {
		if err := layer.parseChannelData(r); err != nil {
			return fmt.Errorf("failed to parse channel data for layer %q: %w", layer.Name, err)
		}
	}

	if r.Tell() > info.end {
		return r.expectEnd(info)
	}
	return r.seekEnd(info)
}

func (lm *LayerMask) parseGlobalMask(r *reader, outer section) error {
	length, err := r.ReadUint32()
	if err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	s, err := r.openWithin(outer, "global layer mask", int64(length))
	if err != nil {
		return err
	}
	if length >= globalLayerMaskSize {
		gm := &GlobalLayerMask{}
		if err := binary.Read(r, binary.BigEndian, gm); err != nil {
			return err
		}
		lm.GlobalMask = gm
	}
	return r.seekEnd(s)
}

// Tree returns the layer tree
func (lm *LayerMask) Tree() *Node {
	return lm.tree
}
