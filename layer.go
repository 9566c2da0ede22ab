package psd

import (
	"encoding/binary"
	"fmt"
	"image"
	"log/slog"
	"strings"
)

// Layer is the metadata of one layer record. Pixel data of layers is
// skipped; only the composite image is decoded.
type Layer struct {
	Top    int32
	Left   int32
	Bottom int32
	Right  int32

	ChannelInfo  []ChannelInfo
	BlendModeKey string
	Opacity      uint8
	Clipping     uint8
	Flags        uint8
	// Name is the Pascal name, replaced by the Unicode name when the
	// record carries one.
	Name string

	Mask           *LayerMaskData
	BlendingRanges []BlendingRange

	// Additional layer information keyed by its four character code.
	LayerInfo map[string][]byte

	ID          int32
	FillOpacity uint8
	Section     *SectionDividerInfo

	// Offset of the layer record in the document.
	Offset int64
}

// ChannelInfo represents channel information in the layer record
type ChannelInfo struct {
	// ID is 0.. for color channels, -1 for transparency, -2 for the user
	// mask and -3 for the real user mask.
	ID          int16
	Length      uint32
	Compression Compression
}

// BlendingRange is the source and destination range of one channel, each
// as black low, black high, white low, white high.
type BlendingRange struct {
	Source      [4]uint8
	Destination [4]uint8
}

// Layer flag bits
const (
	LayerFlagTransparencyProtected = 0x01
	LayerFlagHidden                = 0x02
	LayerFlagObsolete              = 0x04
	LayerFlagPixelDataIrrelevant   = 0x18
)

// Bounds returns the layer rectangle in document coordinates.
func (l *Layer) Bounds() image.Rectangle {
	return image.Rect(int(l.Left), int(l.Top), int(l.Right), int(l.Bottom))
}

// Width returns the width of the layer
func (l *Layer) Width() int32 {
	return l.Right - l.Left
}

// Height returns the height of the layer
func (l *Layer) Height() int32 {
	return l.Bottom - l.Top
}

// Visible returns whether the layer is visible
func (l *Layer) Visible() bool {
	return l.Flags&LayerFlagHidden == 0
}

// TransparencyProtected reports whether the layer transparency is locked.
func (l *Layer) TransparencyProtected() bool {
	return l.Flags&LayerFlagTransparencyProtected != 0
}

// IsFolder returns whether this layer is a group start or a group end
// marker.
func (l *Layer) IsFolder() bool {
	return l.Section != nil && l.Section.Type != SectionDividerOther
}

// IsFolderEnd returns whether this is the hidden marker closing a group.
func (l *Layer) IsFolderEnd() bool {
	return l.Section != nil && l.Section.Type == SectionDividerBoundingStart
}

// BlendMode returns the blend mode
func (l *Layer) BlendMode() *BlendMode {
	return &BlendMode{
		Key:               l.BlendModeKey,
		Mode:              blendModeName(l.BlendModeKey),
		Opacity:           l.Opacity,
		OpacityPercentage: int(float64(l.Opacity) / 255.0 * 100),
		Visible:           l.Visible(),
	}
}

// BlendMode represents layer blend mode information
type BlendMode struct {
	Key               string
	Mode              string
	Opacity           uint8
	OpacityPercentage int
	Visible           bool
}

var blendModeNames = map[string]string{
	"pass": "pass_through",
	"norm": "normal",
	"diss": "dissolve",
	"dark": "darken",
	"mul ": "multiply",
	"idiv": "color_burn",
	"lbrn": "linear_burn",
	"dkCl": "darker_color",
	"lite": "lighten",
	"scrn": "screen",
	"div ": "color_dodge",
	"lddg": "linear_dodge",
	"lgCl": "lighter_color",
	"over": "overlay",
	"sLit": "soft_light",
	"hLit": "hard_light",
	"vLit": "vivid_light",
	"lLit": "linear_light",
	"pLit": "pin_light",
	"hMix": "hard_mix",
	"diff": "difference",
	"smud": "exclusion",
	"fsub": "subtract",
	"fdiv": "divide",
	"hue ": "hue",
	"sat ": "saturation",
	"colr": "color",
	"lum ": "luminosity",
}

func blendModeName(key string) string {
	if mode, ok := blendModeNames[key]; ok {
		return mode
	}
	return strings.TrimSpace(key)
}

// parseRecord reads one layer record up to the end of its extra data. The
// extra data length is authoritative: whatever the sub-records leave
// unread is skipped.
func parseRecord(r *reader, info section, opts *Options) (*Layer, error) {
	l := &Layer{Offset: r.Tell(), FillOpacity: 255}

	rect := make([]int32, 4)
	if err := binary.Read(r, binary.BigEndian, rect); err != nil {
		return nil, fmt.Errorf("failed to read layer rectangle: %w", err)
	}
	l.Top, l.Left, l.Bottom, l.Right = rect[0], rect[1], rect[2], rect[3]
	if l.Right < l.Left || l.Bottom < l.Top {
		return nil, formatErrorf(l.Offset, "layer rectangle (%d,%d)-(%d,%d) is inverted", l.Left, l.Top, l.Right, l.Bottom)
	}

	channels, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("failed to read layer channel count: %w", err)
	}
	l.ChannelInfo = make([]ChannelInfo, channels)
	for i := range l.ChannelInfo {
		if l.ChannelInfo[i].ID, err = r.ReadInt16(); err != nil {
			return nil, fmt.Errorf("failed to read channel id: %w", err)
		}
		if l.ChannelInfo[i].Length, err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("failed to read channel length: %w", err)
		}
	}

	sigAt := r.Tell()
	sig, err := r.ReadString(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read blend mode signature: %w", err)
	}
	if sig != imageSignature {
		return nil, formatErrorf(sigAt, "invalid blend mode signature %q", sig)
	}
	if l.BlendModeKey, err = r.ReadString(4); err != nil {
		return nil, fmt.Errorf("failed to read blend mode key: %w", err)
	}

	var fields [4]byte
	if _, err := r.Read(fields[:]); err != nil {
		return nil, fmt.Errorf("failed to read layer flags: %w", err)
	}
	l.Opacity, l.Clipping, l.Flags = fields[0], fields[1], fields[2]

	extraLen, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read extra data length: %w", err)
	}
	extra, err := r.openWithin(info, "layer extra data", int64(extraLen))
	if err != nil {
		return nil, err
	}

	if l.Mask, err = parseLayerMaskData(r, extra); err != nil {
		return nil, err
	}
	if l.BlendingRanges, err = parseBlendingRanges(r, extra); err != nil {
		return nil, err
	}
	if r.Tell() < extra.end {
		if l.Name, err = r.ReadPascalString(4); err != nil {
			return nil, fmt.Errorf("failed to read layer name: %w", err)
		}
	}
	if err := l.parseAdditionalLayerInfo(r, extra, opts); err != nil {
		return nil, err
	}

	if r.Tell() > extra.end {
		return nil, r.expectEnd(extra)
	}
	if err := r.seekEnd(extra); err != nil {
		return nil, err
	}
	return l, nil
}

func parseBlendingRanges(r *reader, extra section) ([]BlendingRange, error) {
	if r.remaining(extra) < 4 {
		return nil, nil
	}
	at := r.Tell()
	length, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read blending ranges length: %w", err)
	}
	if length%8 != 0 {
		return nil, formatErrorf(at, "layer blending ranges size %d is not a multiple of 8", length)
	}
	if int64(length) > r.remaining(extra) {
		return nil, formatErrorf(at, "layer blending ranges of %d bytes overrun layer extra data", length)
	}
	ranges := make([]BlendingRange, length/8)
	if err := binary.Read(r, binary.BigEndian, ranges); err != nil {
		return nil, fmt.Errorf("failed to read blending ranges: %w", err)
	}
	return ranges, nil
}

// parseAdditionalLayerInfo walks the tagged blocks after the layer name.
// Block data is padded to an even length. An unknown signature ends the
// walk; the caller skips the rest.
func (l *Layer) parseAdditionalLayerInfo(r *reader, extra section, opts *Options) error {
	for r.remaining(extra) >= 12 {
		at := r.Tell()
		sig, err := r.ReadString(4)
		if err != nil {
			return err
		}
		if sig != imageSignature && sig != "8B64" {
			opts.logger().Debug("unknown additional layer info signature", slog.String("signature", sig), slog.Int64("offset", at))
			return nil
		}
		key, err := r.ReadString(4)
		if err != nil {
			return err
		}
		length, err := r.ReadUint32()
		if err != nil {
			return err
		}
		if int64(length) > r.remaining(extra) {
			return formatErrorf(at, "additional layer info %q of %d bytes overruns layer extra data", key, length)
		}
		data, err := r.ReadBytes(int64(length))
		if err != nil {
			return err
		}
		if l.LayerInfo == nil {
			l.LayerInfo = make(map[string][]byte)
		}
		l.LayerInfo[key] = data

		if err := l.applyLayerInfo(key, data, at); err != nil {
			return err
		}
		if length%2 != 0 && r.remaining(extra) > 0 {
			if err := r.Skip(1); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseChannelData reads the compression tag of every channel and skips
// the pixel payload.
func (l *Layer) parseChannelData(r *reader) error {
	for i := range l.ChannelInfo {
		ch := &l.ChannelInfo[i]
		if ch.Length < 2 {
			if err := r.Skip(int64(ch.Length)); err != nil {
				return fmt.Errorf("failed to skip channel %d: %w", ch.ID, err)
			}
			continue
		}

		at := r.Tell()
		compression, err := r.ReadUint16()
		if err != nil {
			return fmt.Errorf("failed to read compression for channel %d: %w", ch.ID, err)
		}
		ch.Compression = Compression(compression)
		if !ch.Compression.known() {
			return formatErrorf(at, "unknown compression %d for channel %d", compression, ch.ID)
		}
		if err := r.Skip(int64(ch.Length) - 2); err != nil {
			return fmt.Errorf("failed to skip channel %d: %w", ch.ID, err)
		}
	}
	return nil
}
