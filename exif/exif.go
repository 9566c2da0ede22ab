// Package exif reads the TIFF structured EXIF block that Photoshop embeds
// as an image resource. The IFD tree is decoded by tiff66; this package
// maps its fields onto typed values. It does not interpret maker notes or
// thumbnails.
package exif

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	tiff "github.com/garyhouston/tiff66"
)

// Type is a TIFF field type.
type Type uint16

// Field types
const (
	TypeByte      Type = 1
	TypeASCII     Type = 2
	TypeShort     Type = 3
	TypeLong      Type = 4
	TypeRational  Type = 5
	TypeSByte     Type = 6
	TypeUndefined Type = 7
	TypeSShort    Type = 8
	TypeSLong     Type = 9
	TypeSRational Type = 10
	TypeFloat     Type = 11
	TypeDouble    Type = 12
)

var typeNames = []string{
	"BYTE", "ASCII", "SHORT", "LONG", "RATIONAL",
	"SBYTE", "UNDEFINED", "SSHORT", "SLONG", "SRATIONAL", "FLOAT", "DOUBLE",
}

var typeSizes = []int{
	1, 1, 2, 4, 8,
	1, 1, 2, 4, 8, 4, 8,
}

func (t Type) String() string {
	if t >= 1 && int(t) <= len(typeNames) {
		return typeNames[t-1]
	}
	return fmt.Sprintf("Type(%d)", uint16(t))
}

// Size returns the byte size of one value of type t, or 0 if t is unknown.
func (t Type) Size() int {
	if t >= 1 && int(t) <= len(typeSizes) {
		return typeSizes[t-1]
	}
	return 0
}

// Tags with a name.
const (
	TagImageDescription uint16 = 0x010e
	TagMake             uint16 = 0x010f
	TagModel            uint16 = 0x0110
	TagOrientation      uint16 = 0x0112
	TagXResolution      uint16 = 0x011a
	TagYResolution      uint16 = 0x011b
	TagResolutionUnit   uint16 = 0x0128
	TagSoftware         uint16 = 0x0131
	TagDateTime         uint16 = 0x0132
	TagArtist           uint16 = 0x013b
	TagCopyright        uint16 = 0x8298
	TagExposureTime     uint16 = 0x829a
	TagFNumber          uint16 = 0x829d
	TagExifIFD          uint16 = 0x8769
	TagISOSpeed         uint16 = 0x8827
	TagDateTimeOriginal uint16 = 0x9003
	TagFocalLength      uint16 = 0x920a
	TagColorSpace       uint16 = 0xa001
	TagPixelXDimension  uint16 = 0xa002
	TagPixelYDimension  uint16 = 0xa003
)

var tagNames = map[uint16]string{
	TagImageDescription: "ImageDescription",
	TagMake:             "Make",
	TagModel:            "Model",
	TagOrientation:      "Orientation",
	TagXResolution:      "XResolution",
	TagYResolution:      "YResolution",
	TagResolutionUnit:   "ResolutionUnit",
	TagSoftware:         "Software",
	TagDateTime:         "DateTime",
	TagArtist:           "Artist",
	TagCopyright:        "Copyright",
	TagExposureTime:     "ExposureTime",
	TagFNumber:          "FNumber",
	TagExifIFD:          "ExifIFD",
	TagISOSpeed:         "ISOSpeedRatings",
	TagDateTimeOriginal: "DateTimeOriginal",
	TagFocalLength:      "FocalLength",
	TagColorSpace:       "ColorSpace",
	TagPixelXDimension:  "PixelXDimension",
	TagPixelYDimension:  "PixelYDimension",
}

// TagName returns a readable name for tag.
func TagName(tag uint16) string {
	if name, ok := tagNames[tag]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", tag)
}

// Entry is a single directory entry. Value holds a scalar when Count is 1
// and a slice otherwise; ASCII values are strings and rationals are
// float64. Sub is set for sub-directory pointers such as the EXIF IFD
// instead of Value.
type Entry struct {
	Tag   uint16
	Type  Type
	Count uint32
	Value any
	Sub   *Directory
}

func (e Entry) String() string {
	if e.Sub != nil {
		return fmt.Sprintf("%s: %v", TagName(e.Tag), e.Sub)
	}
	if s, ok := e.Value.(string); ok {
		return fmt.Sprintf("%s: %q (%s, %d)", TagName(e.Tag), s, e.Type, e.Count)
	}
	return fmt.Sprintf("%s: %v (%s, %d)", TagName(e.Tag), e.Value, e.Type, e.Count)
}

// Directory is an image file directory. Entries of directories chained
// through the next-IFD pointer are appended to the first one.
type Directory struct {
	Entries []Entry
}

func (d *Directory) String() string {
	parts := make([]string, len(d.Entries))
	for i, e := range d.Entries {
		parts[i] = e.String()
	}
	return "Directory[" + strings.Join(parts, ", ") + "]"
}

// Lookup finds tag in d or any sub-directory.
func (d *Directory) Lookup(tag uint16) (Entry, bool) {
	for _, e := range d.Entries {
		if e.Tag == tag {
			return e, true
		}
	}
	for _, e := range d.Entries {
		if e.Sub != nil {
			if found, ok := e.Sub.Lookup(tag); ok {
				return found, true
			}
		}
	}
	return Entry{}, false
}

// FormatError reports malformed EXIF data.
type FormatError struct {
	Offset int64
	Msg    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("exif: invalid data at offset %d: %s", e.Offset, e.Msg)
}

// subIFDTags are the pointer tags whose value is the offset of another
// directory.
var subIFDTags = map[uint16]bool{
	TagExifIFD: true,
	0x8825:     true, // GPS
	0xa005:     true, // Interoperability
}

// Parse reads the byte order mark, the TIFF magic and the directory tree.
func Parse(b []byte) (*Directory, error) {
	if len(b) < int(tiff.HeaderSize) {
		return nil, &FormatError{Msg: fmt.Sprintf("need %d bytes of TIFF header, got %d", tiff.HeaderSize, len(b))}
	}
	valid, order, pos := tiff.GetHeader(b)
	if !valid {
		return nil, &FormatError{Msg: fmt.Sprintf("invalid TIFF header % x", b[:4])}
	}

	c := &checker{b: b, order: order, seen: map[uint32]bool{}}
	if err := c.chain(pos); err != nil {
		return nil, err
	}
	node, err := tiff.GetIFDTree(b, order, pos, tiff.TIFFSpace)
	if err != nil {
		return nil, &FormatError{Offset: int64(pos), Msg: err.Error()}
	}
	m := &mapper{b: b, order: order}
	return m.directory(node)
}

// checker walks the directory structure before it is decoded and rejects
// loops, unknown field types and values outside the block.
type checker struct {
	b     []byte
	order binary.ByteOrder
	seen  map[uint32]bool
}

func (c *checker) chain(offset uint32) error {
	for offset != 0 {
		next, err := c.directory(offset)
		if err != nil {
			return err
		}
		offset = next
	}
	return nil
}

func (c *checker) directory(offset uint32) (uint32, error) {
	if c.seen[offset] {
		return 0, &FormatError{Offset: int64(offset), Msg: "directory loop"}
	}
	c.seen[offset] = true

	size := uint64(len(c.b))
	if uint64(offset)+2 > size {
		return 0, &FormatError{Offset: int64(offset), Msg: fmt.Sprintf("directory offset outside of %d byte block", size)}
	}
	count := uint64(c.order.Uint16(c.b[offset:]))
	end := uint64(offset) + 2 + 12*count + 4
	if end > size {
		return 0, &FormatError{Offset: int64(offset), Msg: fmt.Sprintf("directory of %d entries overruns %d byte block", count, size)}
	}

	for i := uint64(0); i < count; i++ {
		start := uint64(offset) + 2 + 12*i
		f := c.b[start : start+12]
		tag := c.order.Uint16(f)
		typ := Type(c.order.Uint16(f[2:]))
		n := c.order.Uint32(f[4:])

		if subIFDTags[tag] {
			if err := c.chain(c.order.Uint32(f[8:])); err != nil {
				return 0, err
			}
			continue
		}
		if typ.Size() == 0 {
			return 0, &FormatError{Offset: int64(start), Msg: fmt.Sprintf("unknown field type %d for tag 0x%04x", typ, tag)}
		}
		length := uint64(typ.Size()) * uint64(n)
		if length <= 4 {
			continue
		}
		if at := uint64(c.order.Uint32(f[8:])); at+length > size {
			return 0, &FormatError{Offset: int64(start), Msg: fmt.Sprintf("tag 0x%04x value of %d bytes at offset %d overruns block", tag, length, at)}
		}
	}
	return c.order.Uint32(c.b[end-4:]), nil
}

// mapper converts a decoded IFD tree into Directory values.
type mapper struct {
	b     []byte
	order binary.ByteOrder
}

func (m *mapper) directory(node *tiff.IFDNode) (*Directory, error) {
	d := &Directory{}
	for n := node; n != nil; n = n.Next {
		subs := make(map[uint16]*tiff.IFDNode, len(n.SubIFDs))
		for _, s := range n.SubIFDs {
			subs[uint16(s.Tag)] = s.Node
		}

		for _, f := range n.Fields {
			e := Entry{Tag: uint16(f.Tag), Type: Type(f.Type), Count: uint32(f.Count)}
			sub, ok := subs[e.Tag]
			if !ok && e.Tag == TagExifIFD && len(f.Data) >= 4 {
				var err error
				if sub, err = tiff.GetIFDTree(m.b, m.order, m.order.Uint32(f.Data), tiff.ExifSpace); err != nil {
					return nil, &FormatError{Offset: int64(m.order.Uint32(f.Data)), Msg: err.Error()}
				}
				ok = true
			}
			if ok {
				delete(subs, e.Tag)
				dir, err := m.directory(sub)
				if err != nil {
					return nil, err
				}
				e.Sub = dir
				d.Entries = append(d.Entries, e)
				continue
			}

			v, err := decodeValue(bytes.NewReader(f.Data), m.order, e.Type, e.Count)
			if err != nil {
				return nil, &FormatError{Msg: fmt.Sprintf("tag %s: %v", TagName(e.Tag), err)}
			}
			e.Value = v
			d.Entries = append(d.Entries, e)
		}

		// Pointer fields the tree keeps only as sub-directories.
		for _, s := range n.SubIFDs {
			if _, left := subs[uint16(s.Tag)]; !left {
				continue
			}
			dir, err := m.directory(s.Node)
			if err != nil {
				return nil, err
			}
			d.Entries = append(d.Entries, Entry{Tag: uint16(s.Tag), Type: TypeLong, Count: 1, Sub: dir})
		}
	}
	return d, nil
}

func decodeValue(r io.Reader, order binary.ByteOrder, t Type, count uint32) (any, error) {
	n := int(count)
	switch t {
	case TypeASCII:
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return strings.TrimRight(string(buf), "\x00"), nil
	case TypeByte:
		return readScalarOrSlice[uint8](r, order, n)
	case TypeSByte:
		return readScalarOrSlice[int8](r, order, n)
	case TypeUndefined:
		buf := make([]byte, n)
		_, err := io.ReadFull(r, buf)
		return buf, err
	case TypeShort:
		return readScalarOrSlice[uint16](r, order, n)
	case TypeSShort:
		return readScalarOrSlice[int16](r, order, n)
	case TypeLong:
		return readScalarOrSlice[uint32](r, order, n)
	case TypeSLong:
		return readScalarOrSlice[int32](r, order, n)
	case TypeFloat:
		return readScalarOrSlice[float32](r, order, n)
	case TypeDouble:
		return readScalarOrSlice[float64](r, order, n)
	case TypeRational:
		pairs := make([]uint32, 2*n)
		if err := binary.Read(r, order, pairs); err != nil {
			return nil, err
		}
		return rationals(n, func(i int) float64 { return ratio(float64(pairs[2*i]), float64(pairs[2*i+1])) }), nil
	case TypeSRational:
		pairs := make([]int32, 2*n)
		if err := binary.Read(r, order, pairs); err != nil {
			return nil, err
		}
		return rationals(n, func(i int) float64 { return ratio(float64(pairs[2*i]), float64(pairs[2*i+1])) }), nil
	}
	return nil, fmt.Errorf("unknown field type %d", t)
}

func readScalarOrSlice[T uint8 | int8 | uint16 | int16 | uint32 | int32 | float32 | float64](r io.Reader, order binary.ByteOrder, n int) (any, error) {
	values := make([]T, n)
	if err := binary.Read(r, order, values); err != nil {
		return nil, err
	}
	if n == 1 {
		return values[0], nil
	}
	return values, nil
}

func rationals(n int, at func(int) float64) any {
	if n == 1 {
		return at(0)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = at(i)
	}
	return out
}

// ratio maps a zero denominator to 0.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
