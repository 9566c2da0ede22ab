package psd

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"
)

// be encodes values big-endian, the way they are laid out on disk.
func be(values ...any) []byte {
	buf := new(bytes.Buffer)
	for _, v := range values {
		switch v := v.(type) {
		case string:
			buf.WriteString(v)
		case []byte:
			buf.Write(v)
		default:
			if err := binary.Write(buf, binary.BigEndian, v); err != nil {
				panic(err)
			}
		}
	}
	return buf.Bytes()
}

// pascal encodes s with a length byte, padding the total to pad bytes.
func pascal(s string, pad int) []byte {
	out := append([]byte{byte(len(s))}, s...)
	for len(out)%pad != 0 {
		out = append(out, 0)
	}
	return out
}

// unicodeString encodes s as a code unit count followed by UTF-16BE.
func unicodeString(s string) []byte {
	units := utf16.Encode([]rune(s))
	return be(uint32(len(units)), units)
}

func resourceRecord(id ResourceID, name string, data []byte) []byte {
	out := be(imageSignature, uint16(id), pascal(name, 2), uint32(len(data)), data)
	if len(data)%2 == 1 {
		out = append(out, 0)
	}
	return out
}

type docBuilder struct {
	channels  uint16
	width     uint32
	height    uint32
	depth     uint16
	mode      ColorMode
	colorData []byte
	resources []byte
	layers    []byte
	image     []byte
}

func newDoc(mode ColorMode, channels uint16, width, height uint32) *docBuilder {
	return &docBuilder{channels: channels, width: width, height: height, depth: 8, mode: mode}
}

func (b *docBuilder) header() []byte {
	return be(psdSignature, uint16(versionPSD), make([]byte, 6), b.channels, b.height, b.width, b.depth, uint16(b.mode))
}

// resourceBlock returns the resources section including its length.
func (b *docBuilder) resourceBlock() []byte {
	return be(uint32(len(b.resources)), b.resources)
}

func (b *docBuilder) bytes() []byte {
	return be(
		b.header(),
		uint32(len(b.colorData)), b.colorData,
		b.resourceBlock(),
		uint32(len(b.layers)), b.layers,
		b.image,
	)
}

func (b *docBuilder) reader() *bytes.Reader {
	return bytes.NewReader(b.bytes())
}

// rawImage builds uncompressed image data from one plane per channel.
func rawImage(planes ...[]byte) []byte {
	out := be(uint16(CompressionNone))
	for _, p := range planes {
		out = append(out, p...)
	}
	return out
}

// rleImage builds RLE image data from compressed rows, channel-major.
func rleImage(rows ...[]byte) []byte {
	out := be(uint16(CompressionRLE))
	for _, row := range rows {
		out = append(out, be(uint16(len(row)))...)
	}
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}

// packRow encodes a row as literal runs of at most 128 bytes.
func packRow(row []byte) []byte {
	var out []byte
	for len(row) > 0 {
		n := min(len(row), 128)
		out = append(out, byte(n-1))
		out = append(out, row[:n]...)
		row = row[n:]
	}
	return out
}

type testLayer struct {
	top, left, bottom, right int32
	name                     string
	blendKey                 string
	opacity                  uint8
	flags                    uint8
	channels                 []int16
	mask                     []byte
	ranges                   []byte
	info                     []byte
}

// record encodes the layer record. Every channel carries two bytes: a raw
// compression tag without pixels.
func (l testLayer) record() []byte {
	key := l.blendKey
	if key == "" {
		key = "norm"
	}
	channels := be(uint16(len(l.channels)))
	for _, id := range l.channels {
		channels = append(channels, be(id, uint32(2))...)
	}
	extra := be(uint32(len(l.mask)), l.mask, uint32(len(l.ranges)), l.ranges, pascal(l.name, 4), l.info)
	return be(
		l.top, l.left, l.bottom, l.right,
		channels,
		imageSignature, key,
		l.opacity, uint8(0), l.flags, uint8(0),
		uint32(len(extra)), extra,
	)
}

func (l testLayer) channelData() []byte {
	var out []byte
	for range l.channels {
		out = append(out, be(uint16(CompressionNone))...)
	}
	return out
}

func layerInfoBlock(key string, data []byte) []byte {
	b := be(imageSignature, key, uint32(len(data)), data)
	if len(data)%2 != 0 {
		b = append(b, 0)
	}
	return b
}

func sectionDivider(t SectionDividerType) []byte {
	return layerInfoBlock(LayerInfoSectionDivider, be(int32(t)))
}

// layerSection encodes the layer and mask section body, without its
// length, for layers given bottom-most first.
func layerSection(layers []testLayer, globalMask []byte) []byte {
	body := be(int16(len(layers)))
	for _, l := range layers {
		body = append(body, l.record()...)
	}
	for _, l := range layers {
		body = append(body, l.channelData()...)
	}
	return be(uint32(len(body)), body, uint32(len(globalMask)), globalMask)
}
