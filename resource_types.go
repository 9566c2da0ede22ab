package psd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/Mark24Code/psddecode/exif"
	"github.com/Mark24Code/psddecode/iptc"
	"seehuhn.de/go/xmp"
)

// ResourceValue is the decoded payload of a Resource. The concrete type
// depends on the resource ID; unknown IDs decode to Opaque.
type ResourceValue interface {
	resourceValue()
}

func (*ICCProfile) resourceValue()            {}
func (*ResolutionInfo) resourceValue()        {}
func (AlphaChannelNames) resourceValue()      {}
func (DisplayInfo) resourceValue()            {}
func (*PrintFlags) resourceValue()            {}
func (*IPTCData) resourceValue()              {}
func (*GridAndGuides) resourceValue()         {}
func (*Thumbnail) resourceValue()             {}
func (UnicodeAlphaNames) resourceValue()      {}
func (*VersionInfo) resourceValue()           {}
func (*EXIFData) resourceValue()              {}
func (*XMPData) resourceValue()               {}
func (*PixelAspectRatio) resourceValue()      {}
func (*PrintFlagsInformation) resourceValue() {}
func (Opaque) resourceValue()                 {}

// Opaque holds the bytes of a resource that is not decoded.
type Opaque []byte

// ICCProfile holds an embedded color profile. The bytes are validated by
// the color space resolver, not here.
type ICCProfile struct {
	Data []byte
}

func offsetIn(base int64, rd *bytes.Reader) int64 {
	return base + rd.Size() - int64(rd.Len())
}

func shortResource(base int64, rd *bytes.Reader, what string) error {
	return formatErrorf(offsetIn(base, rd), "%s resource is shorter than its fields", what)
}

// ResolutionUnit is the unit a resolution is expressed in.
type ResolutionUnit uint16

// Resolution units
const (
	ResolutionUnitInch ResolutionUnit = 1
	ResolutionUnitCM   ResolutionUnit = 2
)

func (u ResolutionUnit) String() string {
	switch u {
	case ResolutionUnitInch:
		return "pixels/inch"
	case ResolutionUnitCM:
		return "pixels/cm"
	}
	return fmt.Sprintf("unit(%d)", uint16(u))
}

// ResolutionInfo is the document resolution. HRes and VRes are converted
// from 16.16 fixed point.
type ResolutionInfo struct {
	HRes       float64
	HResUnit   ResolutionUnit
	WidthUnit  uint16
	VRes       float64
	VResUnit   ResolutionUnit
	HeightUnit uint16
}

// PixelSizeMM returns the physical size of one pixel along each axis.
func (ri *ResolutionInfo) PixelSizeMM() (width, height float64) {
	return pixelSizeMM(ri.HRes, ri.HResUnit), pixelSizeMM(ri.VRes, ri.VResUnit)
}

func pixelSizeMM(res float64, unit ResolutionUnit) float64 {
	if res <= 0 {
		return 0
	}
	if unit == ResolutionUnitInch {
		return 25.4 / res
	}
	return 10 / res
}

func parseResolutionInfo(data []byte, base int64) (*ResolutionInfo, error) {
	var raw struct {
		HRes       uint32
		HResUnit   uint16
		WidthUnit  uint16
		VRes       uint32
		VResUnit   uint16
		HeightUnit uint16
	}
	rd := bytes.NewReader(data)
	if err := binary.Read(rd, binary.BigEndian, &raw); err != nil {
		return nil, shortResource(base, rd, "resolution info")
	}
	return &ResolutionInfo{
		HRes:       float64(raw.HRes) / 65536,
		HResUnit:   ResolutionUnit(raw.HResUnit),
		WidthUnit:  raw.WidthUnit,
		VRes:       float64(raw.VRes) / 65536,
		VResUnit:   ResolutionUnit(raw.VResUnit),
		HeightUnit: raw.HeightUnit,
	}, nil
}

// AlphaChannelNames lists the alpha channel names as Pascal strings.
type AlphaChannelNames []string

func parseAlphaChannelNames(data []byte, base int64) (AlphaChannelNames, error) {
	names := AlphaChannelNames{}
	for pos := 0; pos < len(data); {
		n := int(data[pos])
		if pos+1+n > len(data) {
			return nil, formatErrorf(base+int64(pos), "alpha channel name of %d bytes overruns resource", n)
		}
		names = append(names, string(data[pos+1:pos+1+n]))
		pos += 1 + n
	}
	return names, nil
}

// UnicodeAlphaNames lists the alpha channel names as UTF-16 strings.
type UnicodeAlphaNames []string

func parseUnicodeAlphaNames(data []byte, base int64) (UnicodeAlphaNames, error) {
	names := UnicodeAlphaNames{}
	rd := bytes.NewReader(data)
	for rd.Len() > 0 {
		name, err := readUnicodeString(rd)
		if err != nil {
			return nil, formatErrorf(offsetIn(base, rd), "bad unicode alpha name: %v", err)
		}
		names = append(names, name)
	}
	return names, nil
}

// DisplayChannel describes how one alpha or spot channel is displayed.
type DisplayChannel struct {
	ColorSpace uint16
	Color      [4]uint16
	// Opacity is a percentage, 0..100.
	Opacity uint16
	// Kind is 0 for color selected areas and 1 for color protected areas.
	Kind uint8
	_    uint8
}

// DisplayInfo has one entry per extra channel.
type DisplayInfo []DisplayChannel

const displayChannelSize = 14

func parseDisplayInfo(data []byte, base int64) (DisplayInfo, error) {
	if len(data)%displayChannelSize != 0 {
		return nil, formatErrorf(base, "display info size %d is not a multiple of %d", len(data), displayChannelSize)
	}
	info := make(DisplayInfo, len(data)/displayChannelSize)
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, info); err != nil {
		return nil, formatErrorf(base, "bad display info: %v", err)
	}
	return info, nil
}

// PrintFlags are the print dialog check boxes. Short records leave the
// remaining flags unset.
type PrintFlags struct {
	Labels            bool
	CropMarks         bool
	ColorBars         bool
	RegistrationMarks bool
	Negative          bool
	Flip              bool
	Interpolate       bool
	Caption           bool
	PrintFlags        bool
}

func parsePrintFlags(data []byte) *PrintFlags {
	flags := &PrintFlags{}
	fields := []*bool{
		&flags.Labels, &flags.CropMarks, &flags.ColorBars, &flags.RegistrationMarks,
		&flags.Negative, &flags.Flip, &flags.Interpolate, &flags.Caption, &flags.PrintFlags,
	}
	for i, f := range fields {
		if i >= len(data) {
			break
		}
		*f = data[i] != 0
	}
	return flags
}

// PrintFlagsInformation is the print flags record written by newer
// versions of Photoshop.
type PrintFlagsInformation struct {
	Version    uint16
	CenterCrop bool
	BleedWidth uint32
	BleedScale uint16
}

func parsePrintFlagsInformation(data []byte, base int64) (*PrintFlagsInformation, error) {
	var raw struct {
		Version    uint16
		CenterCrop uint8
		_          uint8
		BleedWidth uint32
		BleedScale uint16
	}
	rd := bytes.NewReader(data)
	if err := binary.Read(rd, binary.BigEndian, &raw); err != nil {
		return nil, shortResource(base, rd, "print flags information")
	}
	return &PrintFlagsInformation{
		Version:    raw.Version,
		CenterCrop: raw.CenterCrop != 0,
		BleedWidth: raw.BleedWidth,
		BleedScale: raw.BleedScale,
	}, nil
}

// PixelAspectRatio is the ratio of pixel width to pixel height.
type PixelAspectRatio struct {
	Version uint32
	Ratio   float64
}

func parsePixelAspectRatio(data []byte, base int64) (*PixelAspectRatio, error) {
	par := &PixelAspectRatio{}
	rd := bytes.NewReader(data)
	if err := binary.Read(rd, binary.BigEndian, par); err != nil {
		return nil, shortResource(base, rd, "pixel aspect ratio")
	}
	return par, nil
}

// Guide is a ruler guide. Position is in pixels.
type Guide struct {
	Position   float64
	Horizontal bool
}

// GridAndGuides is the grid spacing and the guide list.
type GridAndGuides struct {
	Version        uint32
	GridHorizontal uint32
	GridVertical   uint32
	Guides         []Guide
}

func parseGridAndGuides(data []byte, base int64) (*GridAndGuides, error) {
	var head struct {
		Version        uint32
		GridHorizontal uint32
		GridVertical   uint32
		Count          uint32
	}
	rd := bytes.NewReader(data)
	if err := binary.Read(rd, binary.BigEndian, &head); err != nil {
		return nil, shortResource(base, rd, "grid and guides")
	}
	if int64(head.Count)*5 > int64(rd.Len()) {
		return nil, formatErrorf(offsetIn(base, rd), "%d guides need %d bytes, %d left", head.Count, head.Count*5, rd.Len())
	}

	gg := &GridAndGuides{
		Version:        head.Version,
		GridHorizontal: head.GridHorizontal,
		GridVertical:   head.GridVertical,
		Guides:         make([]Guide, head.Count),
	}
	for i := range gg.Guides {
		var raw struct {
			Location  int32
			Direction uint8
		}
		if err := binary.Read(rd, binary.BigEndian, &raw); err != nil {
			return nil, shortResource(base, rd, "grid and guides")
		}
		gg.Guides[i] = Guide{
			Position:   float64(raw.Location) / 32,
			Horizontal: raw.Direction == 1,
		}
	}
	return gg, nil
}

// Thumbnail formats
const (
	ThumbnailRaw  = 0
	ThumbnailJPEG = 1
)

// Thumbnail is the embedded preview image. Data holds the JPEG stream.
// Photoshop 4 thumbnails store their channels in BGR order.
type Thumbnail struct {
	Format         uint32
	Width          uint32
	Height         uint32
	WidthBytes     uint32
	TotalSize      uint32
	CompressedSize uint32
	BitsPerPixel   uint16
	Planes         uint16
	BGR            bool
	Data           []byte
}

const thumbnailHeaderSize = 28

func parseThumbnail(id ResourceID, data []byte, base int64) (*Thumbnail, error) {
	th := &Thumbnail{BGR: id == ResourceThumbnailPS4}
	if len(data) < thumbnailHeaderSize {
		return th, formatErrorf(base, "thumbnail header needs %d bytes, got %d", thumbnailHeaderSize, len(data))
	}
	var raw struct {
		Format         uint32
		Width          uint32
		Height         uint32
		WidthBytes     uint32
		TotalSize      uint32
		CompressedSize uint32
		BitsPerPixel   uint16
		Planes         uint16
	}
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, &raw); err != nil {
		return th, formatErrorf(base, "bad thumbnail header: %v", err)
	}
	th.Format = raw.Format
	th.Width = raw.Width
	th.Height = raw.Height
	th.WidthBytes = raw.WidthBytes
	th.TotalSize = raw.TotalSize
	th.CompressedSize = raw.CompressedSize
	th.BitsPerPixel = raw.BitsPerPixel
	th.Planes = raw.Planes
	th.Data = data[thumbnailHeaderSize:]

	switch th.Format {
	case ThumbnailJPEG:
		return th, nil
	case ThumbnailRaw:
		return th, unsupportedf("raw RGB thumbnail format")
	}
	return th, formatErrorf(base, "unknown thumbnail format %d", th.Format)
}

// Image decodes the JPEG stream of the thumbnail.
func (th *Thumbnail) Image() (image.Image, error) {
	if th.Format != ThumbnailJPEG {
		return nil, unsupportedf("thumbnail format %d", th.Format)
	}
	data := th.Data
	if n := int(th.CompressedSize); n > 0 && n < len(data) {
		data = data[:n]
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode thumbnail: %w", err)
	}
	if !th.BGR {
		return img, nil
	}

	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.R, c.B = c.B, c.R
			out.SetNRGBA(x, y, c)
		}
	}
	return out, nil
}

// VersionInfo names the application that wrote the document.
type VersionInfo struct {
	Version           uint32
	HasRealMergedData bool
	Writer            string
	Reader            string
	FileVersion       uint32
}

func parseVersionInfo(data []byte, base int64) (*VersionInfo, error) {
	rd := bytes.NewReader(data)
	vi := &VersionInfo{}
	var merged uint8
	if err := binary.Read(rd, binary.BigEndian, &vi.Version); err != nil {
		return nil, shortResource(base, rd, "version info")
	}
	if err := binary.Read(rd, binary.BigEndian, &merged); err != nil {
		return nil, shortResource(base, rd, "version info")
	}
	vi.HasRealMergedData = merged != 0

	var err error
	if vi.Writer, err = readUnicodeString(rd); err != nil {
		return nil, formatErrorf(offsetIn(base, rd), "bad writer name: %v", err)
	}
	if vi.Reader, err = readUnicodeString(rd); err != nil {
		return nil, formatErrorf(offsetIn(base, rd), "bad reader name: %v", err)
	}
	if err := binary.Read(rd, binary.BigEndian, &vi.FileVersion); err != nil {
		return nil, shortResource(base, rd, "version info")
	}
	return vi, nil
}

// EXIFData is the embedded EXIF block. Directory is nil if Raw could not
// be parsed.
type EXIFData struct {
	Raw       []byte
	Directory *exif.Directory
}

func parseEXIF(data []byte) (*EXIFData, error) {
	ed := &EXIFData{Raw: data}
	dir, err := exif.Parse(data)
	if err != nil {
		return ed, err
	}
	ed.Directory = dir
	return ed, nil
}

// IPTCData is the embedded IPTC-NAA record. Directory is nil if Raw could
// not be parsed.
type IPTCData struct {
	Raw       []byte
	Directory *iptc.Directory
}

func parseIPTC(data []byte) (*IPTCData, error) {
	d := &IPTCData{Raw: data}
	dir, err := iptc.Parse(data)
	if err != nil {
		return d, err
	}
	d.Directory = dir
	return d, nil
}

// XMPData is the embedded XMP packet. Packet is nil if Raw could not be
// parsed.
type XMPData struct {
	Raw    []byte
	Packet *xmp.Packet
}

func parseXMP(data []byte) (*XMPData, error) {
	d := &XMPData{Raw: data}
	packet, err := xmp.Read(bytes.NewReader(data))
	if err != nil {
		return d, fmt.Errorf("failed to read XMP packet: %w", err)
	}
	d.Packet = packet
	return d, nil
}

// DublinCore returns the Dublin Core properties of the packet.
func (d *XMPData) DublinCore() *xmp.DublinCore {
	dc := &xmp.DublinCore{}
	if d.Packet != nil {
		d.Packet.Get(dc)
	}
	return dc
}
