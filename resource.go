package psd

import (
	"fmt"
	"log/slog"
)

// ResourceID identifies an image resource record.
type ResourceID uint16

// Image resource IDs
const (
	ResourceResolutionInfo        ResourceID = 0x03ed
	ResourceAlphaChannelNames     ResourceID = 0x03ee
	ResourceDisplayInfo           ResourceID = 0x03ef
	ResourceCaption               ResourceID = 0x03f0
	ResourceBackgroundColor       ResourceID = 0x03f2
	ResourcePrintFlags            ResourceID = 0x03f3
	ResourceLayerState            ResourceID = 0x0400
	ResourceLayersGroupInfo       ResourceID = 0x0402
	ResourceIPTC                  ResourceID = 0x0404
	ResourceJPEGQuality           ResourceID = 0x0406
	ResourceGridAndGuides         ResourceID = 0x0408
	ResourceThumbnailPS4          ResourceID = 0x0409
	ResourceCopyrightFlag         ResourceID = 0x040a
	ResourceURL                   ResourceID = 0x040b
	ResourceThumbnail             ResourceID = 0x040c
	ResourceGlobalAngle           ResourceID = 0x040d
	ResourceICCProfile            ResourceID = 0x040f
	ResourceWatermark             ResourceID = 0x0410
	ResourceICCUntagged           ResourceID = 0x0411
	ResourceEffectsVisible        ResourceID = 0x0412
	ResourceDocumentIDSeed        ResourceID = 0x0414
	ResourceUnicodeAlphaNames     ResourceID = 0x0415
	ResourceGlobalAltitude        ResourceID = 0x0419
	ResourceSlices                ResourceID = 0x041a
	ResourceAlphaIdentifiers      ResourceID = 0x041d
	ResourceURLList               ResourceID = 0x041e
	ResourceVersionInfo           ResourceID = 0x0421
	ResourceEXIF                  ResourceID = 0x0422
	ResourceEXIF3                 ResourceID = 0x0423
	ResourceXMP                   ResourceID = 0x0424
	ResourceCaptionDigest         ResourceID = 0x0425
	ResourcePrintScale            ResourceID = 0x0426
	ResourcePixelAspectRatio      ResourceID = 0x0428
	ResourceLayerComps            ResourceID = 0x0429
	ResourceLayerSelectionIDs     ResourceID = 0x042d
	ResourcePrintInfo             ResourceID = 0x042f
	ResourceLayerGroupsEnabled    ResourceID = 0x0430
	ResourceClippingPathName      ResourceID = 0x0bb7
	ResourcePrintFlagsInformation ResourceID = 0x2710

	resourcePathFirst ResourceID = 0x07d0
	resourcePathLast  ResourceID = 0x0bb6
)

var resourceNames = map[ResourceID]string{
	ResourceResolutionInfo:        "ResolutionInfo",
	ResourceAlphaChannelNames:     "AlphaChannelNames",
	ResourceDisplayInfo:           "DisplayInfo",
	ResourceCaption:               "Caption",
	ResourceBackgroundColor:       "BackgroundColor",
	ResourcePrintFlags:            "PrintFlags",
	ResourceLayerState:            "LayerState",
	ResourceLayersGroupInfo:       "LayersGroupInfo",
	ResourceIPTC:                  "IPTC-NAA",
	ResourceJPEGQuality:           "JPEGQuality",
	ResourceGridAndGuides:         "GridAndGuidesInfo",
	ResourceThumbnailPS4:          "ThumbnailPS4",
	ResourceCopyrightFlag:         "CopyrightFlag",
	ResourceURL:                   "URL",
	ResourceThumbnail:             "Thumbnail",
	ResourceGlobalAngle:           "GlobalAngle",
	ResourceICCProfile:            "ICCProfile",
	ResourceWatermark:             "Watermark",
	ResourceICCUntagged:           "ICCUntaggedProfile",
	ResourceEffectsVisible:        "EffectsVisible",
	ResourceDocumentIDSeed:        "DocumentIDSeed",
	ResourceUnicodeAlphaNames:     "UnicodeAlphaNames",
	ResourceGlobalAltitude:        "GlobalAltitude",
	ResourceSlices:                "Slices",
	ResourceAlphaIdentifiers:      "AlphaIdentifiers",
	ResourceURLList:               "URLList",
	ResourceVersionInfo:           "VersionInfo",
	ResourceEXIF:                  "EXIFData1",
	ResourceEXIF3:                 "EXIFData3",
	ResourceXMP:                   "XMPMetadata",
	ResourceCaptionDigest:         "CaptionDigest",
	ResourcePrintScale:            "PrintScale",
	ResourcePixelAspectRatio:      "PixelAspectRatio",
	ResourceLayerComps:            "LayerComps",
	ResourceLayerSelectionIDs:     "LayerSelectionIDs",
	ResourcePrintInfo:             "PrintInfo",
	ResourceLayerGroupsEnabled:    "LayerGroupsEnabled",
	ResourceClippingPathName:      "ClippingPathName",
	ResourcePrintFlagsInformation: "PrintFlagsInformation",
}

func (id ResourceID) String() string {
	if name, ok := resourceNames[id]; ok {
		return name
	}
	if id >= resourcePathFirst && id <= resourcePathLast {
		return "PathInformation"
	}
	return fmt.Sprintf("Resource(0x%04x)", uint16(id))
}

// Resource is one record of the image resource block.
type Resource struct {
	ID   ResourceID
	Name string
	// Offset of the resource data, Size its unpadded length.
	Offset int64
	Size   uint32
	Value  ResourceValue
	// Err is set when an auxiliary metadata resource could not be decoded
	// and decoding went on without it.
	Err error
}

func (r *Resource) String() string {
	if r.Name != "" {
		return fmt.Sprintf("%s[ID: 0x%04x, name: %q, data length: %d]", r.ID, uint16(r.ID), r.Name, r.Size)
	}
	return fmt.Sprintf("%s[ID: 0x%04x, data length: %d]", r.ID, uint16(r.ID), r.Size)
}

// ResourceSection represents the image resources section
type ResourceSection struct {
	Resources []*Resource
	// Skipped is set when the block was stepped over without decoding.
	Skipped bool
}

// Get returns the first resource with the given ID.
func (s *ResourceSection) Get(id ResourceID) *Resource {
	for _, r := range s.Resources {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// All returns every resource with the given ID, in file order.
func (s *ResourceSection) All(id ResourceID) []*Resource {
	var out []*Resource
	for _, r := range s.Resources {
		if r.ID == id {
			out = append(out, r)
		}
	}
	return out
}

// parseResources reads the image resource block. When parse is false the
// records are not decoded. Either way the cursor ends up just past the
// block.
func parseResources(r *reader, parse bool, opts *Options) (*ResourceSection, error) {
	length, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read resources length: %w", err)
	}
	s, err := r.openSection("image resource block", int64(length))
	if err != nil {
		return nil, err
	}
	opts.logger().Debug("image resources", slog.Int64("offset", s.start), slog.Uint64("length", uint64(length)))

	section := &ResourceSection{Skipped: !parse}
	if parse {
		for r.Tell() < s.end {
			res, err := parseResource(r, s, opts)
			if err != nil {
				return nil, err
			}
			section.Resources = append(section.Resources, res)
		}
		if err := r.expectEnd(s); err != nil {
			return nil, err
		}
	}

	if err := r.seekEnd(s); err != nil {
		return nil, fmt.Errorf("failed to skip resources: %w", err)
	}
	return section, nil
}

func parseResource(r *reader, block section, opts *Options) (*Resource, error) {
	start := r.Tell()
	sig, err := r.ReadString(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource signature: %w", err)
	}
	if sig != imageSignature && sig != "MeSa" {
		return nil, formatErrorf(start, "wrong image resource type, expected %q, got %q", imageSignature, sig)
	}

	id, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("failed to read resource id: %w", err)
	}
	res := &Resource{ID: ResourceID(id)}

	if res.Name, err = r.ReadPascalString(2); err != nil {
		return nil, fmt.Errorf("failed to read resource name: %w", err)
	}
	if res.Size, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("failed to read resource size: %w", err)
	}
	res.Offset = r.Tell()

	padded := int64(res.Size) + int64(res.Size&1)
	if res.Offset+int64(res.Size) > block.end {
		return nil, formatErrorf(res.Offset, "resource %s declares %d bytes, only %d left in image resource block",
			res.ID, res.Size, block.end-res.Offset)
	}

	data, err := r.ReadBytes(int64(res.Size))
	if err != nil {
		return nil, fmt.Errorf("failed to read resource %s: %w", res.ID, err)
	}
	if padded > int64(res.Size) {
		if err := r.Skip(1); err != nil {
			return nil, fmt.Errorf("failed to skip resource padding: %w", err)
		}
	}

	res.Value, err = decodeResource(res, data)
	if err != nil {
		if !isAuxiliary(res.ID) || opts.StrictMetadata {
			return nil, fmt.Errorf("failed to decode resource %s: %w", res.ID, err)
		}
		res.Err = err
		opts.logger().Warn("ignoring undecodable resource",
			slog.String("resource", res.ID.String()), slog.Int64("offset", res.Offset), slog.Any("error", err))
	}
	opts.logger().Debug("resource", slog.String("resource", res.ID.String()), slog.Int64("offset", res.Offset),
		slog.Uint64("size", uint64(res.Size)))
	return res, nil
}

// isAuxiliary reports whether a decode failure of id may be recovered from.
func isAuxiliary(id ResourceID) bool {
	switch id {
	case ResourceEXIF, ResourceIPTC, ResourceXMP, ResourceThumbnail, ResourceThumbnailPS4:
		return true
	}
	return false
}

func decodeResource(res *Resource, data []byte) (ResourceValue, error) {
	switch res.ID {
	case ResourceICCProfile:
		return &ICCProfile{Data: data}, nil
	case ResourceResolutionInfo:
		return parseResolutionInfo(data, res.Offset)
	case ResourceAlphaChannelNames:
		return parseAlphaChannelNames(data, res.Offset)
	case ResourceDisplayInfo:
		return parseDisplayInfo(data, res.Offset)
	case ResourcePrintFlags:
		return parsePrintFlags(data), nil
	case ResourceIPTC:
		return parseIPTC(data)
	case ResourceGridAndGuides:
		return parseGridAndGuides(data, res.Offset)
	case ResourceThumbnail, ResourceThumbnailPS4:
		return parseThumbnail(res.ID, data, res.Offset)
	case ResourceUnicodeAlphaNames:
		return parseUnicodeAlphaNames(data, res.Offset)
	case ResourceVersionInfo:
		return parseVersionInfo(data, res.Offset)
	case ResourceEXIF:
		return parseEXIF(data)
	case ResourceXMP:
		return parseXMP(data)
	case ResourcePixelAspectRatio:
		return parsePixelAspectRatio(data, res.Offset)
	case ResourcePrintFlagsInformation:
		return parsePrintFlagsInformation(data, res.Offset)
	}
	return Opaque(data), nil
}
