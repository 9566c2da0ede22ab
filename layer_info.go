package psd

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Additional layer information keys that are decoded.
const (
	LayerInfoUnicodeName     = "luni"
	LayerInfoLayerID         = "lyid"
	LayerInfoFillOpacity     = "iOpa"
	LayerInfoSectionDivider  = "lsct"
	LayerInfoSectionDivider2 = "lsdk"
)

// applyLayerInfo decodes the blocks the layer model knows about. Other keys
// stay in LayerInfo as raw bytes.
func (l *Layer) applyLayerInfo(key string, data []byte, offset int64) error {
	reader := bytes.NewReader(data)

	switch key {
	case LayerInfoUnicodeName:
		name, err := readUnicodeString(reader)
		if err != nil {
			return formatErrorf(offset, "bad unicode layer name: %v", err)
		}
		if name != "" {
			l.Name = name
		}
	case LayerInfoLayerID:
		if len(data) != 4 {
			return formatErrorf(offset, "layer id must be 4 bytes, got %d", len(data))
		}
		l.ID = int32(binary.BigEndian.Uint32(data))
	case LayerInfoFillOpacity:
		if len(data) > 0 {
			l.FillOpacity = data[0]
		}
	case LayerInfoSectionDivider, LayerInfoSectionDivider2:
		info, err := parseSectionDivider(reader)
		if err != nil {
			return formatErrorf(offset, "bad section divider: %v", err)
		}
		// lsct takes precedence over the older lsdk key.
		if l.Section == nil || key == LayerInfoSectionDivider {
			l.Section = info
		}
	}
	return nil
}

// SectionDividerType represents layer section divider types
type SectionDividerType int32

const (
	SectionDividerOther         SectionDividerType = 0
	SectionDividerOpenFolder    SectionDividerType = 1
	SectionDividerClosedFolder  SectionDividerType = 2
	SectionDividerBoundingStart SectionDividerType = 3 // Folder end marker
)

// String returns a string representation of SectionDividerType
func (s SectionDividerType) String() string {
	switch s {
	case SectionDividerOther:
		return "other"
	case SectionDividerOpenFolder:
		return "open folder"
	case SectionDividerClosedFolder:
		return "closed folder"
	case SectionDividerBoundingStart:
		return "bounding section divider"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// SectionDividerInfo contains section divider information
type SectionDividerInfo struct {
	Type      SectionDividerType
	BlendMode string
	SubType   int32
}

func parseSectionDivider(reader *bytes.Reader) (*SectionDividerInfo, error) {
	info := &SectionDividerInfo{}
	var sectionType int32
	if err := binary.Read(reader, binary.BigEndian, &sectionType); err != nil {
		return nil, err
	}
	info.Type = SectionDividerType(sectionType)

	if reader.Len() >= 8 {
		var sig, key [4]byte
		reader.Read(sig[:])
		reader.Read(key[:])
		if string(sig[:]) != imageSignature {
			return nil, fmt.Errorf("blend mode signature %q", sig[:])
		}
		info.BlendMode = string(key[:])
	}
	if reader.Len() >= 4 {
		binary.Read(reader, binary.BigEndian, &info.SubType)
	}
	return info, nil
}

// GetUnicodeName returns the unicode name if available
func (l *Layer) GetUnicodeName() string {
	if data, ok := l.LayerInfo[LayerInfoUnicodeName]; ok {
		if name, err := readUnicodeString(bytes.NewReader(data)); err == nil {
			return name
		}
	}
	return l.Name
}

// IsFolderOpen checks if this is an open folder
func (l *Layer) IsFolderOpen() bool {
	return l.Section != nil && l.Section.Type == SectionDividerOpenFolder
}

// IsFolderClosed checks if this is a closed folder
func (l *Layer) IsFolderClosed() bool {
	return l.Section != nil && l.Section.Type == SectionDividerClosedFolder
}
