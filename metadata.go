package psd

import (
	"fmt"

	"github.com/Mark24Code/psddecode/exif"
	"github.com/Mark24Code/psddecode/iptc"
)

// Metadata is a flat summary of a document, suitable for JSON output.
type Metadata struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Channels    int    `json:"channels"`
	Depth       int    `json:"depth"`
	Mode        string `json:"mode"`
	Compression string `json:"compression,omitempty"`

	ColorSpace      string `json:"color_space,omitempty"`
	EmbeddedProfile bool   `json:"embedded_profile"`
	ProfileSize     int    `json:"profile_size,omitempty"`

	Resolution *ResolutionSummary `json:"resolution,omitempty"`
	Resources  []ResourceSummary  `json:"resources,omitempty"`
	Layers     []LayerSummary     `json:"layers,omitempty"`

	EXIF map[string]string   `json:"exif,omitempty"`
	IPTC map[string][]string `json:"iptc,omitempty"`
	XMP  int                 `json:"xmp_size,omitempty"`
}

// ResolutionSummary holds the document resolution and the resulting
// physical pixel size.
type ResolutionSummary struct {
	Horizontal    float64 `json:"horizontal"`
	Vertical      float64 `json:"vertical"`
	Unit          string  `json:"unit"`
	PixelWidthMM  float64 `json:"pixel_width_mm"`
	PixelHeightMM float64 `json:"pixel_height_mm"`
}

// ResourceSummary describes one image resource.
type ResourceSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Size  uint32 `json:"size"`
	Error string `json:"error,omitempty"`
}

// LayerSummary describes one layer record, top-most first.
type LayerSummary struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Group     bool   `json:"group,omitempty"`
	Top       int32  `json:"top"`
	Left      int32  `json:"left"`
	Bottom    int32  `json:"bottom"`
	Right     int32  `json:"right"`
	Visible   bool   `json:"visible"`
	Opacity   uint8  `json:"opacity"`
	BlendMode string `json:"blend_mode"`
}

// Metadata summarizes the decoded document.
func (d *Document) Metadata() *Metadata {
	h := d.Header
	m := &Metadata{
		Width:    h.Width(),
		Height:   h.Height(),
		Channels: int(h.Channels),
		Depth:    int(h.Depth),
		Mode:     h.ModeName(),
	}
	if d.Image != nil {
		m.Compression = d.Compression.String()
	}
	if cs := d.ColorSpace; cs != nil {
		m.ColorSpace = cs.Name
		m.EmbeddedProfile = cs.Embedded
	}
	m.ProfileSize = len(d.ICCProfile())

	if ri := d.Resolution(); ri != nil {
		w, ht := ri.PixelSizeMM()
		m.Resolution = &ResolutionSummary{
			Horizontal:    ri.HRes,
			Vertical:      ri.VRes,
			Unit:          ri.HResUnit.String(),
			PixelWidthMM:  w,
			PixelHeightMM: ht,
		}
	}

	if d.Resources != nil {
		for _, res := range d.Resources.Resources {
			s := ResourceSummary{ID: res.ID.String(), Name: res.Name, Size: res.Size}
			if res.Err != nil {
				s.Error = res.Err.Error()
			}
			m.Resources = append(m.Resources, s)
		}
	}

	if tree := d.Tree(); tree != nil {
		for _, n := range tree.Descendants() {
			m.Layers = append(m.Layers, LayerSummary{
				Name:      n.Name,
				Path:      n.Path(),
				Group:     n.Type == NodeTypeGroup,
				Top:       n.Top,
				Left:      n.Left,
				Bottom:    n.Bottom,
				Right:     n.Right,
				Visible:   n.Visible,
				Opacity:   n.Opacity,
				BlendMode: n.BlendMode,
			})
		}
	}

	if dir := d.EXIF(); dir != nil {
		m.EXIF = exifStrings(dir, "")
	}
	if dir := d.IPTC(); dir != nil {
		m.IPTC = iptcStrings(dir)
	}
	if x, ok := d.resource(ResourceXMP).(*XMPData); ok {
		m.XMP = len(x.Raw)
	}
	return m
}

func exifStrings(dir *exif.Directory, prefix string) map[string]string {
	out := make(map[string]string)
	for _, e := range dir.Entries {
		name := prefix + exif.TagName(e.Tag)
		if e.Sub != nil {
			for k, v := range exifStrings(e.Sub, name+".") {
				out[k] = v
			}
			continue
		}
		out[name] = fmt.Sprint(e.Value)
	}
	return out
}

func iptcStrings(dir *iptc.Directory) map[string][]string {
	out := make(map[string][]string)
	for _, e := range dir.Entries {
		key := e.Tag.String()
		switch v := e.Value.(type) {
		case string:
			out[key] = append(out[key], v)
		case []string:
			out[key] = append(out[key], v...)
		case []byte:
			out[key] = append(out[key], fmt.Sprintf("% x", v))
		default:
			out[key] = append(out[key], fmt.Sprint(v))
		}
	}
	return out
}
