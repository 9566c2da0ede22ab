// Package iptc reads IPTC-NAA Information Interchange Model records as
// embedded in Photoshop image resources.
package iptc

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Tag identifies a dataset as record number and dataset number.
type Tag struct {
	Record  uint8
	DataSet uint8
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("%d:%02d", t.Record, t.DataSet)
}

// Well known tags.
var (
	TagCodedCharacterSet      = Tag{1, 90}
	TagRecordVersion          = Tag{2, 0}
	TagObjectName             = Tag{2, 5}
	TagUrgency                = Tag{2, 10}
	TagSubjectReference       = Tag{2, 12}
	TagCategory               = Tag{2, 15}
	TagSupplementalCategories = Tag{2, 20}
	TagKeywords               = Tag{2, 25}
	TagContentLocationCode    = Tag{2, 26}
	TagContentLocationName    = Tag{2, 27}
	TagSpecialInstructions    = Tag{2, 40}
	TagDateCreated            = Tag{2, 55}
	TagTimeCreated            = Tag{2, 60}
	TagByLine                 = Tag{2, 80}
	TagByLineTitle            = Tag{2, 85}
	TagCity                   = Tag{2, 90}
	TagProvinceState          = Tag{2, 95}
	TagCountryCode            = Tag{2, 100}
	TagCountry                = Tag{2, 101}
	TagHeadline               = Tag{2, 105}
	TagCredit                 = Tag{2, 110}
	TagSource                 = Tag{2, 115}
	TagCopyrightNotice        = Tag{2, 116}
	TagContact                = Tag{2, 118}
	TagCaption                = Tag{2, 120}
	TagWriter                 = Tag{2, 122}
)

var tagNames = map[Tag]string{
	TagCodedCharacterSet:      "CodedCharacterSet",
	TagRecordVersion:          "RecordVersion",
	TagObjectName:             "ObjectName",
	TagUrgency:                "Urgency",
	TagSubjectReference:       "SubjectReference",
	TagCategory:               "Category",
	TagSupplementalCategories: "SupplementalCategories",
	TagKeywords:               "Keywords",
	TagContentLocationCode:    "ContentLocationCode",
	TagContentLocationName:    "ContentLocationName",
	TagSpecialInstructions:    "SpecialInstructions",
	TagDateCreated:            "DateCreated",
	TagTimeCreated:            "TimeCreated",
	TagByLine:                 "ByLine",
	TagByLineTitle:            "ByLineTitle",
	TagCity:                   "City",
	TagProvinceState:          "ProvinceState",
	TagCountryCode:            "CountryCode",
	TagCountry:                "Country",
	TagHeadline:               "Headline",
	TagCredit:                 "Credit",
	TagSource:                 "Source",
	TagCopyrightNotice:        "CopyrightNotice",
	TagContact:                "Contact",
	TagCaption:                "Caption",
	TagWriter:                 "Writer",
}

// repeatable datasets are collected into a []string.
var repeatable = map[Tag]bool{
	TagSubjectReference:       true,
	TagSupplementalCategories: true,
	TagKeywords:               true,
	TagContentLocationCode:    true,
	TagContentLocationName:    true,
	TagByLine:                 true,
	TagByLineTitle:            true,
	TagContact:                true,
	TagWriter:                 true,
}

const (
	tagMarker         = 0x1c
	applicationRecord = 2
)

var utf8Escape = []byte{0x1b, 0x25, 0x47}

// Entry is one decoded dataset. Value is a string for application record
// text, []string for repeatable text datasets, uint16 for the record
// version and []byte for everything else.
type Entry struct {
	Tag   Tag
	Value any
}

// Directory holds the datasets in the order they first appeared.
type Directory struct {
	Entries []Entry
	// UTF8 is set when dataset 1:90 declared UTF-8.
	UTF8 bool
}

// Get returns the value stored for t.
func (d *Directory) Get(t Tag) (any, bool) {
	for _, e := range d.Entries {
		if e.Tag == t {
			return e.Value, true
		}
	}
	return nil, false
}

// String returns the text value of t. Repeatable tags return their first
// value.
func (d *Directory) String(t Tag) string {
	v, _ := d.Get(t)
	switch v := v.(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Strings returns all text values of t.
func (d *Directory) Strings(t Tag) []string {
	v, _ := d.Get(t)
	switch v := v.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	}
	return nil
}

// FormatError reports a malformed dataset stream.
type FormatError struct {
	Offset int
	Msg    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("iptc: invalid data at offset %d: %s", e.Offset, e.Msg)
}

// CharsetError reports text that is not valid UTF-8 although dataset 1:90
// declared UTF-8.
type CharsetError struct {
	Tag Tag
}

func (e *CharsetError) Error() string {
	return fmt.Sprintf("iptc: dataset %s is not valid UTF-8, explicitly declared in dataset 1:90", e.Tag)
}

// Parse decodes a dataset stream. Zero bytes after the last dataset are
// accepted as padding.
func Parse(b []byte) (*Directory, error) {
	d := &Directory{}
	index := map[Tag]int{}

	pos := 0
	for pos < len(b) {
		if b[pos] != tagMarker {
			if len(bytes.Trim(b[pos:], "\x00")) == 0 {
				break
			}
			return nil, &FormatError{Offset: pos, Msg: fmt.Sprintf("expected tag marker 0x1c, got 0x%02x", b[pos])}
		}
		if pos+5 > len(b) {
			return nil, &FormatError{Offset: pos, Msg: "truncated dataset header"}
		}
		tag := Tag{Record: b[pos+1], DataSet: b[pos+2]}
		n := int(b[pos+3])<<8 | int(b[pos+4])
		pos += 5

		if n&0x8000 != 0 {
			// Extended dataset: the low bits give the size of the length field.
			size := n & 0x7fff
			if size > 4 || pos+size > len(b) {
				return nil, &FormatError{Offset: pos, Msg: fmt.Sprintf("bad extended length field of %d bytes", size)}
			}
			n = 0
			for _, c := range b[pos : pos+size] {
				n = n<<8 | int(c)
			}
			pos += size
		}
		if n < 0 || pos+n > len(b) {
			return nil, &FormatError{Offset: pos, Msg: fmt.Sprintf("dataset %s declares %d bytes, %d left", tag, n, len(b)-pos)}
		}
		data := b[pos : pos+n]
		pos += n

		value, err := d.decode(tag, data, pos-n)
		if err != nil {
			return nil, err
		}
		if value == nil {
			continue
		}

		if repeatable[tag] {
			s, ok := value.(string)
			if !ok {
				continue
			}
			if i, seen := index[tag]; seen {
				d.Entries[i].Value = append(d.Entries[i].Value.([]string), s)
				continue
			}
			value = []string{s}
		}
		if i, seen := index[tag]; seen {
			d.Entries[i].Value = value
			continue
		}
		index[tag] = len(d.Entries)
		d.Entries = append(d.Entries, Entry{Tag: tag, Value: value})
	}
	return d, nil
}

func (d *Directory) decode(tag Tag, data []byte, offset int) (any, error) {
	switch {
	case tag == TagCodedCharacterSet:
		d.UTF8 = bytes.Equal(data, utf8Escape)
		return nil, nil
	case tag == TagRecordVersion:
		if len(data) != 2 {
			return nil, &FormatError{Offset: offset, Msg: fmt.Sprintf("record version must be 2 bytes, got %d", len(data))}
		}
		return uint16(data[0])<<8 | uint16(data[1]), nil
	case tag.Record == applicationRecord:
		if len(data) == 0 {
			return nil, nil
		}
		return d.decodeString(tag, data)
	default:
		return append([]byte(nil), data...), nil
	}
}

func (d *Directory) decodeString(tag Tag, data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	if d.UTF8 {
		return "", &CharsetError{Tag: tag}
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(s), nil
}
