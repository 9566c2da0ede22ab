package psd

import (
	"fmt"
	"log/slog"

	"seehuhn.de/go/icc"
)

// ColorSpace is the working color space of the composite image.
type ColorSpace struct {
	Name       string
	Components int
	// Embedded reports whether the profile came from the document.
	Embedded bool
	// Profile holds the ICC profile bytes. It is nil for color spaces
	// without a known profile, such as generic CMYK.
	Profile []byte
	// ICC is the decoded profile header and tag table, nil with Profile.
	ICC *icc.Profile
}

// Default color spaces
var (
	ColorSpaceSRGB        = &ColorSpace{Name: "sRGB", Components: 3, Profile: icc.SRGBv4Profile}
	ColorSpaceGenericCMYK = &ColorSpace{Name: "Generic CMYK", Components: 4}
	ColorSpaceGray        = &ColorSpace{Name: "Gray", Components: 1}
	ColorSpaceLab         = &ColorSpace{Name: "CIELab", Components: 3}
)

func init() {
	if p, err := icc.Decode(icc.SRGBv4Profile); err == nil {
		ColorSpaceSRGB.ICC = p
	}
}

// iccSpaceForMode returns the device color space an embedded profile must
// describe for the given mode.
func iccSpaceForMode(mode ColorMode) (icc.ColorSpace, bool) {
	switch mode {
	case ColorModeRGB, ColorModeIndexed:
		return icc.RGBSpace, true
	case ColorModeCMYK:
		return icc.CMYKSpace, true
	case ColorModeBitmap, ColorModeGrayscale, ColorModeDuotone:
		return icc.GraySpace, true
	case ColorModeLab:
		return icc.CIELabSpace, true
	}
	return 0, false
}

// DefaultColorSpace returns the color space assumed when a document
// carries no usable profile. Multichannel documents have none.
func DefaultColorSpace(mode ColorMode) *ColorSpace {
	switch mode {
	case ColorModeRGB, ColorModeIndexed:
		return ColorSpaceSRGB
	case ColorModeCMYK:
		return ColorSpaceGenericCMYK
	case ColorModeBitmap, ColorModeGrayscale, ColorModeDuotone:
		return ColorSpaceGray
	case ColorModeLab:
		return ColorSpaceLab
	}
	return nil
}

// resolveColorSpace picks the first ICC profile resource that decodes and
// matches the document mode. Unusable profiles are logged and replaced by
// the default.
func resolveColorSpace(h *Header, resources *ResourceSection, logger *slog.Logger) *ColorSpace {
	def := DefaultColorSpace(h.Mode)
	if resources == nil {
		return def
	}
	res := resources.Get(ResourceICCProfile)
	if res == nil {
		return def
	}
	prof, ok := res.Value.(*ICCProfile)
	if !ok || len(prof.Data) == 0 {
		return def
	}

	p, err := icc.Decode(prof.Data)
	if err != nil {
		logger.Warn("ignoring embedded ICC profile", slog.Int64("offset", res.Offset), slog.Any("error", err))
		return def
	}
	want, ok := iccSpaceForMode(h.Mode)
	if !ok || p.ColorSpace != want {
		logger.Warn("ICC profile does not match color mode",
			slog.String("mode", h.ModeName()), slog.String("profile", p.ColorSpace.String()))
		return def
	}

	return &ColorSpace{
		Name:       fmt.Sprintf("embedded %s", p.ColorSpace),
		Components: p.ColorSpace.NumComponents(),
		Embedded:   true,
		Profile:    prof.Data,
		ICC:        p,
	}
}
