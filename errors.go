package psd

import (
	"errors"
	"fmt"
)

// ErrAborted is returned when the Abort hook asked the decoder to stop.
// The raster returned alongside it is only partially filled.
var ErrAborted = errors.New("psd: decode aborted")

// FormatError reports a structural violation of the file format at a byte
// offset relative to the start of the document.
type FormatError struct {
	Offset int64
	Msg    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("psd: invalid format at offset %d: %s", e.Offset, e.Msg)
}

func formatErrorf(offset int64, format string, args ...any) error {
	return &FormatError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// UnsupportedError reports a feature that is recognized but not decoded,
// such as PSB documents or ZIP compressed channels.
type UnsupportedError struct {
	Feature string
}

func (e *UnsupportedError) Error() string {
	return "psd: unsupported " + e.Feature
}

func unsupportedf(format string, args ...any) error {
	return &UnsupportedError{Feature: fmt.Sprintf(format, args...)}
}

// TruncatedError reports that the stream ended before the data it declared.
// Channel, Row and Column are -1 unless the truncation happened inside the
// composite image planes.
type TruncatedError struct {
	Offset  int64
	Channel int
	Row     int
	Column  int
	Err     error
}

func (e *TruncatedError) Error() string {
	if e.Channel < 0 {
		return fmt.Sprintf("psd: truncated at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("psd: truncated at offset %d (channel %d, row %d, column %d): %v",
		e.Offset, e.Channel, e.Row, e.Column, e.Err)
}

func (e *TruncatedError) Unwrap() error { return e.Err }
