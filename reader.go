package psd

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// reader is a big-endian cursor over the document stream. All offsets are
// relative to the stream position at the time decoding started.
type reader struct {
	rs   io.ReadSeeker
	br   *bufio.Reader
	base int64
	pos  int64
	size int64
}

func newReader(rs io.ReadSeeker) (*reader, error) {
	base, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream position: %w", err)
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream size: %w", err)
	}
	if _, err := rs.Seek(base, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind stream: %w", err)
	}
	return &reader{
		rs:   rs,
		br:   bufio.NewReaderSize(rs, 64<<10),
		base: base,
		size: end - base,
	}, nil
}

// Tell returns the current offset.
func (r *reader) Tell() int64 {
	return r.pos
}

func (r *reader) truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &TruncatedError{Offset: r.pos, Channel: -1, Row: -1, Column: -1, Err: io.ErrUnexpectedEOF}
	}
	return err
}

// Read fills p completely or fails with a *TruncatedError.
func (r *reader) Read(p []byte) (int, error) {
	n, err := io.ReadFull(r.br, p)
	r.pos += int64(n)
	if err != nil {
		return n, r.truncated(err)
	}
	return n, nil
}

// Seek moves the cursor to an absolute offset.
func (r *reader) Seek(offset int64) error {
	if offset < 0 {
		return formatErrorf(r.pos, "seek to negative offset %d", offset)
	}
	if d := offset - r.pos; d >= 0 && d <= int64(r.br.Buffered()) {
		n, err := r.br.Discard(int(d))
		r.pos += int64(n)
		return err
	}
	if offset > r.size {
		return &TruncatedError{Offset: r.size, Channel: -1, Row: -1, Column: -1, Err: io.ErrUnexpectedEOF}
	}
	if _, err := r.rs.Seek(r.base+offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to offset %d: %w", offset, err)
	}
	r.br.Reset(r.rs)
	r.pos = offset
	return nil
}

// Skip advances the cursor by n bytes.
func (r *reader) Skip(n int64) error {
	return r.Seek(r.pos + n)
}

// ReadBytes reads n bytes. Lengths running past the end of the stream fail
// before anything is allocated.
func (r *reader) ReadBytes(n int64) ([]byte, error) {
	if n < 0 || r.pos+n > r.size {
		return nil, &TruncatedError{Offset: r.pos, Channel: -1, Row: -1, Column: -1, Err: io.ErrUnexpectedEOF}
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadString reads a fixed length string, such as a signature or a key.
func (r *reader) ReadString(length int) (string, error) {
	buf, err := r.ReadBytes(int64(length))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func (r *reader) ReadByte() (byte, error) {
	b, err := r.br.ReadByte()
	if err != nil {
		return 0, r.truncated(err)
	}
	r.pos++
	return b, nil
}

func (r *reader) ReadUint16() (uint16, error) {
	var buf [2]byte
	if _, err := r.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (r *reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *reader) ReadUint32() (uint32, error) {
	var buf [4]byte
	if _, err := r.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (r *reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadPascalString reads a length-prefixed string whose total size,
// including the length byte, is padded to a multiple of pad.
func (r *reader) ReadPascalString(pad int) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	s, err := r.ReadString(int(n))
	if err != nil {
		return "", err
	}
	if rem := (int(n) + 1) % pad; rem != 0 {
		if err := r.Skip(int64(pad - rem)); err != nil {
			return "", err
		}
	}
	return s, nil
}

// section is a length-prefixed region of the stream.
type section struct {
	name  string
	start int64
	end   int64
}

// openSection starts a section of the given length at the current offset.
// A section running past the end of the stream is a truncation.
func (r *reader) openSection(name string, length int64) (section, error) {
	s := section{name: name, start: r.pos, end: r.pos + length}
	if s.end > r.size {
		return s, &TruncatedError{Offset: r.pos, Channel: -1, Row: -1, Column: -1,
			Err: fmt.Errorf("%s declares %d bytes, only %d left in stream: %w", name, length, r.size-r.pos, io.ErrUnexpectedEOF)}
	}
	return s, nil
}

// openWithin starts a section that must fit inside parent. Overrunning the
// parent is a format violation even when the stream is long enough.
func (r *reader) openWithin(parent section, name string, length int64) (section, error) {
	if r.pos+length > parent.end {
		return section{}, formatErrorf(r.pos, "%s declares %d bytes, only %d left in %s",
			name, length, parent.end-r.pos, parent.name)
	}
	return r.openSection(name, length)
}

// expectEnd fails unless the cursor sits exactly at the end of s.
func (r *reader) expectEnd(s section) error {
	if r.pos != s.end {
		return formatErrorf(r.pos, "%s: expected end at offset %d, consumed %d of %d bytes",
			s.name, s.end, r.pos-s.start, s.end-s.start)
	}
	return nil
}

func (r *reader) seekEnd(s section) error {
	return r.Seek(s.end)
}

func (r *reader) remaining(s section) int64 {
	return s.end - r.pos
}

var utf16be = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// decodeUTF16 converts big-endian UTF-16 to a Go string, dropping the
// terminating NULs Photoshop tends to write.
func decodeUTF16(b []byte) (string, error) {
	out, err := utf16be.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\x00"), nil
}

// readUnicodeString reads a uint32 code unit count followed by UTF-16 text.
func readUnicodeString(rd io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if n > 1<<20 {
		return "", fmt.Errorf("unicode string of %d code units", n)
	}
	buf := make([]byte, 2*int(n))
	if _, err := io.ReadFull(rd, buf); err != nil {
		return "", err
	}
	return decodeUTF16(buf)
}
