package psd

import (
	"errors"
)

var (
	errPackBitsOverrun = errors.New("packbits run overflows row")
	errPackBitsShort   = errors.New("packbits data ends before row is complete")
)

// unpackBits decodes one PackBits scanline from src into dst. The decoded
// length must match len(dst) exactly; it returns the number of source
// bytes consumed.
//
// A control byte n in 0..127 copies the next n+1 bytes, n in -127..-1
// repeats the next byte 1-n times, and -128 is skipped.
func unpackBits(dst, src []byte) (int, error) {
	in, out := 0, 0
	for out < len(dst) {
		if in >= len(src) {
			return in, errPackBitsShort
		}
		n := int(int8(src[in]))
		in++

		switch {
		case n >= 0:
			count := n + 1
			if in+count > len(src) {
				return in, errPackBitsShort
			}
			if out+count > len(dst) {
				return in, errPackBitsOverrun
			}
			copy(dst[out:], src[in:in+count])
			in += count
			out += count
		case n > -128:
			count := 1 - n
			if in >= len(src) {
				return in, errPackBitsShort
			}
			if out+count > len(dst) {
				return in, errPackBitsOverrun
			}
			v := src[in]
			in++
			for i := 0; i < count; i++ {
				dst[out+i] = v
			}
			out += count
		}
	}
	return in, nil
}
