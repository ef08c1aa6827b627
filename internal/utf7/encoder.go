package utf7

import (
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/transform"
)

type encoder struct{}

func (e *encoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for i := 0; i < len(src); {
		ch := src[i]

		var b []byte
		if min <= ch && ch <= max {
			b = []byte{ch}
			if ch == '&' {
				b = append(b, '-')
			}
			i++
		} else {
			start := i

			// Find the next printable ASCII code point
			i++
			for i < len(src) && (src[i] < min || src[i] > max) {
				i++
			}

			if !atEOF && i == len(src) {
				err = transform.ErrShortSrc
				return
			}

			b = encode(src[start:i])
		}

		if nDst+len(b) > len(dst) {
			err = transform.ErrShortDst
			return
		}

		nSrc = i
		for _, ch := range b {
			dst[nDst] = ch
			nDst++
		}
	}

	return
}

func (e *encoder) Reset() {}

// encode converts a non-ASCII run of UTF-8 into a base64 shifted sequence.
func encode(s []byte) []byte {
	// Convert to UTF-16
	var u []uint16
	for len(s) > 0 {
		r, size := utf8.DecodeRune(s)
		s = s[size:]
		if r == utf8.RuneError {
			r = repl
		}
		if r1, r2 := utf16.EncodeRune(r); r1 != repl {
			u = append(u, uint16(r1), uint16(r2))
		} else {
			u = append(u, uint16(r))
		}
	}

	// Big-endian byte order
	b := make([]byte, 0, 2*len(u))
	for _, v := range u {
		b = append(b, byte(v>>8), byte(v))
	}

	dst := make([]byte, b64Enc.EncodedLen(len(b))+2)
	dst[0] = '&'
	b64Enc.Encode(dst[1:], b)
	dst[len(dst)-1] = '-'
	return dst
}
