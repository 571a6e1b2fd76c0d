// Package wire frames stored cache bytes with a self-describing header.
//
// Layout: flag(1) | body
//
//	flag bit 7    - body is gzip-compressed
//	flag bits 0-6 - serialization format code of the body
//
// The frame carries no length fields; the body runs to the end of the
// value, so truncation below the header is the only structural corruption
// the decoder can detect on its own.
package wire

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
)

const compressBit byte = 1 << 7

const maxFormatCode byte = compressBit - 1

var (
	ErrEmpty         = errors.New("wire: empty value")
	ErrCorrupt       = errors.New("wire: corrupt value")
	ErrFormatTooWide = errors.New("wire: format code exceeds 7 bits")
)

// Encode prepends the header flag to payload, gzip-compressing the body
// when compress is set. The format code must fit in the low 7 bits.
func Encode(format byte, compress bool, payload []byte) ([]byte, error) {
	if format > maxFormatCode {
		return nil, ErrFormatTooWide
	}

	flag := format
	if compress {
		flag |= compressBit
	}

	if !compress {
		out := make([]byte, 1+len(payload))
		out[0] = flag
		copy(out[1:], payload)
		return out, nil
	}

	var buf bytes.Buffer
	buf.Grow(1 + len(payload)/2)
	buf.WriteByte(flag)

	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses the header flag and returns the format code and the
// (decompressed) body. An empty input is reported as ErrEmpty so callers
// can map it to a miss rather than corruption.
func Decode(b []byte) (format byte, payload []byte, err error) {
	if len(b) == 0 {
		return 0, nil, ErrEmpty
	}

	flag := b[0]
	format = flag &^ compressBit
	body := b[1:]

	if flag&compressBit == 0 {
		return format, body, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return 0, nil, ErrCorrupt
	}
	defer zr.Close()

	payload, err = io.ReadAll(zr)
	if err != nil {
		return 0, nil, ErrCorrupt
	}
	return format, payload, nil
}

// Compressed reports whether the frame's body is gzip-compressed without
// decoding it.
func Compressed(b []byte) bool {
	return len(b) > 0 && b[0]&compressBit != 0
}
