/*
NAME
  reader.go

DESCRIPTION
  reader.go provides framing of consecutive AVTPDUs held in a byte stream,
  using the length fields carried in their headers.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package avtp

import (
	"io"

	"github.com/pkg/errors"
)

// CRF header layout, needed here to frame CRF PDUs. The crf package holds
// the full field definitions.
const (
	crfHeaderSize    = 20
	crfPacketInfoIdx = 12
)

var bitsCRFDataLen = Field64(16, 63-47)

// IsStream returns true if PDUs of subtype s use the stream PDU header.
func IsStream(s Subtype) bool {
	switch s {
	case Subtype61883IIDC, SubtypeAAF, SubtypeCVF, SubtypeRVF, SubtypeVSFStream:
		return true
	}
	return false
}

// HeaderSize returns the size of the fixed header for PDUs of subtype s, or
// an error wrapping ErrUnsupportedSubtype.
func HeaderSize(s Subtype) (int, error) {
	switch {
	case IsStream(s):
		return StreamHeaderSize, nil
	case s == SubtypeCRF:
		return crfHeaderSize, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedSubtype, "subtype %v", s)
	}
}

// Len returns the total length in bytes of the PDU whose header is at the
// start of hdr. hdr must hold at least the complete fixed header of the PDU.
func Len(hdr []byte) (int, error) {
	s, err := SubtypeOf(hdr)
	if err != nil {
		return 0, err
	}
	n, err := HeaderSize(s)
	if err != nil {
		return 0, err
	}
	if err := checkLen(hdr, n); err != nil {
		return 0, err
	}
	if s == SubtypeCRF {
		return n + int(Get64(hdr, crfPacketInfoIdx, bitsCRFDataLen)), nil
	}
	return n + int(Get32(hdr, PacketInfoIdx, bitsStreamDataLen)), nil
}

// Reader reads consecutive PDUs from an underlying io.Reader.
type Reader struct {
	src io.Reader
	buf []byte
}

// NewReader returns a new Reader reading PDUs from src.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src, buf: make([]byte, 0, StreamHeaderSize)}
}

// Next returns the next PDU. The returned slice is only valid until the next
// call to Next. io.EOF is returned when src is exhausted at a PDU boundary,
// and io.ErrUnexpectedEOF if it ends part way through a PDU.
func (r *Reader) Next() ([]byte, error) {
	r.buf = r.grow(CommonHeaderSize)
	_, err := io.ReadFull(r.src, r.buf)
	if err != nil {
		return nil, err
	}

	s, _ := SubtypeOf(r.buf)
	hl, err := HeaderSize(s)
	if err != nil {
		return nil, err
	}
	r.buf = r.grow(hl)
	err = r.fill(CommonHeaderSize)
	if err != nil {
		return nil, err
	}

	n, err := Len(r.buf)
	if err != nil {
		return nil, err
	}
	r.buf = r.grow(n)
	err = r.fill(hl)
	if err != nil {
		return nil, err
	}
	return r.buf, nil
}

// grow returns r.buf resliced to n bytes, reallocating if needed.
func (r *Reader) grow(n int) []byte {
	if cap(r.buf) < n {
		b := make([]byte, n)
		copy(b, r.buf)
		return b
	}
	return r.buf[:n]
}

// fill reads into r.buf from offset from to the end of r.buf.
func (r *Reader) fill(from int) error {
	_, err := io.ReadFull(r.src, r.buf[from:])
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
