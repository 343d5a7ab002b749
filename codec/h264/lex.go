/*
NAME
  lex.go

DESCRIPTION
  lex.go provides a lexer to lex an H.264 byte stream into access units,
  and splitting of access units into their NAL units.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package h264 provides an H.264 Annex B byte stream lexer for carrying
// H.264 video in AVTP CVF PDUs.
package h264

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// ErrNoStartCode is returned by Lex when its input holds no start code.
var ErrNoStartCode = errors.New("no H.264 start code found")

var noDelay = make(chan time.Time)

func init() {
	close(noDelay)
}

// http://www.itu.int/rec/dologin_pub.asp?lang=e&id=T-REC-H.264-200305-S!!PDF-E&type=items
// Table 7-1 NAL unit type codes
const (
	nonIdrPic   = 1
	idrPic      = 5
	suppEnhInfo = 6
	seqParamSet = 7
	picParamSet = 8
	accessUnit  = 9
)

// Lex lexes the H.264 byte stream read from src into access units, writing
// each access unit to dst in a single write, with successive writes being
// performed not earlier than the specified delay. Each NAL unit keeps its
// start code, so the writes concatenate to the input less any bytes
// preceding the first start code. A new access unit is started by an access
// unit delimiter, SEI, parameter set or the first slice of a picture
// following a slice of the previous picture. Lex returns nil at the end of
// src.
func Lex(dst io.Writer, src io.Reader, delay time.Duration) error {
	var tick <-chan time.Time
	if delay == 0 {
		tick = noDelay
	} else {
		ticker := time.NewTicker(delay)
		defer ticker.Stop()
		tick = ticker.C
	}

	const bufSize = 8 << 10

	c := newByteScanner(src, make([]byte, 4<<10)) // Standard file buffer size.

	var (
		nal     = make([]byte, 0, bufSize) // NAL unit being read, with its start code.
		au      = make([]byte, 0, bufSize) // Access unit being built.
		haveVCL bool                       // au holds a slice.
		started bool                       // A start code has been read.
		zeros   int
	)

	add := func(unit []byte) error {
		typ, first := nalType(unit)
		if haveVCL && startsAccessUnit(typ, first) {
			<-tick
			_, err := dst.Write(au)
			if err != nil {
				return err
			}
			au = au[:0]
			haveVCL = false
		}
		au = append(au, unit...)
		if typ == nonIdrPic || typ == idrPic {
			haveVCL = true
		}
		return nil
	}

	for {
		b, err := c.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		nal = append(nal, b)

		if b == 0x00 {
			zeros++
			continue
		}
		if b != 0x01 || zeros < 2 {
			zeros = 0
			continue
		}

		// A start code of 3 or 4 bytes ends the NAL unit before it.
		sc := min(zeros, 3) + 1
		zeros = 0
		if started {
			err = add(nal[:len(nal)-sc])
			if err != nil {
				return err
			}
		}
		started = true
		nal = append(nal[:0], nal[len(nal)-sc:]...)
	}

	if !started {
		if len(nal) == 0 {
			return nil
		}
		return ErrNoStartCode
	}
	err := add(nal)
	if err != nil {
		return err
	}
	<-tick
	_, err = dst.Write(au)
	return err
}

// startsAccessUnit returns true if a NAL unit of type typ starts a new
// access unit when following a slice. first indicates that a slice is the
// first of its picture.
func startsAccessUnit(typ int, first bool) bool {
	switch typ {
	case accessUnit, suppEnhInfo, seqParamSet, picParamSet, 14, 15, 16, 17, 18:
		return true
	case nonIdrPic, idrPic:
		return first
	}
	return false
}

// nalType returns the type of the NAL unit, which starts with its start
// code, and, for slices, whether first_mb_in_slice is zero.
func nalType(unit []byte) (typ int, first bool) {
	i := 0
	for i < len(unit) && unit[i] == 0x00 {
		i++
	}
	i++ // Skip the 0x01 of the start code.
	if i >= len(unit) {
		return -1, false
	}
	typ = int(unit[i] & 0x1f)

	// first_mb_in_slice is ue(v) coded, so is zero iff its first bit is set.
	return typ, i+1 < len(unit) && unit[i+1]&0x80 != 0
}

// NALUnits returns the NAL units of the access unit au, each with its start
// code. Bytes preceding the first start code are discarded. The returned
// slices share memory with au.
func NALUnits(au []byte) [][]byte {
	var units [][]byte
	start := -1
	zeros := 0
	for i, b := range au {
		if b == 0x00 {
			zeros++
			continue
		}
		if b != 0x01 || zeros < 2 {
			zeros = 0
			continue
		}
		sc := i - min(zeros, 3)
		zeros = 0
		if start >= 0 {
			units = append(units, au[start:sc])
		}
		start = sc
	}
	if start >= 0 {
		units = append(units, au[start:])
	}
	return units
}

// byteScanner reads bytes from an io.Reader through a buffer.
type byteScanner struct {
	buf []byte
	off int

	// r is the source of data for the scanner.
	r io.Reader
}

// newByteScanner returns a scanner reading r through buf.
func newByteScanner(r io.Reader, buf []byte) *byteScanner {
	return &byteScanner{r: r, buf: buf[:0]}
}

// ReadByte returns the next byte of the scanner's reader.
func (c *byteScanner) ReadByte() (byte, error) {
	if c.off >= len(c.buf) {
		err := c.reload()
		if err != nil {
			return 0, err
		}
	}
	b := c.buf[c.off]
	c.off++
	return b, nil
}

// reload re-fills the scanner's buffer.
func (c *byteScanner) reload() error {
	for {
		n, err := c.r.Read(c.buf[:cap(c.buf)])
		c.buf = c.buf[:n]
		c.off = 0
		if n != 0 {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
