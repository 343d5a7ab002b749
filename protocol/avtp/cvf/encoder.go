/*
NAME
  encoder.go

DESCRIPTION
  encoder.go provides an Encoder carrying H.264 access units in CVF PDUs,
  one NAL unit per PDU.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package cvf

import (
	"io"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/codec/h264"
	"github.com/ausocean/avtp/protocol/avtp"
)

const (
	defaultMaxNALSize = 1400
	maxStreamDataLen  = 1<<16 - 1
)

// Encoder writes H.264 access units to a destination as CVF PDUs. Each NAL
// unit, including its start code, is carried in its own PDU and the M bit
// marks the last NAL unit of an access unit.
type Encoder struct {
	dst io.Writer

	streamID uint64
	maxNAL   int
	transit  time.Duration
	now      func() time.Time
	period   time.Duration // Access unit period, or 0 for no h264_timestamp.
	baseTime uint64        // Presentation time of the first access unit in ns.

	seq uint8
	aus uint64 // Access units sent so far.
	pdu []byte

	log logging.Logger
}

// NewEncoder returns an Encoder writing PDUs to dst.
func NewEncoder(dst io.Writer, log logging.Logger, options ...func(*Encoder) error) (*Encoder, error) {
	e := &Encoder{
		dst:    dst,
		maxNAL: defaultMaxNALSize,
		now:    time.Now,
		log:    log,
	}
	for _, option := range options {
		err := option(e)
		if err != nil {
			return nil, errors.Wrap(err, "option failed")
		}
	}
	e.pdu = make([]byte, avtp.StreamHeaderSize+H264HeaderSize+e.maxNAL)
	err := Init(e.pdu, SubtypeH264)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		field Field
		val   uint64
	}{
		{FieldTV, 1},
		{FieldStreamID, e.streamID},
	} {
		err = Set(e.pdu, f.field, f.val)
		if err != nil {
			return nil, errors.Wrapf(err, "could not set %v", f.field)
		}
	}
	log.Debug("CVF encoder options applied", "streamID", e.streamID, "maxNALSize", e.maxNAL, "transit", e.transit, "period", e.period)
	return e, nil
}

// StreamID is an option that can be passed to NewEncoder to set the stream ID
// carried by each PDU.
func StreamID(id uint64) func(*Encoder) error {
	return func(e *Encoder) error {
		e.streamID = id
		return nil
	}
}

// MaxNALSize is an option that can be passed to NewEncoder to set the size
// of the largest NAL unit, including its start code, that may be sent. The
// default is 1400 bytes.
func MaxNALSize(n int) func(*Encoder) error {
	return func(e *Encoder) error {
		if n < 1 || n > maxStreamDataLen-H264HeaderSize {
			return errors.Wrapf(avtp.ErrInvalidArgument, "invalid maximum NAL size %d", n)
		}
		e.maxNAL = n
		return nil
	}
}

// TransitTime is an option that can be passed to NewEncoder to set the
// maximum transit time added to the current time for avtp_timestamp.
func TransitTime(d time.Duration) func(*Encoder) error {
	return func(e *Encoder) error {
		if d < 0 {
			return errors.Wrapf(avtp.ErrInvalidArgument, "negative transit time %v", d)
		}
		e.transit = d
		return nil
	}
}

// Clock is an option that can be passed to NewEncoder to replace the source
// of time used for avtp_timestamp.
func Clock(now func() time.Time) func(*Encoder) error {
	return func(e *Encoder) error {
		e.now = now
		return nil
	}
}

// FrameRate is an option that can be passed to NewEncoder to set the access
// unit rate. When set, each PDU carries the presentation time of its access
// unit in h264_timestamp with ptv set. Otherwise ptv is clear.
func FrameRate(fps uint) func(*Encoder) error {
	return func(e *Encoder) error {
		if fps == 0 {
			return errors.Wrap(avtp.ErrInvalidArgument, "zero frame rate")
		}
		e.period = time.Second / time.Duration(fps)
		return nil
	}
}

// BaseTime is an option that can be passed to NewEncoder to set the
// presentation time in ns of the first access unit.
func BaseTime(ns uint64) func(*Encoder) error {
	return func(e *Encoder) error {
		e.baseTime = ns
		return nil
	}
}

// Write implements io.Writer. p must hold a single access unit in byte
// stream format, as written by h264.Lex. Each of its NAL units is sent in
// its own PDU. An error is returned if p holds no start code or a NAL unit
// is larger than the maximum NAL size.
func (e *Encoder) Write(p []byte) (int, error) {
	nals := h264.NALUnits(p)
	if len(nals) == 0 {
		return 0, errors.Wrap(avtp.ErrInvalidArgument, "access unit holds no NAL units")
	}
	for _, nal := range nals {
		if len(nal) > e.maxNAL {
			return 0, errors.Wrapf(avtp.ErrInvalidArgument, "NAL unit of %d bytes exceeds maximum of %d", len(nal), e.maxNAL)
		}
	}

	var ptv, ts uint64
	if e.period != 0 {
		ptv = 1
		ts = e.baseTime + e.aus*uint64(e.period)
	}
	for i, nal := range nals {
		err := e.writePDU(nal, i == len(nals)-1, ptv, ts)
		if err != nil {
			return 0, err
		}
	}
	e.log.Debug("access unit sent", "nalUnits", len(nals), "bytes", len(p), "accessUnit", e.aus)
	e.aus++
	return len(p), nil
}

// Close closes the destination if it is an io.Closer.
func (e *Encoder) Close() error {
	if c, ok := e.dst.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (e *Encoder) writePDU(nal []byte, last bool, ptv, ts uint64) error {
	avtpTime := uint64(e.now().UnixNano()) + uint64(e.transit)
	for _, f := range []struct {
		field Field
		val   uint64
	}{
		{FieldSeqNum, uint64(e.seq)},
		{FieldTimestamp, avtpTime},
		{FieldStreamDataLen, uint64(H264HeaderSize + len(nal))},
		{FieldM, b2u(last)},
		{FieldH264PTV, ptv},
		{FieldH264Timestamp, ts},
	} {
		err := Set(e.pdu, f.field, f.val)
		if err != nil {
			return errors.Wrapf(err, "could not set %v", f.field)
		}
	}
	n := avtp.StreamHeaderSize + H264HeaderSize
	copy(e.pdu[n:], nal)

	_, err := e.dst.Write(e.pdu[:n+len(nal)])
	if err != nil {
		return errors.Wrap(err, "could not write PDU")
	}
	e.seq++
	return nil
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
