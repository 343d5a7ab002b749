/*
NAME
  decoder.go

DESCRIPTION
  decoder.go provides a Validator for received H.264 CVF PDUs and a Decoder
  reassembling their NAL units into access units.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package cvf

import (
	"fmt"
	"io"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/protocol/avtp"
)

// ErrMismatch is wrapped by errors describing a PDU that doesn't belong to
// the expected stream.
var ErrMismatch = errors.New("PDU does not match stream")

// SequenceError is returned when a PDU's sequence number is not the one
// expected. The PDU is otherwise valid.
type SequenceError struct {
	Got, Want uint8
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence number mismatch: expected %d, got %d", e.Want, e.Got)
}

// Validator checks PDUs belonging to a single H.264 CVF stream.
type Validator struct {
	streamID uint64
	seq      uint8
	started  bool
	log      logging.Logger
}

// NewValidator returns a Validator accepting H.264 PDUs of the stream
// with the given ID.
func NewValidator(streamID uint64, log logging.Logger) *Validator {
	return &Validator{streamID: streamID, log: log}
}

// Validate checks that pdu is an H.264 CVF PDU of the validator's stream.
// An error wrapping ErrMismatch is returned if any header field differs from
// the stream, or avtp.ErrInvalidArgument if pdu is malformed. If the PDU is
// valid but out of sequence a *SequenceError is returned and the validator
// resynchronises to the received sequence number.
func (v *Validator) Validate(pdu []byte) error {
	err := avtp.CheckLen(pdu, avtp.StreamHeaderSize)
	if err != nil {
		return err
	}

	s, _ := avtp.SubtypeOf(pdu)
	if s != avtp.SubtypeCVF {
		return errors.Wrapf(ErrMismatch, "subtype %v", s)
	}
	ver, _ := avtp.Get(pdu, avtp.FieldVersion)
	if ver != 0 {
		return errors.Wrapf(ErrMismatch, "version %d", ver)
	}
	for _, c := range []struct {
		field Field
		want  uint64
	}{
		{FieldTV, 1},
		{FieldStreamID, v.streamID},
		{FieldFormat, FormatRFC},
		{FieldFormatSubtype, SubtypeH264},
	} {
		got, _ := Get(pdu, c.field)
		if got != c.want {
			return errors.Wrapf(ErrMismatch, "%v: expected %#x, got %#x", c.field, c.want, got)
		}
	}

	_, err = H264Data(pdu)
	if err != nil {
		return err
	}

	seq, _ := Get(pdu, FieldSeqNum)
	got := uint8(seq)
	if !v.started {
		v.started = true
		v.seq = got + 1
		return nil
	}
	want := v.seq
	v.seq = got + 1
	if got != want {
		err := &SequenceError{Got: got, Want: want}
		v.log.Warning("out of sequence PDU", "error", err.Error())
		return err
	}
	return nil
}

// H264Data returns the H.264 data carried by the H.264 CVF PDU pdu, as
// given by its stream_data_length less the h264_timestamp word. The returned
// slice shares memory with pdu.
func H264Data(pdu []byte) ([]byte, error) {
	p, err := avtp.Payload(pdu)
	if err != nil {
		return nil, err
	}
	n, _ := Get(pdu, FieldStreamDataLen)
	if n < H264HeaderSize || int(n) > len(p) {
		return nil, errors.Wrapf(avtp.ErrInvalidArgument, "stream_data_length %d invalid for payload of %d bytes", n, len(p))
	}
	return p[H264HeaderSize:n], nil
}

// Decoder reassembles the NAL units carried by the PDUs of an H.264 CVF
// stream into access units, writing each to a destination once the PDU
// carrying its last NAL unit, marked by the M bit, is decoded.
type Decoder struct {
	dst io.Writer
	v   *Validator
	au  []byte
	log logging.Logger
}

// NewDecoder returns a Decoder writing the access units of the stream with
// the given ID to dst.
func NewDecoder(dst io.Writer, streamID uint64, log logging.Logger) *Decoder {
	return &Decoder{dst: dst, v: NewValidator(streamID, log), log: log}
}

// Decode validates pdu and adds its NAL unit to the access unit being
// reassembled. Errors wrapping ErrMismatch or avtp.ErrInvalidArgument mean
// pdu was not used. A *SequenceError means PDUs were lost; the incomplete
// access unit being reassembled is discarded and pdu is used.
func (d *Decoder) Decode(pdu []byte) error {
	err := d.v.Validate(pdu)
	var serr *SequenceError
	switch {
	case errors.As(err, &serr):
		if len(d.au) != 0 {
			d.log.Warning("discarding incomplete access unit", "bytes", len(d.au))
			d.au = d.au[:0]
		}
	case err != nil:
		return err
	}

	nal, _ := H264Data(pdu)
	d.au = append(d.au, nal...)
	m, _ := Get(pdu, FieldM)
	if m == 1 {
		werr := d.Flush()
		if werr != nil {
			return werr
		}
	}
	return err
}

// Flush writes any partly reassembled access unit to the destination.
func (d *Decoder) Flush() error {
	if len(d.au) == 0 {
		return nil
	}
	_, err := d.dst.Write(d.au)
	d.au = d.au[:0]
	if err != nil {
		return errors.Wrap(err, "could not write access unit")
	}
	return nil
}
