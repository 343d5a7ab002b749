/*
NAME
  validator.go

DESCRIPTION
  validator.go provides a Validator used by AAF listeners to check received
  PDUs against the expected stream configuration and to track sequence
  numbers.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package aaf

import (
	"fmt"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/protocol/avtp"
)

// ErrMismatch is wrapped by errors describing a PDU that doesn't belong to
// the expected stream.
var ErrMismatch = errors.New("PDU does not match stream")

// SequenceError is returned by Validate when a PDU's sequence number is not
// the one expected. The PDU is otherwise valid.
type SequenceError struct {
	Got, Want uint8
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence number mismatch: expected %d, got %d", e.Want, e.Got)
}

// Stream describes the AAF stream a Validator accepts.
type Stream struct {
	ID       uint64
	Format   uint64
	NSR      uint64
	Channels uint
	BitDepth uint
	DataLen  int  // Expected stream_data_length, or 0 to accept any consistent length.
	Sparse   bool // Sparse timestamp mode, in which TV may be clear.
}

// Validator checks PDUs belonging to a single AAF stream.
type Validator struct {
	stream  Stream
	seq     uint8
	started bool
	log     logging.Logger
}

// NewValidator returns a Validator accepting PDUs of stream s.
func NewValidator(s Stream, log logging.Logger) *Validator {
	return &Validator{stream: s, log: log}
}

// Validate checks that pdu is an AAF PDU of the validator's stream in the
// stream's timestamp mode. An error wrapping ErrMismatch is returned if any header field
// differs from the stream, or avtp.ErrInvalidArgument if pdu is malformed.
// If the PDU is valid but out of sequence a *SequenceError is returned and
// the validator resynchronises to the received sequence number.
func (v *Validator) Validate(pdu []byte) error {
	err := avtp.CheckLen(pdu, avtp.StreamHeaderSize)
	if err != nil {
		return err
	}

	s, _ := avtp.SubtypeOf(pdu)
	if s != avtp.SubtypeAAF {
		return errors.Wrapf(ErrMismatch, "subtype %v", s)
	}
	ver, _ := avtp.Get(pdu, avtp.FieldVersion)
	if ver != 0 {
		return errors.Wrapf(ErrMismatch, "version %d", ver)
	}

	sp := uint64(SPNormal)
	if v.stream.Sparse {
		sp = SPSparse
	} else if tv, _ := Get(pdu, FieldTV); tv != 1 {
		return errors.Wrap(ErrMismatch, "tv clear in normal timestamp mode")
	}

	for _, c := range []struct {
		field Field
		want  uint64
	}{
		{FieldSP, sp},
		{FieldStreamID, v.stream.ID},
		{FieldFormat, v.stream.Format},
		{FieldNSR, v.stream.NSR},
		{FieldChanPerFrame, uint64(v.stream.Channels)},
		{FieldBitDepth, uint64(v.stream.BitDepth)},
	} {
		got, _ := Get(pdu, c.field)
		if got != c.want {
			return errors.Wrapf(ErrMismatch, "%v: got %#x, want %#x", c.field, got, c.want)
		}
	}

	n, _ := Get(pdu, FieldStreamDataLen)
	if v.stream.DataLen != 0 && int(n) != v.stream.DataLen {
		return errors.Wrapf(ErrMismatch, "stream_data_length: got %d, want %d", n, v.stream.DataLen)
	}
	if int(n) > len(pdu)-avtp.StreamHeaderSize {
		return errors.Wrapf(avtp.ErrInvalidArgument, "stream_data_length %d exceeds payload of %d bytes", n, len(pdu)-avtp.StreamHeaderSize)
	}

	seq, _ := Get(pdu, FieldSeqNum)
	got := uint8(seq)
	if !v.started {
		v.started = true
		v.seq = got
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

// Payload returns the audio carried by an AAF PDU, as given by its
// stream_data_length. The returned slice shares memory with pdu.
func Payload(pdu []byte) ([]byte, error) {
	p, err := avtp.Payload(pdu)
	if err != nil {
		return nil, err
	}
	n, _ := Get(pdu, FieldStreamDataLen)
	if int(n) > len(p) {
		return nil, errors.Wrapf(avtp.ErrInvalidArgument, "stream_data_length %d exceeds payload of %d bytes", n, len(p))
	}
	return p[:n], nil
}
