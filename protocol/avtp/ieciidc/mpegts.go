/*
NAME
  mpegts.go

DESCRIPTION
  mpegts.go provides an Encoder that carries MPEG-TS packets in IEC 61883-4
  PDUs, one transport packet per PDU, and a Validator for the receiving end.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package ieciidc

import (
	"fmt"
	"io"
	"time"

	"github.com/Comcast/gots/packet"
	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/protocol/avtp"
)

// MPEG-TS constants.
const (
	TSPacketSize = 188
	tsSyncByte   = 0x47
)

// CIP header values for IEC 61883-4 MPEG-TS streams. A source packet of an
// SPH and one transport packet is 8 data blocks of 6 quadlets.
const (
	FMTMPEG2TS = 0x20
	tsSID      = 63
	tsDBS      = 6
	tsFN       = 3
	tsQI2      = 2
	tsBlocks   = 1 << tsFN
)

// TSDataLen is the stream_data_length of a PDU carrying one transport
// packet, and TSPDUSize the size of the whole PDU.
const (
	TSDataLen = CIPHeaderSize + SPHSize + TSPacketSize
	TSPDUSize = avtp.StreamHeaderSize + TSDataLen
)

const defaultChannel = 31

// ErrMismatch is wrapped by errors describing a PDU that doesn't belong to
// the expected stream.
var ErrMismatch = errors.New("PDU does not match stream")

// Encoder wraps MPEG-TS packets in IEC 61883-4 PDUs and writes them to an
// io.Writer, one PDU per call to the destination's Write.
type Encoder struct {
	dst io.Writer

	streamID uint64
	channel  uint64
	transit  time.Duration
	now      func() time.Time
	pids     map[int]bool // If not nil, only packets with these PIDs are sent.

	seq uint8
	dbc uint8
	pdu []byte

	log logging.Logger
}

// NewEncoder returns an Encoder writing PDUs to dst.
func NewEncoder(dst io.Writer, log logging.Logger, options ...func(*Encoder) error) (*Encoder, error) {
	e := &Encoder{
		dst:     dst,
		channel: defaultChannel,
		now:     time.Now,
		pdu:     make([]byte, TSPDUSize),
		log:     log,
	}
	for _, option := range options {
		err := option(e)
		if err != nil {
			return nil, errors.Wrap(err, "option failed")
		}
	}
	e.initPDU()
	log.Debug("encoder options applied", "streamID", e.streamID, "channel", e.channel, "transit", e.transit)
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

// Channel is an option that can be passed to NewEncoder to set the 1394
// isochronous channel. The default is 31.
func Channel(c uint64) func(*Encoder) error {
	return func(e *Encoder) error {
		if c > 63 {
			return errors.Wrapf(avtp.ErrInvalidArgument, "invalid channel %d", c)
		}
		e.channel = c
		return nil
	}
}

// TransitTime is an option that can be passed to NewEncoder to set the
// maximum transit time added to the source packet timestamps.
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
// of time used for the source packet timestamps.
func Clock(now func() time.Time) func(*Encoder) error {
	return func(e *Encoder) error {
		e.now = now
		return nil
	}
}

// PIDs is an option that can be passed to NewEncoder to restrict the
// transport packets sent to those with the given PIDs.
func PIDs(pids ...int) func(*Encoder) error {
	return func(e *Encoder) error {
		e.pids = make(map[int]bool, len(pids))
		for _, p := range pids {
			e.pids[p] = true
		}
		return nil
	}
}

// initPDU sets the fields common to every PDU sent by the encoder.
func (e *Encoder) initPDU() {
	Init(e.pdu, TagCIP)
	for _, f := range []struct {
		field Field
		val   uint64
	}{
		{FieldTV, 0},
		{FieldStreamID, e.streamID},
		{FieldStreamDataLen, TSDataLen},
		{FieldGV, 0},
		{FieldGatewayInfo, 0},
		{FieldChannel, e.channel},
		{FieldCIPQI1, 0},
		{FieldCIPSID, tsSID},
		{FieldCIPDBS, tsDBS},
		{FieldCIPFN, tsFN},
		{FieldCIPQPC, 0},
		{FieldCIPSPH, 1},
		{FieldCIPQI2, tsQI2},
		{FieldCIPFMT, FMTMPEG2TS},
		{FieldCIPTSF, 0},
	} {
		Set(e.pdu, f.field, f.val)
	}
}

// Write implements io.Writer. p must hold a whole number of transport
// packets, each of which is sent in its own PDU.
func (e *Encoder) Write(p []byte) (int, error) {
	if len(p)%TSPacketSize != 0 {
		return 0, errors.Wrapf(avtp.ErrInvalidArgument, "%d bytes is not a whole number of transport packets", len(p))
	}

	var pkt packet.Packet
	for off := 0; off < len(p); off += TSPacketSize {
		copy(pkt[:], p[off:off+TSPacketSize])
		if pkt[0] != tsSyncByte {
			return off, errors.Wrapf(avtp.ErrInvalidArgument, "bad sync byte %#x at offset %d", pkt[0], off)
		}
		pid := int(pkt.PID())
		if e.pids != nil && !e.pids[pid] {
			e.log.Debug("dropping transport packet", "PID", pid)
			continue
		}

		err := e.writePDU(pkt[:])
		if err != nil {
			return off, err
		}
		e.log.Debug("transport packet sent", "PID", pid, "pusi", pkt.PayloadUnitStartIndicator(), "seq", e.seq-1)
	}
	return len(p), nil
}

func (e *Encoder) writePDU(ts []byte) error {
	Set(e.pdu, FieldSeqNum, uint64(e.seq))
	Set(e.pdu, FieldCIPDBC, uint64(e.dbc))

	t := uint64(e.now().UnixNano()) + uint64(e.transit)
	err := SetSourcePacketTimestamp(e.pdu, 0, uint32(t))
	if err != nil {
		return err
	}
	copy(e.pdu[cipDataIdx+SPHSize:], ts)

	_, err = e.dst.Write(e.pdu)
	if err != nil {
		return errors.Wrap(err, "could not write PDU")
	}
	e.seq++
	e.dbc += tsBlocks
	return nil
}

// ContinuityError is returned by Validate when a PDU's sequence number or
// data block count is not the one expected. The PDU is otherwise valid.
type ContinuityError struct {
	Field     Field
	Got, Want uint8
}

func (e *ContinuityError) Error() string {
	return fmt.Sprintf("%v mismatch: expected %d, got %d", e.Field, e.Want, e.Got)
}

// Validator checks PDUs of a single IEC 61883-4 MPEG-TS stream.
type Validator struct {
	streamID uint64
	channel  uint64
	seq, dbc uint8
	started  bool
	log      logging.Logger
}

// NewValidator returns a Validator accepting PDUs of the stream with the
// given stream ID on the given channel.
func NewValidator(streamID, channel uint64, log logging.Logger) *Validator {
	return &Validator{streamID: streamID, channel: channel, log: log}
}

// Validate checks that pdu carries a transport packet of the validator's
// stream. An error wrapping ErrMismatch is returned for a PDU that doesn't
// belong to the stream, or a *ContinuityError if the PDU is valid but its
// sequence number or data block count is unexpected, in which case the
// validator resynchronises to the PDU.
func (v *Validator) Validate(pdu []byte) error {
	err := avtp.CheckLen(pdu, TSPDUSize)
	if err != nil {
		return err
	}
	s, _ := avtp.SubtypeOf(pdu)
	if s != avtp.Subtype61883IIDC {
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
		{FieldTV, 0},
		{FieldStreamID, v.streamID},
		{FieldStreamDataLen, TSDataLen},
		{FieldTag, TagCIP},
		{FieldChannel, v.channel},
		{FieldCIPSID, tsSID},
		{FieldCIPDBS, tsDBS},
		{FieldCIPFN, tsFN},
		{FieldCIPQPC, 0},
		{FieldCIPSPH, 1},
		{FieldCIPFMT, FMTMPEG2TS},
		{FieldCIPTSF, 0},
	} {
		got, _ := Get(pdu, c.field)
		if got != c.want {
			return errors.Wrapf(ErrMismatch, "%v: got %#x, want %#x", c.field, got, c.want)
		}
	}

	seq, _ := Get(pdu, FieldSeqNum)
	dbc, _ := Get(pdu, FieldCIPDBC)
	if !v.started {
		v.started = true
		v.seq, v.dbc = uint8(seq), uint8(dbc)
	}
	var cerr *ContinuityError
	switch {
	case uint8(seq) != v.seq:
		cerr = &ContinuityError{Field: FieldSeqNum, Got: uint8(seq), Want: v.seq}
	case uint8(dbc) != v.dbc:
		cerr = &ContinuityError{Field: FieldCIPDBC, Got: uint8(dbc), Want: v.dbc}
	}
	v.seq = uint8(seq) + 1
	v.dbc = uint8(dbc) + tsBlocks
	if cerr != nil {
		v.log.Warning("discontinuity in stream", "error", cerr.Error())
		return cerr
	}
	return nil
}

// TransportPacket returns the transport packet and its source packet
// timestamp carried by an MPEG-TS PDU. The returned slice shares memory with
// pdu.
func TransportPacket(pdu []byte) ([]byte, uint32, error) {
	sp, err := SourcePacket(pdu, 0)
	if err != nil {
		return nil, 0, err
	}
	if len(sp) != SPHSize+TSPacketSize {
		return nil, 0, errors.Wrapf(avtp.ErrInvalidArgument, "source packet of %d bytes does not hold a transport packet", len(sp))
	}
	return sp[SPHSize:], avtp.Uint32At(sp, 0), nil
}
