/*
NAME
  clock.go

DESCRIPTION
  clock.go provides an Encoder producing a CRF stream, a Validator for
  received CRF PDUs and a MediaClock recovering media clock timestamps
  from them.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package crf

import (
	"fmt"
	"io"
	"math/bits"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/protocol/avtp"
)

// Encoder defaults, matching an audio sample clock of 48 kHz with 300
// timestamps a second sent 6 to a PDU.
const (
	defaultType             = TypeAudioSample
	defaultPull             = PullMultBy1
	defaultBaseFreq         = 48000
	defaultInterval         = 160
	defaultTimestampsPerPDU = 6
)

const (
	maxBaseFreq = 1<<29 - 1
	maxInterval = 1<<16 - 1
	maxDataLen  = 1<<16 - 1
)

// Encoder writes a CRF stream to a destination. Each call to Next writes one
// PDU holding the timestamps of the following timestamps-per-PDU clock
// events.
type Encoder struct {
	dst      io.Writer
	streamID uint64
	typ      uint64
	pull     uint64
	baseFreq uint64
	interval uint64
	perPDU   int
	baseTime uint64 // Time of the first clock event in ns.

	seq    uint8
	events uint64 // Timestamps sent so far.
	pdu    []byte

	log logging.Logger
}

// NewEncoder returns an Encoder writing CRF PDUs to dst.
func NewEncoder(dst io.Writer, log logging.Logger, options ...func(*Encoder) error) (*Encoder, error) {
	e := &Encoder{
		dst:      dst,
		typ:      defaultType,
		pull:     defaultPull,
		baseFreq: defaultBaseFreq,
		interval: defaultInterval,
		perPDU:   defaultTimestampsPerPDU,
		log:      log,
	}

	for _, option := range options {
		err := option(e)
		if err != nil {
			return nil, errors.Wrap(err, "option failed")
		}
	}
	e.pdu = make([]byte, HeaderSize+e.perPDU*TimestampSize)
	log.Debug("CRF encoder options applied", "streamID", e.streamID, "type", e.typ, "pull", e.pull, "baseFreq", e.baseFreq, "interval", e.interval, "timestampsPerPDU", e.perPDU)

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

// Type is an option that can be passed to NewEncoder to set the kind of
// clock the stream describes.
func Type(typ uint64) func(*Encoder) error {
	return func(e *Encoder) error {
		if typ > TypeMachineCycle {
			return errors.Wrapf(avtp.ErrInvalidArgument, "invalid CRF type %d", typ)
		}
		e.typ = typ
		return nil
	}
}

// Clock is an option that can be passed to NewEncoder to describe the clock:
// its base frequency in Hz, pull multiplier and the number of clock events
// between timestamps.
func Clock(baseFreq, pull, interval uint64) func(*Encoder) error {
	return func(e *Encoder) error {
		if baseFreq == 0 || baseFreq > maxBaseFreq {
			return errors.Wrapf(avtp.ErrInvalidArgument, "invalid base frequency %d", baseFreq)
		}
		if _, ok := pullFactors[pull]; !ok {
			return errors.Wrapf(avtp.ErrInvalidArgument, "invalid pull %d", pull)
		}
		if interval == 0 || interval > maxInterval {
			return errors.Wrapf(avtp.ErrInvalidArgument, "invalid timestamp interval %d", interval)
		}
		e.baseFreq, e.pull, e.interval = baseFreq, pull, interval
		return nil
	}
}

// TimestampsPerPDU is an option that can be passed to NewEncoder to set the
// number of timestamps sent in each PDU.
func TimestampsPerPDU(n int) func(*Encoder) error {
	return func(e *Encoder) error {
		if n < 1 || n*TimestampSize > maxDataLen {
			return errors.Wrapf(avtp.ErrInvalidArgument, "invalid timestamps per PDU %d", n)
		}
		e.perPDU = n
		return nil
	}
}

// BaseTime is an option that can be passed to NewEncoder to set the time in
// ns of the first clock event, normally the current gPTP time plus the
// maximum transit time.
func BaseTime(ns uint64) func(*Encoder) error {
	return func(e *Encoder) error {
		e.baseTime = ns
		return nil
	}
}

// Next writes the next PDU of the stream to the destination.
func (e *Encoder) Next() error {
	err := Init(e.pdu)
	if err != nil {
		return err
	}
	for _, f := range []struct {
		field Field
		val   uint64
	}{
		{FieldStreamID, e.streamID},
		{FieldSeqNum, uint64(e.seq)},
		{FieldType, e.typ},
		{FieldPull, e.pull},
		{FieldBaseFreq, e.baseFreq},
		{FieldTimestampInterval, e.interval},
		{FieldCRFDataLen, uint64(e.perPDU * TimestampSize)},
	} {
		err = Set(e.pdu, f.field, f.val)
		if err != nil {
			return errors.Wrapf(err, "could not set %v", f.field)
		}
	}
	for i := 0; i < e.perPDU; i++ {
		SetTimestamp(e.pdu, i, e.timestamp(e.events+uint64(i)))
	}

	e.log.Debug("writing CRF PDU to destination", "seq", e.seq, "events", e.events)
	_, err = e.dst.Write(e.pdu)
	if err != nil {
		return errors.Wrap(err, "could not write PDU")
	}
	e.seq++
	e.events += uint64(e.perPDU)
	return nil
}

// Interval returns the time between PDUs.
func (e *Encoder) Interval() time.Duration {
	return time.Duration(e.timestamp(uint64(e.perPDU)) - e.baseTime)
}

// Close closes the destination if it is an io.Closer.
func (e *Encoder) Close() error {
	if c, ok := e.dst.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// timestamp returns the time of the n'th timestamp of the stream.
func (e *Encoder) timestamp(n uint64) uint64 {
	f := pullFactors[e.pull]
	hi, lo := bits.Mul64(n*e.interval*f[1], uint64(time.Second))
	elapsed, _ := bits.Div64(hi, lo, e.baseFreq*f[0])
	return e.baseTime + elapsed
}

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

// Stream describes the CRF stream a Validator accepts.
type Stream struct {
	ID       uint64
	Type     uint64
	Pull     uint64
	BaseFreq uint64
	DataLen  int // Expected crf_data_length, or 0 to accept any consistent length.
}

// Validator checks PDUs belonging to a single CRF stream.
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

// Validate checks that pdu is a CRF PDU of the validator's stream holding at
// least one timestamp. An error wrapping ErrMismatch is returned if any
// header field differs from the stream, or avtp.ErrInvalidArgument if pdu is
// malformed. If the PDU is valid but out of sequence a *SequenceError is
// returned and the validator resynchronises to the received sequence number.
func (v *Validator) Validate(pdu []byte) error {
	err := avtp.CheckLen(pdu, HeaderSize)
	if err != nil {
		return err
	}

	s, _ := avtp.SubtypeOf(pdu)
	if s != avtp.SubtypeCRF {
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
		{FieldSV, 1},
		{FieldFS, 0},
		{FieldType, v.stream.Type},
		{FieldStreamID, v.stream.ID},
		{FieldPull, v.stream.Pull},
		{FieldBaseFreq, v.stream.BaseFreq},
	} {
		got, _ := Get(pdu, c.field)
		if got != c.want {
			return errors.Wrapf(ErrMismatch, "%v: expected %d, got %d", c.field, c.want, got)
		}
	}

	n, _ := Get(pdu, FieldCRFDataLen)
	if v.stream.DataLen != 0 && int(n) != v.stream.DataLen {
		return errors.Wrapf(ErrMismatch, "%v: expected %d, got %d", FieldCRFDataLen, v.stream.DataLen, n)
	}
	ts, err := NumTimestamps(pdu)
	if err != nil {
		return err
	}
	if ts == 0 {
		return errors.Wrap(avtp.ErrInvalidArgument, "PDU holds no timestamps")
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
		v.log.Warning("CRF sequence number mismatch", "expected", want, "got", got)
		return &SequenceError{Got: got, Want: want}
	}
	return nil
}

// ErrNoMediaClock is returned by MediaClock.Timestamp when no media clock
// timestamp corresponds to a presentation time.
var ErrNoMediaClock = errors.New("no matching media clock timestamp")

// maxFreewheel is the number of media clock periods Timestamp will freewheel
// looking for a match once recovered timestamps are exhausted.
const maxFreewheel = 1 << 12

// MediaClock recovers a media clock from a CRF stream. The first timestamp
// of each CRF PDU yields a run of media clock timestamps one media clock
// period apart. When none are held the clock freewheels from the last one
// returned.
type MediaClock struct {
	period time.Duration // Media clock period.
	perCRF int           // Media clock timestamps recovered per CRF PDU.
	offset time.Duration // Added to each recovered timestamp.
	queue  []uint64
	prev   uint64
	lookup bool
}

// NewMediaClock returns a MediaClock of the given period recovering perCRF
// timestamps from each CRF PDU. offset is added to recovered timestamps and
// is rounded up to a whole number of periods; a talker presenting media
// against the recovered clock passes its maximum transit time.
func NewMediaClock(period time.Duration, perCRF int, offset time.Duration) (*MediaClock, error) {
	if period <= 0 || perCRF < 1 || offset < 0 {
		return nil, errors.Wrapf(avtp.ErrInvalidArgument, "invalid media clock period %v, timestamps per CRF %d, offset %v", period, perCRF, offset)
	}
	offset = (offset + period - 1) / period * period
	return &MediaClock{period: period, perCRF: perCRF, offset: offset, lookup: true}, nil
}

// Recover adds the media clock timestamps derived from the CRF PDU pdu.
// Timestamps not after the last one returned are discarded, as happens when
// the CRF PDU arrives after the clock has freewheeled past it.
func (m *MediaClock) Recover(pdu []byte) error {
	ts, err := Timestamp(pdu, 0)
	if err != nil {
		return err
	}
	for i := 0; i < m.perCRF; i++ {
		t := ts + uint64(i)*uint64(m.period) + uint64(m.offset)
		if t <= m.prev {
			continue
		}
		m.queue = append(m.queue, t)
	}
	return nil
}

// Next returns the next media clock timestamp.
func (m *MediaClock) Next() uint64 {
	if len(m.queue) == 0 {
		m.prev += uint64(m.period)
		m.lookup = true
		return m.prev
	}
	m.prev = m.queue[0]
	m.queue = m.queue[1:]
	return m.prev
}

// Resync makes the next call to Timestamp search the media clock for its
// match, as is needed once media PDUs have been lost.
func (m *MediaClock) Resync() {
	m.lookup = true
}

// Timestamp returns the media clock timestamp for a PDU with the given
// avtp_timestamp. Once the clock has freewheeled, or on first use, the
// media clock is searched for a timestamp whose low 32 bits are within a
// quarter period of avtpTime. Otherwise the next timestamp is returned.
func (m *MediaClock) Timestamp(avtpTime uint32) (uint64, error) {
	if !m.lookup {
		return m.Next(), nil
	}
	for len(m.queue) != 0 {
		if t, ok := m.match(avtpTime); ok {
			return t, nil
		}
	}
	for i := 0; i < maxFreewheel; i++ {
		if t, ok := m.match(avtpTime); ok {
			return t, nil
		}
	}
	return 0, errors.Wrapf(ErrNoMediaClock, "avtp_timestamp %d", avtpTime)
}

func (m *MediaClock) match(avtpTime uint32) (uint64, bool) {
	t := m.Next()
	off := time.Duration(int32(avtpTime - uint32(t)))
	if off < -m.period/4 || off > m.period/4 {
		return 0, false
	}
	m.lookup = false
	return t, true
}

// Aligned returns true if the presentation time avtpTime is aligned with the
// media clock timestamp mclk, i.e. the offset between them is within a
// quarter of the sample period of a CRF stream of frequency rate Hz.
func Aligned(mclk, avtpTime uint32, rate uint64) bool {
	period := float64(time.Second) / float64(rate)
	offset := float64(int32(avtpTime - mclk))
	return -period/4 <= offset && offset <= period/4
}
