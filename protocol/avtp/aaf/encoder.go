/*
NAME
  encoder.go

DESCRIPTION
  encoder.go provides an Encoder that packetises interleaved PCM audio into
  AAF PDUs, maintaining sequence numbers and presentation timestamps.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package aaf

import (
	"io"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/protocol/avtp"
)

// Encoder defaults.
const (
	defaultFormat       = FormatInt16Bit
	defaultNSR          = NSR48kHz
	defaultChannels     = 2
	defaultBitDepth     = 16
	defaultFramesPerPDU = 6 // 125us at 48 kHz.
)

// Limits imposed by the widths of the AAF header fields.
const (
	maxChannels = 1<<10 - 1
	maxDataLen  = 1<<16 - 1
)

// sparseInterval is the number of PDUs between valid timestamps in sparse
// timestamp mode.
const sparseInterval = 8

// Encoder packetises interleaved big-endian PCM audio into AAF PDUs and
// writes them to an io.Writer. Each call to the destination's Write is given
// exactly one PDU.
type Encoder struct {
	dst io.Writer

	streamID     uint64
	format       uint64
	nsr          uint64
	channels     uint
	bitDepth     uint
	framesPerPDU int
	sparse       bool
	baseTime     uint64        // Presentation time of the first frame in ns.
	transit      time.Duration // Added to every presentation time.

	seq     uint8
	frames  uint64 // Frames packetised so far.
	pending []byte // Audio not yet packetised.
	pdu     []byte

	log logging.Logger
}

// NewEncoder returns an Encoder writing AAF PDUs to dst. Without options the
// encoder produces 16 bit stereo at 48 kHz in 6 frame PDUs with stream ID 0.
func NewEncoder(dst io.Writer, log logging.Logger, options ...func(*Encoder) error) (*Encoder, error) {
	e := &Encoder{
		dst:          dst,
		format:       defaultFormat,
		nsr:          defaultNSR,
		channels:     defaultChannels,
		bitDepth:     defaultBitDepth,
		framesPerPDU: defaultFramesPerPDU,
		log:          log,
	}

	for _, option := range options {
		err := option(e)
		if err != nil {
			return nil, errors.Wrap(err, "option failed")
		}
	}
	if e.frameSize()*e.framesPerPDU > maxDataLen {
		return nil, errors.Wrapf(avtp.ErrInvalidArgument, "PDU payload of %d bytes exceeds %d", e.frameSize()*e.framesPerPDU, maxDataLen)
	}
	e.pdu = make([]byte, avtp.StreamHeaderSize+e.frameSize()*e.framesPerPDU)
	log.Debug("encoder options applied", "streamID", e.streamID, "format", e.format, "nsr", e.nsr, "channels", e.channels, "bitDepth", e.bitDepth, "framesPerPDU", e.framesPerPDU)

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

// Format is an option that can be passed to NewEncoder to describe the audio
// given to Write. format is one of the Format constants, nsr one of the NSR
// constants, and bitDepth the number of significant bits in each sample.
func Format(format, nsr uint64, channels, bitDepth uint) func(*Encoder) error {
	return func(e *Encoder) error {
		size := SampleSize(format)
		switch {
		case size == 0:
			return errors.Wrapf(avtp.ErrInvalidArgument, "unsupported format %d", format)
		case Rate(nsr) == 0:
			return errors.Wrapf(avtp.ErrInvalidArgument, "unsupported nsr %d", nsr)
		case channels == 0 || channels > maxChannels:
			return errors.Wrapf(avtp.ErrInvalidArgument, "invalid channel count %d", channels)
		case bitDepth == 0 || bitDepth > uint(8*size):
			return errors.Wrapf(avtp.ErrInvalidArgument, "invalid bit depth %d for format %d", bitDepth, format)
		}
		e.format, e.nsr, e.channels, e.bitDepth = format, nsr, channels, bitDepth
		e.log.Debug("configured audio format", "format", format, "rate", Rate(nsr), "channels", channels, "bitDepth", bitDepth)
		return nil
	}
}

// FramesPerPDU is an option that can be passed to NewEncoder to set the
// number of audio frames carried by each PDU.
func FramesPerPDU(n int) func(*Encoder) error {
	return func(e *Encoder) error {
		if n <= 0 {
			return errors.Wrapf(avtp.ErrInvalidArgument, "invalid frames per PDU %d", n)
		}
		e.framesPerPDU = n
		return nil
	}
}

// BaseTime is an option that can be passed to NewEncoder to set the
// presentation time, in ns of gPTP time, of the first audio frame.
func BaseTime(ns uint64) func(*Encoder) error {
	return func(e *Encoder) error {
		e.baseTime = ns
		return nil
	}
}

// TransitTime is an option that can be passed to NewEncoder to set the
// maximum transit time added to each presentation time.
func TransitTime(d time.Duration) func(*Encoder) error {
	return func(e *Encoder) error {
		if d < 0 {
			return errors.Wrapf(avtp.ErrInvalidArgument, "negative transit time %v", d)
		}
		e.transit = d
		return nil
	}
}

// Sparse is an option that can be passed to NewEncoder to select sparse
// timestamp mode, in which only every eighth PDU carries a valid timestamp.
func Sparse(sparse bool) func(*Encoder) error {
	return func(e *Encoder) error {
		e.sparse = sparse
		return nil
	}
}

// Write implements io.Writer. Write takes interleaved big-endian PCM in the
// configured format and writes a PDU to the destination for every complete
// set of frames. Audio that doesn't fill a PDU is held until the next call
// to Write or Flush.
func (e *Encoder) Write(data []byte) (int, error) {
	e.log.Debug("writing data", "len(data)", len(data))
	e.pending = append(e.pending, data...)

	n := e.frameSize() * e.framesPerPDU
	var off int
	for ; len(e.pending)-off >= n; off += n {
		err := e.writePDU(e.pending[off : off+n])
		if err != nil {
			e.pending = e.pending[:copy(e.pending, e.pending[off:])]
			return len(data), err
		}
	}
	e.pending = e.pending[:copy(e.pending, e.pending[off:])]
	return len(data), nil
}

// Flush writes any held audio as a final short PDU. It is an error for the
// held audio to end part way through a frame.
func (e *Encoder) Flush() error {
	if len(e.pending) == 0 {
		return nil
	}
	if len(e.pending)%e.frameSize() != 0 {
		return errors.Wrapf(avtp.ErrInvalidArgument, "%d bytes held is not a whole number of %d byte frames", len(e.pending), e.frameSize())
	}
	err := e.writePDU(e.pending)
	e.pending = e.pending[:0]
	return err
}

// Close flushes held audio and closes the destination if it is an io.Closer.
func (e *Encoder) Close() error {
	e.log.Debug("closing encoder")
	err := e.Flush()
	if err != nil {
		return err
	}
	if c, ok := e.dst.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// writePDU builds a PDU carrying payload and writes it to the destination.
func (e *Encoder) writePDU(payload []byte) error {
	pdu := e.pdu[:avtp.StreamHeaderSize+len(payload)]
	err := Init(pdu)
	if err != nil {
		return err
	}

	tv := !e.sparse || e.seq%sparseInterval == 0
	sp := uint64(SPNormal)
	if e.sparse {
		sp = SPSparse
	}
	for _, f := range []struct {
		field Field
		val   uint64
	}{
		{FieldStreamID, e.streamID},
		{FieldSeqNum, uint64(e.seq)},
		{FieldTV, b2u(tv)},
		{FieldTimestamp, e.timestamp()},
		{FieldFormat, e.format},
		{FieldNSR, e.nsr},
		{FieldChanPerFrame, uint64(e.channels)},
		{FieldBitDepth, uint64(e.bitDepth)},
		{FieldStreamDataLen, uint64(len(payload))},
		{FieldSP, sp},
	} {
		err = Set(pdu, f.field, f.val)
		if err != nil {
			return errors.Wrapf(err, "could not set %v", f.field)
		}
	}
	copy(pdu[avtp.PayloadIdx:], payload)

	e.log.Debug("writing AAF PDU to destination", "size", len(pdu), "seq", e.seq, "frames", e.frames)
	_, err = e.dst.Write(pdu)
	if err != nil {
		return errors.Wrap(err, "could not write PDU")
	}
	e.seq++
	e.frames += uint64(len(payload) / e.frameSize())
	return nil
}

// timestamp returns the avtp_timestamp of the next PDU, i.e. the low 32 bits
// of the presentation time of its first frame.
func (e *Encoder) timestamp() uint64 {
	rate := uint64(Rate(e.nsr))
	elapsed := e.frames / rate * uint64(time.Second)
	elapsed += e.frames % rate * uint64(time.Second) / rate
	return (e.baseTime + uint64(e.transit) + elapsed) & 0xffffffff
}

// frameSize returns the size in bytes of one frame of audio.
func (e *Encoder) frameSize() int {
	return SampleSize(e.format) * int(e.channels)
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
