/*
DESCRIPTION
  aafdec reads a file of AVTP PDUs, validates the AVTP Audio Format (AAF)
  stream it carries and writes the audio to a WAV file. Given a file of CRF
  PDUs, the presentation times of the AAF stream are checked against the
  media clock recovered from the CRF stream.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package aafdec is a program for depacketising AAF streams to WAV.
package main

import (
	"flag"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/avtp/codec/pcm"
	"github.com/ausocean/avtp/protocol/avtp"
	"github.com/ausocean/avtp/protocol/avtp/aaf"
)

// Logging related constants.
const (
	logPath      = "/var/log/avtp/aafdec.log"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

const wavFormat = 1

// stats counts the PDUs seen while decoding.
type stats struct {
	pdus      int // All PDUs read.
	accepted  int // AAF PDUs of the stream whose audio was kept.
	skipped   int // PDUs of other subtypes or streams.
	sequences  int // Sequence number discontinuities.
	misaligned int // Accepted PDUs not aligned with the media clock.
}

func main() {
	inPtr := flag.String("in", "", "Path to file of AVTP PDUs.")
	outPtr := flag.String("out", "", "Path to WAV file to write.")
	idPtr := flag.String("id", "", "Stream ID to decode, defaults to the first AAF stream found.")
	crfPtr := flag.String("crf", "", "Path to file of CRF PDUs to check presentation times against.")
	logPtr := flag.String("log", logPath, "Path of log file.")
	verbosePtr := flag.Bool("v", false, "Log debug messages.")
	flag.Parse()

	// Create lumberjack logger to handle logging to file.
	fileLog := &lumberjack.Logger{
		Filename:   *logPtr,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	verbosity := int8(logVerbosity)
	if *verbosePtr {
		verbosity = logging.Debug
	}
	l := logging.New(verbosity, io.MultiWriter(os.Stderr, fileLog), logSuppress)

	var id *uint64
	if *idPtr != "" {
		v, err := strconv.ParseUint(*idPtr, 0, 64)
		if err != nil {
			l.Fatal("invalid stream ID", "id", *idPtr, "error", err)
		}
		id = &v
	}

	in, err := os.Open(*inPtr)
	if err != nil {
		l.Fatal("could not open input", "error", err)
	}
	defer in.Close()
	out, err := os.Create(*outPtr)
	if err != nil {
		l.Fatal("could not create output", "error", err)
	}
	defer out.Close()

	var crfSrc io.Reader
	if *crfPtr != "" {
		f, err := os.Open(*crfPtr)
		if err != nil {
			l.Fatal("could not open CRF input", "error", err)
		}
		defer f.Close()
		crfSrc = f
	}

	s, err := decode(in, out, crfSrc, id, l)
	if err != nil {
		l.Fatal("could not decode stream", "error", err)
	}
	l.Info("decoded stream", "pdus", s.pdus, "accepted", s.accepted, "skipped", s.skipped, "sequenceErrors", s.sequences, "misaligned", s.misaligned)
}

// decode reads PDUs from src and writes the audio of the AAF stream with
// the given ID, or the first AAF stream if id is nil, to dst as WAV. If
// crfSrc is not nil, the presentation times of accepted PDUs are checked
// against the media clock recovered from the CRF PDUs read from it.
func decode(src io.Reader, dst io.WriteSeeker, crfSrc io.Reader, id *uint64, l logging.Logger) (stats, error) {
	var (
		s   stats
		v   *aaf.Validator
		sf  pcm.SampleFormat
		ib  *audio.IntBuffer
		clk *clockCheck
	)

	r := avtp.NewReader(src)
	for {
		pdu, err := r.Next()
		if err == io.EOF {
			break
		}
		if errors.Cause(err) == avtp.ErrUnsupportedSubtype {
			return s, errors.Wrap(err, "cannot frame PDU")
		}
		if err != nil {
			return s, errors.Wrap(err, "could not read PDU")
		}
		s.pdus++

		if v == nil {
			v, sf, ib, err = newStream(pdu, id, l)
			if err != nil {
				return s, err
			}
			if v == nil {
				s.skipped++
				continue
			}
			if crfSrc != nil {
				clk, err = streamClock(pdu, crfSrc, sf, ib, l)
				if err != nil {
					return s, errors.Wrap(err, "could not recover media clock")
				}
			}
		}

		err = v.Validate(pdu)
		var serr *aaf.SequenceError
		switch {
		case errors.As(err, &serr):
			s.sequences++
			if clk != nil {
				clk.resync()
			}
		case errors.Cause(err) == aaf.ErrMismatch:
			l.Debug("skipping PDU", "reason", err)
			s.skipped++
			continue
		case err != nil:
			return s, errors.Wrap(err, "invalid PDU")
		}

		p, err := aaf.Payload(pdu)
		if err != nil {
			return s, err
		}
		samples, err := pcm.ToInts(p, uint(ib.SourceBitDepth), sf)
		if err != nil {
			return s, errors.Wrap(err, "could not get samples")
		}
		ib.Data = append(ib.Data, samples...)
		s.accepted++

		if clk != nil {
			ts, _ := aaf.Get(pdu, aaf.FieldTimestamp)
			ok, err := clk.check(uint32(ts))
			if err != nil {
				return s, err
			}
			if !ok {
				s.misaligned++
			}
		}
	}

	if ib == nil {
		return s, errors.New("no AAF stream found")
	}
	e := wav.NewEncoder(dst, ib.Format.SampleRate, ib.SourceBitDepth, ib.Format.NumChannels, wavFormat)
	err := e.Write(ib)
	if err != nil {
		return s, errors.Wrap(err, "could not write WAV")
	}
	return s, e.Close()
}

// newStream returns a validator and audio buffer for the stream of the AAF
// PDU pdu if it is the stream being decoded, or a nil validator otherwise.
// The WAV bit depth is the container size of the AAF format so that samples
// keep their MSB alignment.
func newStream(pdu []byte, id *uint64, l logging.Logger) (*aaf.Validator, pcm.SampleFormat, *audio.IntBuffer, error) {
	st, _ := avtp.SubtypeOf(pdu)
	if st != avtp.SubtypeAAF {
		l.Debug("skipping PDU", "subtype", st)
		return nil, pcm.Unknown, nil, nil
	}
	streamID, _ := aaf.Get(pdu, aaf.FieldStreamID)
	if id != nil && streamID != *id {
		l.Debug("skipping PDU of other stream", "streamID", streamID)
		return nil, pcm.Unknown, nil, nil
	}

	var stream aaf.Stream
	stream.ID = streamID
	stream.Format, _ = aaf.Get(pdu, aaf.FieldFormat)
	stream.NSR, _ = aaf.Get(pdu, aaf.FieldNSR)
	chans, _ := aaf.Get(pdu, aaf.FieldChanPerFrame)
	depth, _ := aaf.Get(pdu, aaf.FieldBitDepth)
	stream.Channels, stream.BitDepth = uint(chans), uint(depth)
	sp, _ := aaf.Get(pdu, aaf.FieldSP)
	stream.Sparse = sp == aaf.SPSparse

	sf, err := pcm.SFFromAAF(stream.Format)
	if err != nil {
		return nil, pcm.Unknown, nil, err
	}
	rate := aaf.Rate(stream.NSR)
	if rate == 0 || chans == 0 {
		return nil, pcm.Unknown, nil, errors.Errorf("unsupported stream, nsr: %d, channels: %d", stream.NSR, chans)
	}
	l.Info("found AAF stream", "streamID", streamID, "format", sf, "rate", rate, "channels", chans, "bitDepth", depth, "sparse", stream.Sparse)

	ib := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: int(chans), SampleRate: int(rate)},
		SourceBitDepth: 8 * sf.Size(),
	}
	return aaf.NewValidator(stream, l), sf, ib, nil
}

// streamClock returns a clockCheck for the AAF stream of the PDU pdu, with one
// media clock timestamp per PDU, or nil if the stream is sparse.
func streamClock(pdu []byte, crfSrc io.Reader, sf pcm.SampleFormat, ib *audio.IntBuffer, l logging.Logger) (*clockCheck, error) {
	sp, _ := aaf.Get(pdu, aaf.FieldSP)
	if sp == aaf.SPSparse {
		l.Warning("not checking media clock of sparse stream")
		return nil, nil
	}
	n, _ := aaf.Get(pdu, aaf.FieldStreamDataLen)
	frames := int(n) / (sf.Size() * ib.Format.NumChannels)
	if frames == 0 {
		return nil, errors.Errorf("PDU of %d bytes holds no frames", n)
	}
	period := time.Duration(frames) * time.Second / time.Duration(ib.Format.SampleRate)
	return newClockCheck(crfSrc, period, l)
}
