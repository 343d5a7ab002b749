/*
DESCRIPTION
  cvfdec reads a file of AVTP PDUs, validates the H.264 Compressed Video
  Format (CVF) stream it carries and writes the reassembled video as an
  H.264 byte stream.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package cvfdec is a program for depacketising H.264 CVF streams.
package main

import (
	"flag"
	"io"
	"os"
	"strconv"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/avtp/protocol/avtp"
	"github.com/ausocean/avtp/protocol/avtp/cvf"
)

// Logging related constants.
const (
	logPath      = "/var/log/avtp/cvfdec.log"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

// stats counts the PDUs seen while decoding.
type stats struct {
	pdus      int // All PDUs read.
	accepted  int // CVF PDUs of the stream whose NAL units were kept.
	skipped   int // PDUs of other subtypes, formats or streams.
	sequences int // Sequence number discontinuities.
}

func main() {
	inPtr := flag.String("in", "", "Path to file of AVTP PDUs.")
	outPtr := flag.String("out", "", "Path to H.264 file to write.")
	idPtr := flag.String("id", "", "Stream ID to decode, defaults to the first H.264 CVF stream found.")
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

	s, err := decode(in, out, id, l)
	if err != nil {
		l.Fatal("could not decode stream", "error", err)
	}
	l.Info("decoded stream", "pdus", s.pdus, "accepted", s.accepted, "skipped", s.skipped, "sequenceErrors", s.sequences)
}

// decode reads PDUs from src and writes the video of the H.264 CVF stream
// with the given ID, or the first such stream if id is nil, to dst.
func decode(src io.Reader, dst io.Writer, id *uint64, l logging.Logger) (stats, error) {
	var (
		s stats
		d *cvf.Decoder
	)

	r := avtp.NewReader(src)
	for {
		pdu, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return s, errors.Wrap(err, "could not read PDU")
		}
		s.pdus++

		if d == nil {
			streamID, ok := h264Stream(pdu)
			if !ok || (id != nil && streamID != *id) {
				l.Debug("skipping PDU", "streamID", streamID)
				s.skipped++
				continue
			}
			l.Info("found H.264 CVF stream", "streamID", streamID)
			d = cvf.NewDecoder(dst, streamID, l)
		}

		err = d.Decode(pdu)
		var serr *cvf.SequenceError
		switch {
		case errors.As(err, &serr):
			s.sequences++
		case errors.Cause(err) == cvf.ErrMismatch:
			l.Debug("skipping PDU", "reason", err)
			s.skipped++
			continue
		case err != nil:
			return s, errors.Wrap(err, "invalid PDU")
		}
		s.accepted++
	}

	if d == nil {
		return s, errors.New("no H.264 CVF stream found")
	}
	return s, d.Flush()
}

// h264Stream returns the stream ID of pdu and whether it is an H.264 CVF PDU.
func h264Stream(pdu []byte) (uint64, bool) {
	st, _ := avtp.SubtypeOf(pdu)
	if st != avtp.SubtypeCVF {
		return 0, false
	}
	sub, err := cvf.Get(pdu, cvf.FieldFormatSubtype)
	if err != nil || sub != cvf.SubtypeH264 {
		return 0, false
	}
	id, _ := cvf.Get(pdu, cvf.FieldStreamID)
	return id, true
}
