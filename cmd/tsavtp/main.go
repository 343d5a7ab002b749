/*
DESCRIPTION
  tsavtp carries an MPEG-TS file in IEC 61883-4 AVTP PDUs, or recovers the
  transport stream from a file of such PDUs.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package tsavtp is a program for converting between MPEG-TS and AVTP.
package main

import (
	"flag"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/avtp/protocol/avtp"
	"github.com/ausocean/avtp/protocol/avtp/ieciidc"
)

// Logging related constants.
const (
	logPath      = "/var/log/avtp/tsavtp.log"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

// Transport packets read from the input at a time.
const packetsPerRead = 7

// config holds the settings for a conversion.
type config struct {
	streamID uint64
	channel  uint64
	transit  time.Duration
	pids     []int // PIDs to send, or all if empty.
}

func main() {
	var cfg config
	decodePtr := flag.Bool("d", false, "Recover MPEG-TS from AVTP PDUs instead of encoding.")
	inPtr := flag.String("in", "", "Path to input file.")
	outPtr := flag.String("out", "", "Path to output file.")
	idPtr := flag.String("id", "0", "Stream ID, e.g. 0xaabbccddeeff0001.")
	flag.Uint64Var(&cfg.channel, "channel", 31, "IEC 61883 isochronous channel.")
	flag.DurationVar(&cfg.transit, "transit", 2*time.Millisecond, "Maximum transit time added to source packet timestamps.")
	pidsPtr := flag.String("pids", "", "Comma separated PIDs to send, defaults to all.")
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

	id, err := strconv.ParseUint(*idPtr, 0, 64)
	if err != nil {
		l.Fatal("invalid stream ID", "id", *idPtr, "error", err)
	}
	cfg.streamID = id
	cfg.pids, err = parsePIDs(*pidsPtr)
	if err != nil {
		l.Fatal("invalid PIDs", "pids", *pidsPtr, "error", err)
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

	if *decodePtr {
		n, err := decode(in, out, cfg, l)
		if err != nil {
			l.Fatal("could not recover transport stream", "error", err)
		}
		l.Info("recovered transport stream", "packets", n)
		return
	}
	n, err := encode(in, out, cfg, l)
	if err != nil {
		l.Fatal("could not encode transport stream", "error", err)
	}
	l.Info("encoded transport stream", "packets", n)
}

// parsePIDs parses a comma separated list of PIDs.
func parsePIDs(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var pids []int
	for _, f := range strings.Split(s, ",") {
		pid, err := strconv.ParseUint(strings.TrimSpace(f), 0, 13)
		if err != nil {
			return nil, err
		}
		pids = append(pids, int(pid))
	}
	return pids, nil
}

// encode writes the transport packets read from src to dst as IEC 61883-4
// PDUs and returns the number of packets read.
func encode(src io.Reader, dst io.Writer, cfg config, l logging.Logger) (int, error) {
	opts := []func(*ieciidc.Encoder) error{
		ieciidc.StreamID(cfg.streamID),
		ieciidc.Channel(cfg.channel),
		ieciidc.TransitTime(cfg.transit),
	}
	if len(cfg.pids) != 0 {
		opts = append(opts, ieciidc.PIDs(cfg.pids...))
	}
	e, err := ieciidc.NewEncoder(dst, l, opts...)
	if err != nil {
		return 0, errors.Wrap(err, "could not create encoder")
	}

	var n int
	buf := make([]byte, packetsPerRead*ieciidc.TSPacketSize)
	for {
		k, err := io.ReadFull(src, buf)
		if k%ieciidc.TSPacketSize != 0 {
			return n, errors.Errorf("input ends part way through a transport packet")
		}
		if k > 0 {
			_, werr := e.Write(buf[:k])
			if werr != nil {
				return n, werr
			}
			n += k / ieciidc.TSPacketSize
		}
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return n, nil
		default:
			return n, errors.Wrap(err, "could not read input")
		}
	}
}

// decode writes the transport packets of the stream given by cfg, read as
// IEC 61883-4 PDUs from src, to dst and returns the number of packets
// written. PDUs of other streams are skipped.
func decode(src io.Reader, dst io.Writer, cfg config, l logging.Logger) (int, error) {
	v := ieciidc.NewValidator(cfg.streamID, cfg.channel, l)
	r := avtp.NewReader(src)
	var n int
	for {
		pdu, err := r.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, errors.Wrap(err, "could not read PDU")
		}

		err = v.Validate(pdu)
		var cerr *ieciidc.ContinuityError
		switch {
		case errors.As(err, &cerr):
		case errors.Cause(err) == ieciidc.ErrMismatch, errors.Cause(err) == avtp.ErrInvalidArgument:
			l.Debug("skipping PDU", "reason", err)
			continue
		case err != nil:
			return n, err
		}

		pkt, _, err := ieciidc.TransportPacket(pdu)
		if err != nil {
			return n, err
		}
		_, err = dst.Write(pkt)
		if err != nil {
			return n, errors.Wrap(err, "could not write transport packet")
		}
		n++
	}
}
