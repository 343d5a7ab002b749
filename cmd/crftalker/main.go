/*
DESCRIPTION
  crftalker writes a Clock Reference Format (CRF) stream of AVTP PDUs
  describing a media clock, such as the 48 kHz sample clock of an AAF
  stream, to a file or standard output.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package crftalker is a program for streaming media clock references as CRF
// PDUs.
package main

import (
	"flag"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/avtp/protocol/avtp/crf"
)

// Logging related constants.
const (
	logPath      = "/var/log/avtp/crftalker.log"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

// config holds the settings for a talker.
type config struct {
	streamID uint64
	typ      uint64
	baseFreq uint64
	pull     uint64
	interval uint64 // Clock events between timestamps.
	perPDU   int
	baseTime uint64 // Time of the first timestamp in ns, or 0 for now plus transit.
	transit  time.Duration
	count    int  // PDUs to send, or 0 for no limit.
	realTime bool // Send each PDU one PDU interval after the last.
}

func main() {
	var cfg config
	outPtr := flag.String("out", "", "Path to file of CRF PDUs to write, defaults to standard output.")
	idPtr := flag.String("id", "0", "Stream ID, e.g. 0xaabbccddeeff0002.")
	flag.Uint64Var(&cfg.typ, "type", crf.TypeAudioSample, "CRF type, 1 for an audio sample clock.")
	flag.Uint64Var(&cfg.baseFreq, "freq", 48000, "Base frequency of the clock in Hz.")
	flag.Uint64Var(&cfg.pull, "pull", crf.PullMultBy1, "Pull multiplier of the base frequency.")
	flag.Uint64Var(&cfg.interval, "interval", 160, "Clock events between timestamps.")
	flag.IntVar(&cfg.perPDU, "timestamps", 6, "Timestamps per PDU.")
	flag.Uint64Var(&cfg.baseTime, "base", 0, "Time of the first timestamp in ns, defaults to now plus the transit time.")
	flag.DurationVar(&cfg.transit, "transit", 2*time.Millisecond, "Maximum transit time added to the current time for the first timestamp.")
	flag.IntVar(&cfg.count, "count", 0, "Number of PDUs to send, 0 to send until stopped.")
	flag.BoolVar(&cfg.realTime, "realtime", true, "Send PDUs at the rate of the clock.")
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
	if cfg.count == 0 && !cfg.realTime {
		l.Fatal("a count is needed when not sending in real time")
	}

	var out io.Writer = os.Stdout
	if *outPtr != "" && *outPtr != "-" {
		f, err := os.Create(*outPtr)
		if err != nil {
			l.Fatal("could not create output", "error", err)
		}
		defer f.Close()
		out = f
	}

	n, err := talk(out, cfg, l)
	if err != nil {
		l.Fatal("could not stream clock", "error", err)
	}
	l.Info("finished streaming", "pdus", n)
}

// talk writes the CRF stream described by cfg to dst until cfg.count PDUs
// have been sent. It returns the number of PDUs written.
func talk(dst io.Writer, cfg config, l logging.Logger) (int, error) {
	base := cfg.baseTime
	if base == 0 {
		base = uint64(time.Now().Add(cfg.transit).UnixNano())
	}
	e, err := crf.NewEncoder(
		dst,
		l,
		crf.StreamID(cfg.streamID),
		crf.Type(cfg.typ),
		crf.Clock(cfg.baseFreq, cfg.pull, cfg.interval),
		crf.TimestampsPerPDU(cfg.perPDU),
		crf.BaseTime(base),
	)
	if err != nil {
		return 0, errors.Wrap(err, "could not create CRF encoder")
	}
	l.Info("streaming clock", "freq", cfg.baseFreq, "pull", cfg.pull, "interval", cfg.interval, "pduInterval", e.Interval(), "baseTime", base)

	var tick <-chan time.Time
	if cfg.realTime {
		ticker := time.NewTicker(e.Interval())
		defer ticker.Stop()
		tick = ticker.C
	}

	var n int
	for cfg.count <= 0 || n < cfg.count {
		if tick != nil && n != 0 {
			<-tick
		}
		err = e.Next()
		if err != nil {
			e.Close()
			return n, errors.Wrap(err, "could not write CRF PDU")
		}
		n++
	}
	return n, e.Close()
}
