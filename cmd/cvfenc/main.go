/*
DESCRIPTION
  cvfenc reads an H.264 byte stream file and writes it as a file of AVTP
  Compressed Video Format (CVF) PDUs, one NAL unit per PDU.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package cvfenc is a program for packetising H.264 video as CVF.
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

	"github.com/ausocean/avtp/codec/h264"
	"github.com/ausocean/avtp/protocol/avtp/cvf"
)

// Logging related constants.
const (
	logPath      = "/var/log/avtp/cvfenc.log"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

// config holds the settings for an encode.
type config struct {
	streamID uint64
	maxNAL   int
	fps      uint // Access unit rate for h264_timestamp, or 0 for none.
	baseTime uint64
	transit  time.Duration
	delay    time.Duration // Delay between access units.
}

func main() {
	var cfg config
	inPtr := flag.String("in", "", "Path to H.264 byte stream file.")
	outPtr := flag.String("out", "", "Path to file of AVTP PDUs to write.")
	idPtr := flag.String("id", "0", "Stream ID, e.g. 0xaabbccddeeff0001.")
	flag.IntVar(&cfg.maxNAL, "max", 1400, "Largest NAL unit in bytes, including its start code.")
	flag.UintVar(&cfg.fps, "fps", 25, "Frame rate for H.264 timestamps, 0 for none.")
	flag.Uint64Var(&cfg.baseTime, "base", 0, "Presentation time of the first access unit in ns.")
	flag.DurationVar(&cfg.transit, "transit", 50*time.Millisecond, "Maximum transit time added to avtp_timestamp.")
	flag.DurationVar(&cfg.delay, "delay", 0, "Delay between access units, e.g. 40ms to send in real time at 25 fps.")
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

	n, err := encode(in, out, cfg, l)
	if err != nil {
		l.Fatal("could not encode video", "error", err)
	}
	l.Info("encoded video", "accessUnits", n)
}

// auCounter counts the access units written through it.
type auCounter struct {
	dst io.Writer
	n   int
}

func (c *auCounter) Write(p []byte) (int, error) {
	n, err := c.dst.Write(p)
	if err == nil {
		c.n++
	}
	return n, err
}

// encode writes the H.264 byte stream read from src to dst as CVF PDUs and
// returns the number of access units written.
func encode(src io.Reader, dst io.Writer, cfg config, l logging.Logger) (int, error) {
	opts := []func(*cvf.Encoder) error{
		cvf.StreamID(cfg.streamID),
		cvf.MaxNALSize(cfg.maxNAL),
		cvf.TransitTime(cfg.transit),
		cvf.BaseTime(cfg.baseTime),
	}
	if cfg.fps != 0 {
		opts = append(opts, cvf.FrameRate(cfg.fps))
	}
	e, err := cvf.NewEncoder(dst, l, opts...)
	if err != nil {
		return 0, errors.Wrap(err, "could not create encoder")
	}

	c := &auCounter{dst: e}
	err = h264.Lex(c, src, cfg.delay)
	if err != nil {
		return c.n, errors.Wrap(err, "could not lex H.264")
	}
	return c.n, nil
}
