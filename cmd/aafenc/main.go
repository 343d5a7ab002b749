/*
DESCRIPTION
  aafenc packetises a WAV or FLAC audio file into a file of AVTP Audio Format
  (AAF) PDUs.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package aafenc is a program for packetising audio files into AAF PDUs.
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

	"github.com/ausocean/avtp/codec/pcm"
	"github.com/ausocean/avtp/device/file"
	"github.com/ausocean/avtp/protocol/avtp/aaf"
)

// Logging related constants.
const (
	logPath      = "/var/log/avtp/aafenc.log"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

// Filter related constants.
const filterLength = 500

// config holds the settings for an encoding run.
type config struct {
	in, out      string
	streamID     uint64
	framesPerPDU int
	rate         uint    // Resample to this rate if non-zero.
	mono         bool    // Keep only the left channel.
	lowpass      float64 // Cutoff in Hz if non-zero.
	highpass     float64 // Cutoff in Hz if non-zero.
	gain         float64 // Amplification factor if non-zero.
	baseTime     uint64
	transit      time.Duration
	sparse       bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.in, "in", "", "Path to WAV or FLAC file to packetise.")
	flag.StringVar(&cfg.out, "out", "", "Path to file of AAF PDUs to write.")
	idPtr := flag.String("id", "0", "Stream ID, e.g. 0xaabbccddeeff0001.")
	flag.IntVar(&cfg.framesPerPDU, "frames", 6, "Audio frames per PDU.")
	flag.UintVar(&cfg.rate, "rate", 0, "Downsample to this rate in Hz.")
	flag.BoolVar(&cfg.mono, "mono", false, "Keep only the left channel.")
	flag.Float64Var(&cfg.lowpass, "lowpass", 0, "Lowpass cutoff frequency in Hz.")
	flag.Float64Var(&cfg.highpass, "highpass", 0, "Highpass cutoff frequency in Hz.")
	flag.Float64Var(&cfg.gain, "gain", 0, "Amplification factor.")
	flag.Uint64Var(&cfg.baseTime, "base", 0, "Presentation time of the first frame in ns.")
	flag.DurationVar(&cfg.transit, "transit", 2*time.Millisecond, "Maximum transit time added to presentation times.")
	flag.BoolVar(&cfg.sparse, "sparse", false, "Use sparse timestamp mode.")
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

	err = run(cfg, l)
	if err != nil {
		l.Fatal("could not packetise audio", "error", err)
	}
}

// run packetises the audio file named by cfg.in into cfg.out.
func run(cfg config, l logging.Logger) error {
	ib, err := file.Decode(cfg.in)
	if err != nil {
		return errors.Wrap(err, "could not decode input")
	}
	l.Info("decoded input", "path", cfg.in, "rate", ib.Format.SampleRate, "channels", ib.Format.NumChannels, "bitDepth", ib.SourceBitDepth, "samples", len(ib.Data))

	sf, err := pcm.SFFromBitDepth(uint(ib.SourceBitDepth))
	if err != nil {
		return err
	}
	buf, err := pcm.FromIntBuffer(ib, sf)
	if err != nil {
		return errors.Wrap(err, "could not convert audio")
	}

	buf, err = process(buf, cfg, l)
	if err != nil {
		return err
	}

	f, err := os.Create(cfg.out)
	if err != nil {
		return errors.Wrap(err, "could not create output")
	}

	e, err := aaf.NewEncoder(
		f,
		l,
		aaf.StreamID(cfg.streamID),
		aaf.Format(sf.AAFFormat(), aaf.NSRFromRate(buf.Format.Rate), buf.Format.Channels, buf.Format.BitDepth),
		aaf.FramesPerPDU(cfg.framesPerPDU),
		aaf.BaseTime(cfg.baseTime),
		aaf.TransitTime(cfg.transit),
		aaf.Sparse(cfg.sparse),
	)
	if err != nil {
		f.Close()
		return errors.Wrap(err, "could not create AAF encoder")
	}

	_, err = e.Write(buf.Data)
	if err != nil {
		e.Close()
		return errors.Wrap(err, "could not encode audio")
	}
	err = e.Close()
	if err != nil {
		return errors.Wrap(err, "could not close encoder")
	}
	l.Info("wrote AAF stream", "path", cfg.out, "bytes", len(buf.Data))
	return nil
}

// process applies the channel, rate and filter settings of cfg to buf.
func process(buf pcm.Buffer, cfg config, l logging.Logger) (pcm.Buffer, error) {
	var err error
	if cfg.mono {
		buf, err = pcm.StereoToMono(buf)
		if err != nil {
			return buf, errors.Wrap(err, "could not convert to mono")
		}
	}
	if cfg.rate != 0 {
		buf, err = pcm.Resample(buf, cfg.rate)
		if err != nil {
			return buf, errors.Wrap(err, "could not resample")
		}
	}

	var filters []pcm.AudioFilter
	if cfg.highpass != 0 {
		hp, err := pcm.NewHighPass(cfg.highpass, buf.Format.Rate, filterLength)
		if err != nil {
			return buf, errors.Wrap(err, "could not create highpass filter")
		}
		filters = append(filters, hp)
	}
	if cfg.lowpass != 0 {
		lp, err := pcm.NewLowPass(cfg.lowpass, buf.Format.Rate, filterLength)
		if err != nil {
			return buf, errors.Wrap(err, "could not create lowpass filter")
		}
		filters = append(filters, lp)
	}
	if cfg.gain != 0 {
		filters = append(filters, pcm.NewAmplifier(cfg.gain))
	}
	for _, f := range filters {
		buf.Data, err = f.Apply(buf)
		if err != nil {
			return buf, errors.Wrap(err, "could not apply filter")
		}
	}
	l.Debug("processed audio", "format", buf.Format, "filters", len(filters))
	return buf, nil
}
