/*
DESCRIPTION
  aaftalker captures audio from an ALSA device, or plays an audio file, and
  writes it as a stream of AVTP Audio Format (AAF) PDUs.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package aaftalker is a program for streaming captured audio as AAF PDUs.
package main

import (
	"flag"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/ausocean/utils/pool"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/avtp/device"
	"github.com/ausocean/avtp/device/alsa"
	"github.com/ausocean/avtp/device/file"
	"github.com/ausocean/avtp/protocol/avtp/aaf"
)

// Logging related constants.
const (
	logPath      = "/var/log/avtp/aaftalker.log"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

// Size of reads from the source.
const readSize = 4096

// config holds the settings for a talker.
type config struct {
	streamID     uint64
	framesPerPDU int
	baseTime     uint64
	transit      time.Duration
	length       time.Duration // Length of audio to send, or 0 until the source ends.
}

func main() {
	var cfg config
	srcPtr := flag.String("src", "alsa", "Audio source, alsa or file.")
	inPtr := flag.String("in", "", "Path to WAV or FLAC file for the file source.")
	loopPtr := flag.Bool("loop", false, "Loop the file source.")
	titlePtr := flag.String("device", "", "Title of ALSA recording device, defaults to the first found.")
	ratePtr := flag.Uint("rate", 48000, "ALSA sample rate in Hz.")
	chansPtr := flag.Uint("channels", 2, "ALSA channels.")
	depthPtr := flag.Uint("depth", 16, "ALSA bit depth, 16 or 32.")
	periodPtr := flag.Float64("period", 0.1, "ALSA recording period in seconds.")
	outPtr := flag.String("out", "", "Path to file of AAF PDUs to write, defaults to standard output.")
	idPtr := flag.String("id", "0", "Stream ID, e.g. 0xaabbccddeeff0001.")
	flag.IntVar(&cfg.framesPerPDU, "frames", 6, "Audio frames per PDU.")
	flag.Uint64Var(&cfg.baseTime, "base", 0, "Presentation time of the first frame in ns.")
	flag.DurationVar(&cfg.transit, "transit", 2*time.Millisecond, "Maximum transit time added to presentation times.")
	flag.DurationVar(&cfg.length, "length", 0, "Length of audio to send, 0 to send until the source ends.")
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

	var src device.Source
	switch *srcPtr {
	case "alsa":
		d := alsa.New(l)
		err = d.Setup(alsa.Config{
			Title:      *titlePtr,
			SampleRate: *ratePtr,
			Channels:   *chansPtr,
			BitDepth:   *depthPtr,
			RecPeriod:  *periodPtr,
		})
		var merr device.MultiError
		switch {
		case errors.As(err, &merr):
			l.Warning("ALSA configuration defaulted", "error", err)
		case err != nil:
			l.Fatal("could not set up ALSA device", "error", err)
		}
		src = d
	case "file":
		src = file.New(l, *inPtr, *loopPtr)
	default:
		l.Fatal("unknown source", "src", *srcPtr)
	}

	var out io.Writer = os.Stdout
	if *outPtr != "" {
		f, err := os.Create(*outPtr)
		if err != nil {
			l.Fatal("could not create output", "error", err)
		}
		defer f.Close()
		out = f
	}

	n, err := talk(src, out, cfg, l)
	if err != nil {
		l.Fatal("could not stream audio", "error", err)
	}
	l.Info("finished streaming", "source", src.Name(), "bytes", n)
}

// talk starts src and packetises its audio to dst until src ends or
// cfg.length of audio has been sent. It returns the number of bytes of
// audio packetised.
func talk(src device.Source, dst io.Writer, cfg config, l logging.Logger) (int, error) {
	err := src.Start()
	if err != nil {
		return 0, errors.Wrap(err, "could not start source")
	}
	defer src.Stop()

	f := src.Format()
	e, err := aaf.NewEncoder(
		dst,
		l,
		aaf.StreamID(cfg.streamID),
		aaf.Format(f.SFormat.AAFFormat(), aaf.NSRFromRate(f.Rate), f.Channels, f.BitDepth),
		aaf.FramesPerPDU(cfg.framesPerPDU),
		aaf.BaseTime(cfg.baseTime),
		aaf.TransitTime(cfg.transit),
	)
	if err != nil {
		return 0, errors.Wrap(err, "could not create AAF encoder")
	}
	l.Info("streaming audio", "source", src.Name(), "rate", f.Rate, "channels", f.Channels, "format", f.SFormat)

	limit := -1
	if cfg.length > 0 {
		limit = int(int64(cfg.length)*int64(f.Rate)/int64(time.Second)) * f.FrameSize()
	}

	var total int
	buf := make([]byte, readSize)
	for limit < 0 || total < limit {
		p := buf
		if limit >= 0 && limit-total < len(p) {
			p = p[:limit-total]
		}
		n, err := src.Read(p)
		if n > 0 {
			_, werr := e.Write(p[:n])
			if werr != nil {
				e.Close()
				return total, errors.Wrap(werr, "could not encode audio")
			}
			total += n
		}
		if err == io.EOF {
			break
		}
		if err == pool.ErrTimeout {
			l.Warning("timed out waiting for audio")
			continue
		}
		if err != nil {
			e.Close()
			return total, errors.Wrap(err, "could not read audio")
		}
	}
	return total, e.Close()
}
