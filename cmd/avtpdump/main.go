/*
DESCRIPTION
  avtpdump prints the header fields of each PDU in a file of AVTP PDUs.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package avtpdump is a program for inspecting captured AVTP streams.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/avtp/protocol/avtp"
	"github.com/ausocean/avtp/protocol/avtp/aaf"
	"github.com/ausocean/avtp/protocol/avtp/crf"
	"github.com/ausocean/avtp/protocol/avtp/cvf"
	"github.com/ausocean/avtp/protocol/avtp/ieciidc"
	"github.com/ausocean/avtp/protocol/avtp/rvf"
	"github.com/ausocean/avtp/protocol/avtp/vsf"
)

// Logging related constants.
const (
	logPath      = "/var/log/avtp/avtpdump.log"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

func main() {
	inPtr := flag.String("in", "", "Path to file of AVTP PDUs, defaults to standard input.")
	hexPtr := flag.Bool("hex", false, "Print a hex dump of each PDU.")
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

	var in io.Reader = os.Stdin
	if *inPtr != "" {
		f, err := os.Open(*inPtr)
		if err != nil {
			l.Fatal("could not open input", "error", err)
		}
		defer f.Close()
		in = f
	}

	n, err := dump(os.Stdout, in, *hexPtr, l)
	if err != nil {
		l.Fatal("could not dump PDUs", "pdus", n, "error", err)
	}
	l.Info("dumped PDUs", "pdus", n)
}

// summary accumulates statistics over the PDUs dumped.
type summary struct {
	counts   map[avtp.Subtype]int
	order    []avtp.Subtype // Subtypes in order of first appearance.
	deltas   []float64      // Differences between consecutive CRF timestamps in ns.
	last     uint64
	haveLast bool
}

func (s *summary) add(st avtp.Subtype, pdu []byte) {
	if s.counts[st] == 0 {
		s.order = append(s.order, st)
	}
	s.counts[st]++
	if st != avtp.SubtypeCRF {
		return
	}
	n, err := crf.NumTimestamps(pdu)
	if err != nil {
		return
	}
	for i := 0; i < n; i++ {
		ts, _ := crf.Timestamp(pdu, i)
		if s.haveLast {
			s.deltas = append(s.deltas, float64(int64(ts-s.last)))
		}
		s.last, s.haveLast = ts, true
	}
}

func (s *summary) write(w io.Writer) {
	fmt.Fprintln(w, "summary:")
	for _, st := range s.order {
		fmt.Fprintf(w, "  %-24s %d\n", st, s.counts[st])
	}
	if len(s.deltas) > 1 {
		mean, std := stat.MeanStdDev(s.deltas, nil)
		fmt.Fprintf(w, "  %-24s mean %.1f ns, std dev %.1f ns\n", "crf timestamp interval", mean, std)
	}
}

// dump writes a description of each PDU read from src to w, followed by a
// summary, and returns the number of PDUs read.
func dump(w io.Writer, src io.Reader, hexDump bool, l logging.Logger) (int, error) {
	s := summary{counts: make(map[avtp.Subtype]int)}
	r := avtp.NewReader(src)
	for n := 0; ; n++ {
		pdu, err := r.Next()
		if err == io.EOF {
			s.write(w)
			return n, nil
		}
		if err != nil {
			return n, errors.Wrapf(err, "could not read PDU %d", n)
		}

		st, _ := avtp.SubtypeOf(pdu)
		s.add(st, pdu)
		version, _ := avtp.Get(pdu, avtp.FieldVersion)
		fmt.Fprintf(w, "pdu %d: subtype %v, version %d, %d bytes\n", n, st, version, len(pdu))

		err = dumpFormat(w, st, pdu)
		if err != nil {
			l.Warning("could not dump PDU fields", "pdu", n, "subtype", st, "error", err)
		}
		if hexDump {
			fmt.Fprint(w, hex.Dump(pdu))
		}
	}
}

// dumpFormat writes the format specific fields of pdu to w.
func dumpFormat(w io.Writer, st avtp.Subtype, pdu []byte) error {
	switch st {
	case avtp.SubtypeAAF:
		dumpFields(w, pdu, aaf.FieldMax, aaf.Get)
	case avtp.SubtypeCVF:
		dumpFields(w, pdu, cvf.FieldMax, cvf.Get)
	case avtp.SubtypeRVF:
		dumpFields(w, pdu, rvf.FieldMax, rvf.Get)
	case avtp.SubtypeVSFStream:
		dumpFields(w, pdu, vsf.FieldMax, vsf.Get)
	case avtp.Subtype61883IIDC:
		dumpFields(w, pdu, ieciidc.FieldMax, ieciidc.Get)
	case avtp.SubtypeCRF:
		dumpFields(w, pdu, crf.FieldMax, crf.Get)
		return dumpTimestamps(w, pdu)
	default:
		dumpFields(w, pdu, avtp.StreamFieldMax, avtp.StreamGet)
	}
	return nil
}

// dumpFields writes each field of pdu below end that get can read to w.
// Fields that do not apply to the PDU, such as CIP fields of a PDU without
// a CIP header, are left out.
func dumpFields[F interface {
	~uint8
	String() string
}](w io.Writer, pdu []byte, end F, get func([]byte, F) (uint64, error)) {
	for f := F(0); f < end; f++ {
		v, err := get(pdu, f)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "  %-24s %#x\n", f, v)
	}
}

// dumpTimestamps writes the timestamps of the CRF PDU pdu to w.
func dumpTimestamps(w io.Writer, pdu []byte) error {
	n, err := crf.NumTimestamps(pdu)
	if err != nil {
		return err
	}
	period, err := crf.Period(pdu)
	if err == nil {
		fmt.Fprintf(w, "  %-24s %v\n", "period", period)
	}
	for i := 0; i < n; i++ {
		ts, err := crf.Timestamp(pdu, i)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %-24s %d\n", fmt.Sprintf("timestamp[%d]", i), ts)
	}
	return nil
}
