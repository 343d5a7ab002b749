/*
DESCRIPTION
  clock.go provides checking of AAF presentation times against the media
  clock recovered from a CRF stream.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package main

import (
	"io"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/protocol/avtp"
	"github.com/ausocean/avtp/protocol/avtp/crf"
)

// clockCheck checks the presentation times of AAF PDUs against a media clock
// recovered from the first CRF stream of a source. CRF PDUs are read only as
// far as needed to cover the presentation time being checked.
type clockCheck struct {
	r      *avtp.Reader
	v      *crf.Validator
	mc     *crf.MediaClock
	perCRF int
	period time.Duration // Media clock period, one AAF PDU.
	rate   uint64        // CRF frequency in Hz.
	end    uint32        // Low 32 bits of the end of the recovered clock.
	eof    bool

	checked bool
	aligned bool // Alignment of the last PDU checked.

	log logging.Logger
}

// newClockCheck returns a clockCheck recovering a media clock with one
// timestamp per AAF PDU of the given period from the CRF PDUs read from src.
func newClockCheck(src io.Reader, period time.Duration, l logging.Logger) (*clockCheck, error) {
	r := avtp.NewReader(src)
	var pdu []byte
	for {
		p, err := r.Next()
		if err == io.EOF {
			return nil, errors.New("no CRF stream found")
		}
		if err != nil {
			return nil, errors.Wrap(err, "could not read CRF PDU")
		}
		if st, _ := avtp.SubtypeOf(p); st == avtp.SubtypeCRF {
			pdu = p
			break
		}
	}

	var s crf.Stream
	s.ID, _ = crf.Get(pdu, crf.FieldStreamID)
	s.Type, _ = crf.Get(pdu, crf.FieldType)
	s.Pull, _ = crf.Get(pdu, crf.FieldPull)
	s.BaseFreq, _ = crf.Get(pdu, crf.FieldBaseFreq)
	num, den, err := crf.Frequency(pdu)
	if err != nil {
		return nil, err
	}
	tsPeriod, err := crf.Period(pdu)
	if err != nil {
		return nil, err
	}
	n, err := crf.NumTimestamps(pdu)
	if err != nil {
		return nil, err
	}

	// One CRF PDU covers n timestamp periods of the media clock.
	span := time.Duration(n) * tsPeriod
	perCRF := int((span + period/2) / period)
	if perCRF < 1 {
		perCRF = 1
	}
	mc, err := crf.NewMediaClock(period, perCRF, 0)
	if err != nil {
		return nil, err
	}
	l.Info("found CRF stream", "streamID", s.ID, "type", s.Type, "baseFreq", s.BaseFreq, "pull", s.Pull, "timestampsPerCRF", perCRF)

	c := &clockCheck{
		r:      r,
		v:      crf.NewValidator(s, l),
		mc:     mc,
		perCRF: perCRF,
		period: period,
		rate:   num / den,
		log:    l,
	}
	return c, c.recover(pdu)
}

// recover validates the CRF PDU pdu and adds its media clock timestamps.
// PDUs of other streams are ignored.
func (c *clockCheck) recover(pdu []byte) error {
	err := c.v.Validate(pdu)
	var serr *crf.SequenceError
	switch {
	case errors.As(err, &serr):
	case errors.Cause(err) == crf.ErrMismatch:
		c.log.Debug("skipping CRF PDU", "reason", err)
		return nil
	case err != nil:
		return errors.Wrap(err, "invalid CRF PDU")
	}

	err = c.mc.Recover(pdu)
	if err != nil {
		return err
	}
	ts, _ := crf.Timestamp(pdu, 0)
	c.end = uint32(ts + uint64(c.perCRF)*uint64(c.period))
	return nil
}

// check returns true if the AAF PDU with presentation time avtpTime is
// aligned with the media clock. Changes of alignment are logged.
func (c *clockCheck) check(avtpTime uint32) (bool, error) {
	for !c.eof && int32(c.end-avtpTime) <= 0 {
		pdu, err := c.r.Next()
		if err == io.EOF {
			c.eof = true
			break
		}
		if err != nil {
			return false, errors.Wrap(err, "could not read CRF PDU")
		}
		if st, _ := avtp.SubtypeOf(pdu); st != avtp.SubtypeCRF {
			continue
		}
		err = c.recover(pdu)
		if err != nil {
			return false, err
		}
	}

	var ok bool
	mclk, err := c.mc.Timestamp(avtpTime)
	switch {
	case errors.Cause(err) == crf.ErrNoMediaClock:
	case err != nil:
		return false, err
	default:
		ok = crf.Aligned(uint32(mclk), avtpTime, c.rate)
	}

	if !c.checked || ok != c.aligned {
		if ok {
			c.log.Info("presentation time aligned with media clock", "avtpTime", avtpTime)
		} else {
			c.log.Warning("presentation time not aligned with media clock", "avtpTime", avtpTime, "mediaClock", uint32(mclk))
		}
	}
	c.checked, c.aligned = true, ok
	return ok, nil
}

// resync makes the next check search the media clock, as is needed once AAF
// PDUs have been lost.
func (c *clockCheck) resync() {
	c.mc.Resync()
}
