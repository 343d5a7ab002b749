/*
NAME
  alsa.go

DESCRIPTION
  alsa.go provides a Source capturing audio from ALSA recording devices as
  big endian PCM ready for AAF packetisation.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package alsa provides access to input from ALSA audio devices.
package alsa

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/ausocean/utils/pool"
	"github.com/pkg/errors"
	yalsa "github.com/yobert/alsa"

	"github.com/ausocean/avtp/codec/pcm"
	"github.com/ausocean/avtp/device"
)

const (
	pkg           = "alsa: "
	rbTimeout     = 100 * time.Millisecond
	rbNextTimeout = 2000 * time.Millisecond
	rbLen         = 200
	pbSize        = 11520000         // 60 seconds of pcm data.
	longRecLength = 10 * time.Second // Longer record period to minimise skips between recordings.
)

// "running" means the input goroutine is reading from the ALSA device and writing to the ringbuffer.
// "paused" means the input routine is sleeping until unpaused or stopped.
// "stopped" means the input routine is stopped and the ALSA device is closed.
const (
	running = iota + 1
	paused
	stopped
)

const (
	defaultSampleRate = 48000
	defaultBitDepth   = 16
	defaultChannels   = 1
	defaultRecPeriod  = 1.0
)

// Configuration field errors.
var (
	errInvalidSampleRate = errors.New("invalid sample rate, defaulting")
	errInvalidChannels   = errors.New("invalid number of channels, defaulting")
	errInvalidBitDepth   = errors.New("invalid bitdepth, defaulting")
	errInvalidRecPeriod  = errors.New("invalid record period, defaulting")
)

// An ALSA device holds everything we need to know about the audio input
// stream and implements device.Source.
type ALSA struct {
	l      logging.Logger // Logger for device's routines to log to.
	mode   uint8          // Operating mode, either running, paused, or stopped.
	mu     sync.Mutex     // Provides synchronisation when changing modes concurrently.
	dev    *yalsa.Device  // ALSA device's Audio input device.
	pb     pcm.Buffer     // Buffer to contain the direct audio from ALSA.
	buf    *pool.Buffer   // Ring buffer to contain processed audio ready to be read.
	Config                // Configuration parameters for this device.
}

// Config provides parameters used by the ALSA device.
type Config struct {
	Title      string // Name of the recording device, or empty for the first found.
	SampleRate uint
	Channels   uint
	BitDepth   uint    // 16 or 32.
	RecPeriod  float64 // Seconds of audio in each read.
}

// New initializes and returns an ALSA device which has its logger set as the given logger.
func New(l logging.Logger) *ALSA { return &ALSA{l: l} }

// Name returns the name of the device.
func (d *ALSA) Name() string {
	return "ALSA"
}

// Format returns the format of the audio read from d.
func (d *ALSA) Format() pcm.BufferFormat {
	sf, _ := pcm.SFFromBitDepth(d.BitDepth)
	return pcm.BufferFormat{SFormat: sf, Rate: d.SampleRate, Channels: d.Channels, BitDepth: d.BitDepth}
}

// Setup will take a Config struct, check the validity of the fields and then
// open the device. If fields are not valid, an error is added to the
// returned device.MultiError and a default value is used. The device can
// then be started, read from, and stopped.
func (d *ALSA) Setup(c Config) error {
	var errs device.MultiError
	if c.SampleRate <= 0 {
		errs = append(errs, errInvalidSampleRate)
		c.SampleRate = defaultSampleRate
	}
	if c.Channels <= 0 {
		errs = append(errs, errInvalidChannels)
		c.Channels = defaultChannels
	}
	if c.BitDepth != 16 && c.BitDepth != 32 {
		errs = append(errs, errInvalidBitDepth)
		c.BitDepth = defaultBitDepth
	}
	if c.RecPeriod <= 0 {
		errs = append(errs, errInvalidRecPeriod)
		c.RecPeriod = defaultRecPeriod
	}
	d.Config = c

	// Open the requested audio device.
	err := d.open()
	if err != nil {
		return errors.Wrap(err, "failed to open device")
	}

	// Create a buffer for longer continuous recordings.
	ab := d.dev.NewBufferDuration(longRecLength)
	sf, err := sfFromALSA(ab.Format.SampleFormat)
	if err != nil {
		return err
	}
	d.pb = pcm.Buffer{
		Format: pcm.BufferFormat{
			SFormat:  sf,
			Channels: uint(ab.Format.Channels),
			Rate:     uint(ab.Format.Rate),
		},
		Data: ab.Data,
	}

	// Create pool buffer with appropriate chunk size.
	d.buf = pool.NewBuffer(rbLen, d.DataSize(), rbTimeout)
	pool.MaxAlloc(pbSize * 2)

	// Start device in paused mode.
	d.mode = paused
	go d.input()

	if len(errs) != 0 {
		return errs
	}
	return nil
}

// sfFromALSA returns the big endian sample format matching the little endian
// ALSA format f.
func sfFromALSA(f yalsa.FormatType) (pcm.SampleFormat, error) {
	switch f {
	case yalsa.S16_LE:
		return pcm.S16_BE, nil
	case yalsa.S32_LE:
		return pcm.S32_BE, nil
	default:
		return pcm.Unknown, errors.Errorf("unsupported ALSA sample format %v", f)
	}
}

// Start will start recording audio and writing to the ringbuffer.
// Once an ALSA device has been stopped it cannot be started again.
func (d *ALSA) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.mode {
	case paused:
		d.mode = running
		return nil
	case stopped:
		return errors.New("device is stopped")
	case running:
		return nil
	default:
		return errors.Errorf("invalid mode: %d", d.mode)
	}
}

// Stop will stop recording audio and close the device. Reads return io.EOF
// once buffered audio has been read.
func (d *ALSA) Stop() error {
	d.mu.Lock()
	d.mode = stopped
	d.mu.Unlock()
	return nil
}

// open the recording device with the configured title and prepare it to
// record. If the title is empty, the first recording device is used.
func (d *ALSA) open() error {
	// Close any existing device.
	if d.dev != nil {
		d.l.Debug("closing device", "title", d.Title)
		d.dev.Close()
		d.dev = nil
	}

	// Open sound card and open recording device.
	d.l.Debug("opening sound card")
	cards, err := yalsa.OpenCards()
	if err != nil {
		return err
	}
	defer yalsa.CloseCards(cards)

	d.l.Debug("finding audio device")
	for _, card := range cards {
		devices, err := card.Devices()
		if err != nil {
			continue
		}
		for _, dev := range devices {
			if dev.Type != yalsa.PCM || !dev.Record {
				continue
			}
			if dev.Title == d.Title || d.Title == "" {
				d.dev = dev
				break
			}
		}
	}
	if d.dev == nil {
		return errors.New("no ALSA device found")
	}

	d.l.Debug("opening ALSA device", "title", d.dev.Title)
	err = d.dev.Open()
	if err != nil {
		return err
	}

	// Try to configure device with chosen channels.
	channels, err := d.dev.NegotiateChannels(int(d.Channels))
	if err != nil && d.Channels == 1 {
		d.l.Info("device is unable to record in mono, trying stereo", "error", err)
		channels, err = d.dev.NegotiateChannels(2)
	}
	if err != nil {
		return errors.Wrap(err, "device is unable to record with requested number of channels")
	}
	d.l.Debug("alsa device channels set", "channels", channels)

	// Negotiate a rate that is a multiple of the wanted rate so that it can
	// be downsampled by decimation. Some cards claim rates they cannot
	// record at, which shows up as a failure here.
	var rates = [8]int{8000, 16000, 32000, 44100, 48000, 88200, 96000, 192000}

	var rate int
	foundRate := false
	for _, r := range rates {
		if r < int(d.SampleRate) {
			continue
		}
		if r%int(d.SampleRate) == 0 {
			rate, err = d.dev.NegotiateRate(r)
			if err == nil {
				foundRate = true
				d.l.Debug("alsa device sample rate set", "rate", rate)
				break
			}
		}
	}

	// If no easily divisible rate is found, then use the default rate.
	if !foundRate {
		d.l.Warning("unable to sample at requested rate, default used.", "rateRequested", d.SampleRate)
		rate, err = d.dev.NegotiateRate(defaultSampleRate)
		if err != nil {
			return err
		}
		d.l.Debug("alsa device sample rate set", "rate", rate)
	}

	aFmt := yalsa.S16_LE
	if d.BitDepth == 32 {
		aFmt = yalsa.S32_LE
	}
	devFmt, err := d.dev.NegotiateFormat(aFmt)
	if err != nil {
		return err
	}
	sf, err := sfFromALSA(devFmt)
	if err != nil {
		return err
	}
	if sf.Size()*8 != int(d.BitDepth) {
		return errors.Errorf("device negotiated %v, want %d bit samples", devFmt, d.BitDepth)
	}
	d.l.Debug("alsa device format set", "format", devFmt)

	// A 50ms period is a sensible value for low-ish latency. Some devices
	// only accept even period sizes while others want powers of 2, so use
	// the closest power of 2 to the desired period size.
	const wantPeriod = 0.05 // seconds
	bytesPerSecond := rate * channels * sf.Size()
	wantPeriodSize := int(float64(bytesPerSecond) * wantPeriod)
	periodSize, err := d.dev.NegotiatePeriodSize(nearestPowerOfTwo(wantPeriodSize))
	if err != nil {
		return err
	}
	d.l.Debug("alsa device period size set", "periodsize", periodSize)

	// At least four period sizes should fit within the buffer.
	bufSize, err := d.dev.NegotiateBufferSize(periodSize * 4)
	if err != nil {
		return err
	}
	d.l.Debug("alsa device buffer size set", "buffersize", bufSize)

	if err = d.dev.Prepare(); err != nil {
		return err
	}

	d.l.Debug("successfully negotiated device params")
	return nil
}

// input continously records audio and writes it to the ringbuffer.
// Re-opens the device and tries again if the ALSA device returns an error.
func (d *ALSA) input() {
	// The channel has a capacity of 5 minutes of audio, which it should never reach.
	ch := make(chan []byte, int(5*60/d.RecPeriod))

	// Read audio in longer sections (length of longRecLength).
	go chunkingRead(d, ch)

	goodCount := 0
	badCount := 0

	recPeriod := time.Duration(d.RecPeriod * float64(time.Second))
	ticker := time.NewTicker(recPeriod)
	defer ticker.Stop()

	for {
		// Check mode.
		d.mu.Lock()
		mode := d.mode
		d.mu.Unlock()
		switch mode {
		case paused:
			time.Sleep(recPeriod)
			continue
		case stopped:
			if d.dev != nil {
				d.l.Debug("closing ALSA device", "title", d.Title)
				d.dev.Close()
				d.dev = nil
			}
			err := d.buf.Close()
			if err != nil {
				d.l.Error("unable to close pool buffer", "error", err)
			}
			return
		}

		// Read audio chunk from channel.
		<-ticker.C
		timeout := time.NewTimer(recPeriod)
		select {
		case d.pb.Data = <-ch:
			timeout.Stop()
		case <-timeout.C:
			continue
		}

		toWrite, err := d.formatBuffer()
		if err != nil {
			d.l.Error("could not format audio", "error", err)
			continue
		}

		// Write audio to ringbuffer.
		n, err := d.buf.Write(toWrite.Data)
		switch err {
		case nil:
			goodCount++
			d.l.Debug("wrote audio to ringbuffer", "length", n, "full chunks", d.buf.Len(), "throughput", fmt.Sprintf("%.2f", float64(goodCount)/float64(goodCount+badCount)))
		case pool.ErrDropped:
			badCount++
			d.l.Warning("old audio data overwritten", "full chunks", d.buf.Len(), "throughput", fmt.Sprintf("%.2f", float64(goodCount)/float64(goodCount+badCount)))
		default:
			badCount++
			d.l.Error("unexpected ringbuffer error", "error", err.Error())
		}
	}
}

// chunkingRead reads continuously from the ALSA device in long sections.
// The audio is then chunked into the recording period set by d.RecPeriod
// and sent over the channel.
func chunkingRead(d *ALSA, ch chan []byte) {
	size := d.recordSize()
	d.l.Debug("datasize of recperiod", "datasize", size)
	for {
		d.mu.Lock()
		mode := d.mode
		d.mu.Unlock()
		if mode == stopped {
			return
		}

		buf := d.dev.NewBufferDuration(longRecLength)
		d.l.Debug("reading audio", "recording length", longRecLength.String())
		err := d.dev.Read(buf.Data)
		if err != nil {
			d.l.Debug("read failed", "error", err.Error())
			err = d.open() // re-open
			if err != nil {
				d.l.Error("reopening device failed", "error", err.Error())
				return
			}
			continue
		}

		// Don't wait for chunking so that recording restarts promptly.
		go chunkingSender(buf.Data, size, ch, d.l)
	}
}

func chunkingSender(buf []byte, size int, ch chan []byte, log logging.Logger) {
	log.Debug("starting chunkingSender")
	for i := 0; i+size <= len(buf); i += size {
		ch <- buf[i:(i + size)]
	}
	log.Debug("finish chunkingSender")
}

// Read reads from the ringbuffer, returning the number of bytes read upon success.
func (d *ALSA) Read(p []byte) (int, error) {
	d.l.Debug(pkg + "getting next chunk ready")
	chunk, err := d.buf.Next(rbNextTimeout)
	if err != nil {
		switch err {
		case io.EOF:
			d.l.Debug(pkg + "EOF from Next")
		case pool.ErrTimeout:
			d.l.Debug(pkg + "pool buffer timeout")
		default:
			d.l.Error(pkg+"unexpected error from Next", "error", err.Error())
		}
		return 0, err
	}

	n := copy(p, chunk.Bytes())
	err = chunk.Close()
	if err != nil {
		d.l.Debug(pkg+"chunk close error", "error", err)
		return n, err
	}
	d.l.Debug(pkg+"read from buffer", "bytes", n, "full chunks", d.buf.Len())
	return n, nil
}

// formatBuffer returns the recorded audio converted to big endian samples
// of the configured channels and rate.
func (d *ALSA) formatBuffer() (pcm.Buffer, error) {
	formatted := d.pb
	err := pcm.SwapEndian(formatted.Data, formatted.Format.SFormat)
	if err != nil {
		return formatted, errors.Wrap(err, "could not convert byte order")
	}

	if formatted.Format.Channels == 2 && d.Channels == 1 {
		formatted, err = pcm.StereoToMono(formatted)
		if err != nil {
			return formatted, errors.Wrap(err, "channel conversion failed")
		}
	}
	if formatted.Format.Channels != d.Channels {
		return formatted, errors.Errorf("cannot convert %d channels to %d", formatted.Format.Channels, d.Channels)
	}

	if formatted.Format.Rate != d.SampleRate {
		formatted, err = pcm.Resample(formatted, d.SampleRate)
		if err != nil {
			return formatted, errors.Wrap(err, "rate conversion failed")
		}
	}
	return formatted, nil
}

// DataSize returns the size in bytes of the data ALSA device d will
// output in the duration of a single recording period.
func (d *ALSA) DataSize() int {
	return pcm.DataSize(d.SampleRate, d.Channels, d.BitDepth, d.RecPeriod)
}

// recordSize returns the size in bytes of a recording period of audio as
// captured, before channel and rate conversion.
func (d *ALSA) recordSize() int {
	f := d.pb.Format
	return pcm.DataSize(f.Rate, f.Channels, uint(8*f.SFormat.Size()), d.RecPeriod)
}

// nearestPowerOfTwo finds and returns the nearest power of two to the given integer.
// If the lower and higher power of two are the same distance, it returns the higher power.
// For negative values, 1 is returned.
// Source: https://stackoverflow.com/a/45859570
func nearestPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}
	if n == 1 {
		return 2
	}
	v := n
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++         // higher power of 2
	x := v >> 1 // lower power of 2
	if (v - n) > (n - x) {
		return x
	}
	return v
}

// IsRunning is used to determine if the ALSA device is running.
func (d *ALSA) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode == running
}
