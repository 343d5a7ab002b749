/*
NAME
  pcm.go

DESCRIPTION
  pcm.go contains functions for processing pcm and converting it to and from
  the big endian sample layout carried by AAF PDUs.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package pcm provides functions for processing and converting pcm audio.
// Samples are big endian, signed and MSB aligned within their container,
// as carried in the payload of AAF PDUs.
package pcm

import (
	"github.com/go-audio/audio"
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/protocol/avtp/aaf"
)

// SampleFormat is the format that a PCM Buffer's samples can be in.
type SampleFormat int

// Used to represent an unknown format.
const (
	Unknown SampleFormat = -1
)

// Sample formats that we use, matching the AAF integer formats.
const (
	S16_BE SampleFormat = iota
	S24_BE
	S32_BE
)

// BufferFormat contains the format for a PCM Buffer.
type BufferFormat struct {
	SFormat  SampleFormat
	Rate     uint
	Channels uint
	BitDepth uint // Valid bits in each sample, 0 meaning the whole container.
}

// Buffer contains a buffer of PCM data and the format that it is in.
type Buffer struct {
	Format BufferFormat
	Data   []byte
}

// Size returns the number of bytes in a sample of format f, or 0 if f is
// unknown.
func (f SampleFormat) Size() int {
	switch f {
	case S16_BE:
		return 2
	case S24_BE:
		return 3
	case S32_BE:
		return 4
	default:
		return 0
	}
}

// AAFFormat returns the AAF format field value for samples of format f.
func (f SampleFormat) AAFFormat() uint64 {
	switch f {
	case S16_BE:
		return aaf.FormatInt16Bit
	case S24_BE:
		return aaf.FormatInt24Bit
	case S32_BE:
		return aaf.FormatInt32Bit
	default:
		return aaf.FormatUser
	}
}

// SFFromBitDepth returns the smallest sample format holding samples of the
// given bit depth.
func SFFromBitDepth(depth uint) (SampleFormat, error) {
	switch {
	case depth == 0:
		return Unknown, errors.New("zero bit depth")
	case depth <= 16:
		return S16_BE, nil
	case depth <= 24:
		return S24_BE, nil
	case depth <= 32:
		return S32_BE, nil
	default:
		return Unknown, errors.Errorf("unsupported bit depth %d", depth)
	}
}

// SFFromAAF returns the sample format of the AAF format field value format.
func SFFromAAF(format uint64) (SampleFormat, error) {
	switch format {
	case aaf.FormatInt16Bit:
		return S16_BE, nil
	case aaf.FormatInt24Bit:
		return S24_BE, nil
	case aaf.FormatInt32Bit:
		return S32_BE, nil
	default:
		return Unknown, errors.Errorf("unsupported AAF format %#x", format)
	}
}

// depth returns the number of valid bits in each sample of the buffer
// format.
func (f BufferFormat) depth() uint {
	if f.BitDepth == 0 {
		return uint(8 * f.SFormat.Size())
	}
	return f.BitDepth
}

// FrameSize returns the size in bytes of one frame, i.e. one sample from
// each channel.
func (f BufferFormat) FrameSize() int {
	return f.SFormat.Size() * int(f.Channels)
}

// DataSize takes audio attributes describing PCM audio data and returns the size of that data.
func DataSize(rate, channels, bitDepth uint, period float64) int {
	s := int(float64(channels) * float64(rate) * float64(bitDepth/8) * period)
	return s
}

// SwapEndian reverses the byte order of each sample of format sf in data,
// converting between little endian capture formats and the big endian
// formats used by AAF.
func SwapEndian(data []byte, sf SampleFormat) error {
	n := sf.Size()
	if n == 0 {
		return errors.Errorf("unknown sample format (%v)", sf)
	}
	if len(data)%n != 0 {
		return errors.Errorf("data length %d is not a multiple of sample size %d", len(data), n)
	}
	for i := 0; i < len(data); i += n {
		s := data[i : i+n]
		for j, k := 0, n-1; j < k; j, k = j+1, k-1 {
			s[j], s[k] = s[k], s[j]
		}
	}
	return nil
}

// FromInts returns samples, each of the given bit depth, laid out
// consecutively in sample format sf.
func FromInts(samples []int, depth uint, sf SampleFormat) ([]byte, error) {
	size := sf.Size()
	if size == 0 {
		return nil, errors.Errorf("unhandled sample format: %v", sf)
	}
	if depth == 0 || depth > uint(8*size) {
		return nil, errors.Errorf("bit depth %d does not fit %v", depth, sf)
	}
	shift := uint(8*size) - depth
	b := make([]byte, len(samples)*size)
	for i, s := range samples {
		v := uint32(s) << shift
		for j := 0; j < size; j++ {
			b[i*size+j] = byte(v >> (8 * uint(size-1-j)))
		}
	}
	return b, nil
}

// ToInts returns the samples held in data in sample format sf, scaled to
// the given bit depth.
func ToInts(data []byte, depth uint, sf SampleFormat) ([]int, error) {
	size := sf.Size()
	if size == 0 {
		return nil, errors.Errorf("unhandled sample format: %v", sf)
	}
	if depth == 0 || depth > uint(8*size) {
		return nil, errors.Errorf("bit depth %d does not fit %v", depth, sf)
	}
	if len(data)%size != 0 {
		return nil, errors.Errorf("%d bytes is not a whole number of %d byte samples", len(data), size)
	}
	samples := make([]int, len(data)/size)
	for i := range samples {
		var v uint32
		for j := 0; j < size; j++ {
			v = v<<8 | uint32(data[i*size+j])
		}
		// Sign extend from the container to 32 bits, then drop the padding.
		v <<= uint(32 - 8*size)
		samples[i] = int(int32(v) >> (32 - depth))
	}
	return samples, nil
}

// FromIntBuffer converts the go-audio buffer b to a Buffer of sample format
// sf. The samples of b are of b.SourceBitDepth bits.
func FromIntBuffer(b *audio.IntBuffer, sf SampleFormat) (Buffer, error) {
	if b == nil || b.Format == nil {
		return Buffer{}, errors.New("buffer has no format")
	}
	data, err := FromInts(b.Data, uint(b.SourceBitDepth), sf)
	if err != nil {
		return Buffer{}, err
	}
	return Buffer{
		Format: BufferFormat{
			SFormat:  sf,
			Rate:     uint(b.Format.SampleRate),
			Channels: uint(b.Format.NumChannels),
			BitDepth: uint(b.SourceBitDepth),
		},
		Data: data,
	}, nil
}

// IntBuffer converts c to a go-audio buffer.
func IntBuffer(c Buffer) (*audio.IntBuffer, error) {
	depth := c.Format.depth()
	samples, err := ToInts(c.Data, depth, c.Format.SFormat)
	if err != nil {
		return nil, err
	}
	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: int(c.Format.Channels), SampleRate: int(c.Format.Rate)},
		Data:           samples,
		SourceBitDepth: int(depth),
	}, nil
}

// Resample takes Buffer c and resamples the pcm audio data to 'rate' Hz and returns a Buffer with the resampled data.
// Notes:
//   - Currently only downsampling is implemented and c's rate must be divisible by 'rate' or an error will occur.
//   - If the number of frames in c.Data is not divisible by the decimation factor (ratioFrom), the remaining frames will
//     not be included in the result. Eg. input of 480002 frames downsampling 6:1 will result in 80000 frames.
func Resample(c Buffer, rate uint) (Buffer, error) {
	if c.Format.Rate == rate {
		return c, nil
	}
	if c.Format.Rate == 0 {
		return Buffer{}, errors.Errorf("unable to convert from: %v Hz", c.Format.Rate)
	}
	if rate == 0 {
		return Buffer{}, errors.Errorf("unable to convert to: %v Hz", rate)
	}
	if c.Format.Channels == 0 {
		return Buffer{}, errors.New("buffer has no channels")
	}

	depth := c.Format.depth()
	samples, err := ToInts(c.Data, depth, c.Format.SFormat)
	if err != nil {
		return Buffer{}, errors.Wrap(err, "could not get samples")
	}

	// Calculate sample rate ratio ratioFrom:ratioTo.
	rateGcd := gcd(rate, c.Format.Rate)
	ratioFrom := int(c.Format.Rate / rateGcd)
	ratioTo := int(rate / rateGcd)

	// ratioTo = 1 is the only number that will result in an even sampling.
	if ratioTo != 1 {
		return Buffer{}, errors.Errorf("unhandled from:to rate ratio %v:%v: 'to' must be 1", ratioFrom, ratioTo)
	}

	// For each new frame, average each channel over the respective 'ratioFrom' frames.
	channels := int(c.Format.Channels)
	frames := len(samples) / channels / ratioFrom
	resampled := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			var sum int
			for j := 0; j < ratioFrom; j++ {
				sum += samples[(i*ratioFrom+j)*channels+ch]
			}
			resampled[i*channels+ch] = sum / ratioFrom
		}
	}

	data, err := FromInts(resampled, depth, c.Format.SFormat)
	if err != nil {
		return Buffer{}, errors.Wrap(err, "could not put samples")
	}
	f := c.Format
	f.Rate = rate
	return Buffer{Format: f, Data: data}, nil
}

// StereoToMono returns raw mono audio data generated from only the left channel from
// the given stereo Buffer
func StereoToMono(c Buffer) (Buffer, error) {
	if c.Format.Channels == 1 {
		return c, nil
	}
	if c.Format.Channels != 2 {
		return Buffer{}, errors.Errorf("audio is not stereo or mono, it has %v channels", c.Format.Channels)
	}

	size := c.Format.SFormat.Size()
	if size == 0 {
		return Buffer{}, errors.Errorf("unhandled sample format %v", c.Format.SFormat)
	}

	// Keep the first sample of each frame, the left channel.
	frames := len(c.Data) / (2 * size)
	mono := make([]byte, 0, frames*size)
	for i := 0; i < frames; i++ {
		mono = append(mono, c.Data[2*i*size:(2*i+1)*size]...)
	}

	f := c.Format
	f.Channels = 1
	return Buffer{Format: f, Data: mono}, nil
}

// gcd is used for calculating the greatest common divisor of two positive integers, a and b.
// assumes given a and b are positive.
func gcd(a, b uint) uint {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// String returns the string representation of a SampleFormat.
func (f SampleFormat) String() string {
	switch f {
	case S16_BE:
		return "S16_BE"
	case S24_BE:
		return "S24_3BE"
	case S32_BE:
		return "S32_BE"
	default:
		return "Unknown"
	}
}

// SFFromString takes a string representing a sample format and returns the corresponding SampleFormat.
func SFFromString(s string) (SampleFormat, error) {
	switch s {
	case "S16_BE":
		return S16_BE, nil
	case "S24_3BE":
		return S24_BE, nil
	case "S32_BE":
		return S32_BE, nil
	default:
		return Unknown, errors.Errorf("unknown sample format (%s)", s)
	}
}
