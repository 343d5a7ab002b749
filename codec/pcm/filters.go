/*
NAME
  filters.go

DESCRIPTION
  filters.go contains functions for filtering PCM audio.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package pcm

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"github.com/pkg/errors"
)

// AudioFilter is an interface which contains an Apply function.
// Apply is used to apply the filter to the given buffer of PCM data (b.Data)
// and returns data of the same format and length.
type AudioFilter interface {
	Apply(b Buffer) ([]byte, error)
}

// SelectiveFrequencyFilter contains all the filter specifications required for a
// lowpass, highpass, bandpass, or bandstop filter.
type SelectiveFrequencyFilter struct {
	coeffs     []float64
	cutoff     [2]float64
	sampleRate uint
	taps       int
}

// NewLowPass generates a lowpass filter with cutoff fc Hz for audio of the
// given sample rate.
func NewLowPass(fc float64, rate uint, length int) (*SelectiveFrequencyFilter, error) {
	return newLoHiFilter(fc, rate, length, [2]float64{0, fc})
}

// NewHighPass generates a highpass filter with cutoff fc Hz for audio of the
// given sample rate.
func NewHighPass(fc float64, rate uint, length int) (*SelectiveFrequencyFilter, error) {
	return newLoHiFilter(fc, rate, length, [2]float64{fc, 0})
}

// NewBandPass generates a bandpass filter passing fcLower to fcUpper Hz.
func NewBandPass(fcLower, fcUpper float64, rate uint, length int) (*SelectiveFrequencyFilter, error) {
	newFilter, lp, hp, err := newBandFilter([2]float64{fcLower, fcUpper}, rate, length)
	if err != nil {
		return nil, errors.Wrap(err, "could not create new band filter")
	}

	// Convolve the filters to create a bandpass filter.
	newFilter.coeffs, err = fastConvolve(hp.coeffs, lp.coeffs)
	if err != nil {
		return nil, errors.Wrap(err, "could not compute fast convolution")
	}
	newFilter.taps = len(newFilter.coeffs) - 1
	return newFilter, nil
}

// NewBandStop generates a bandstop filter rejecting fcLower to fcUpper Hz.
func NewBandStop(fcLower, fcUpper float64, rate uint, length int) (*SelectiveFrequencyFilter, error) {
	newFilter, lp, hp, err := newBandFilter([2]float64{fcUpper, fcLower}, rate, length)
	if err != nil {
		return nil, errors.Wrap(err, "could not create new band filter")
	}
	size := newFilter.taps + 1
	newFilter.coeffs = make([]float64, size)
	for i := range lp.coeffs {
		newFilter.coeffs[i] = lp.coeffs[i] + hp.coeffs[i]
	}
	return newFilter, nil
}

// Apply is the SelectiveFrequencyFilter implementation of the AudioFilter
// interface. Each channel of b is filtered separately and the output is
// delay compensated so that it lines up with the input.
func (filter *SelectiveFrequencyFilter) Apply(b Buffer) ([]byte, error) {
	if b.Format.Rate != filter.sampleRate {
		return nil, errors.Errorf("filter designed for %d Hz applied to %d Hz audio", filter.sampleRate, b.Format.Rate)
	}
	chans, err := bufferToFloats(b)
	if err != nil {
		return nil, errors.Wrap(err, "could not convert to floats")
	}
	for i, x := range chans {
		y, err := fastConvolve(x, filter.coeffs)
		if err != nil {
			return nil, errors.Wrap(err, "could not compute fast convolution")
		}
		delay := filter.taps / 2
		chans[i] = y[delay : delay+len(x)]
	}
	return floatsToBuffer(chans, b.Format)
}

// Amplifier contains the factor of amplification to be used in the application
// of the filter.
type Amplifier struct {
	factor float64
}

// NewAmplifier defines the factor of amplification for an amplifying filter.
func NewAmplifier(factor float64) *Amplifier {
	// Uses the absolute value of the factor to ensure compatibility.
	return &Amplifier{factor: math.Abs(factor)}
}

// Apply implemented for an amplifier takes the buffer data (b.Data), applies
// the amplification and returns a byte slice of amplified audio. Samples are
// clipped to full scale.
func (amp *Amplifier) Apply(b Buffer) ([]byte, error) {
	chans, err := bufferToFloats(b)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert to floats")
	}
	for _, x := range chans {
		for i := range x {
			x[i] *= amp.factor
		}
	}
	return floatsToBuffer(chans, b.Format)
}

// newLoHiFilter checks the validity of the input parameters and returns
// either a lowpass or a highpass filter.
func newLoHiFilter(fc float64, rate uint, length int, cutoff [2]float64) (*SelectiveFrequencyFilter, error) {
	// Ensure that all input values are valid.
	if fc <= 0 || fc >= float64(rate)/2 {
		return nil, errors.New("cutoff frequency out of bounds")
	} else if length <= 0 {
		return nil, errors.New("cannot create filter with length <= 0")
	}

	// Determine the type of filter to be generated.
	var fd float64
	var factor1 float64
	var factor2 float64
	if cutoff[0] == 0 { // For a lowpass filter, cutoff[0] = 0, cutoff[1] = fc.
		fd = cutoff[1] / float64(rate)
		factor1 = 1
		factor2 = 2 * fd
	} else if cutoff[1] == 0 { // For a highpass filter, cutoff[0] = fc, cutoff[1] = 0.
		fd = cutoff[0] / float64(rate)
		factor1 = -1
		factor2 = 1 - 2*fd
	} else {
		return nil, errors.New("tried to use newLoHiFilter to generate bandpass or bandstop filter")
	}

	var newFilter = SelectiveFrequencyFilter{cutoff: cutoff, sampleRate: rate, taps: length}

	// Create a windowed sinc filter.
	size := newFilter.taps + 1
	newFilter.coeffs = make([]float64, size)
	b := 2 * math.Pi * fd
	winData := window.FlatTop(size)
	for n := 0; n < (newFilter.taps / 2); n++ {
		c := float64(n) - float64(newFilter.taps)/2
		y := math.Sin(c*b) / (math.Pi * c)
		newFilter.coeffs[n] = factor1 * y * winData[n]
		newFilter.coeffs[size-1-n] = newFilter.coeffs[n]
	}
	newFilter.coeffs[newFilter.taps/2] = factor2 * winData[newFilter.taps/2]

	return &newFilter, nil
}

// newBandFilter ensures the validity of the input parameters, and generates appropriate lowpass and highpass filters
// required for the creation of the specific band filter.
func newBandFilter(cutoff [2]float64, rate uint, length int) (new, lp, hp *SelectiveFrequencyFilter, err error) {
	// Ensure that all input values are valid.
	if cutoff[0] <= 0 || cutoff[0] >= float64(rate)/2 {
		return nil, nil, nil, errors.New("cutoff frequencies out of bounds")
	} else if cutoff[1] <= 0 || cutoff[1] >= float64(rate)/2 {
		return nil, nil, nil, errors.New("cutoff frequencies out of bounds")
	} else if length <= 0 {
		return nil, nil, nil, errors.New("cannot create filter with length <= 0")
	}
	// For a bandpass filter, cutoff[0] = fc_l, cutoff[1] = fc_u.
	// For a bandstop filter, cutoff[0] = fc_u, cutoff[1] = fc_l.
	var newFilter = SelectiveFrequencyFilter{cutoff: cutoff, sampleRate: rate, taps: length}

	hp, err = NewHighPass(newFilter.cutoff[0], rate, newFilter.taps)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "could not create new highpass filter")
	}
	lp, err = NewLowPass(newFilter.cutoff[1], rate, newFilter.taps)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "could not create new lowpass filter")
	}
	return &newFilter, lp, hp, nil
}

// bufferToFloats returns the samples of each channel of b scaled to [-1, 1).
func bufferToFloats(b Buffer) ([][]float64, error) {
	if len(b.Data) == 0 {
		return nil, errors.New("no audio to convert to floats")
	}
	if b.Format.Channels == 0 {
		return nil, errors.New("buffer has no channels")
	}
	depth := b.Format.depth()
	samples, err := ToInts(b.Data, depth, b.Format.SFormat)
	if err != nil {
		return nil, err
	}
	channels := int(b.Format.Channels)
	if len(samples)%channels != 0 {
		return nil, errors.New("not a whole number of frames")
	}

	scale := float64(uint64(1) << (depth - 1))
	chans := make([][]float64, channels)
	for ch := range chans {
		chans[ch] = make([]float64, len(samples)/channels)
	}
	for i, s := range samples {
		chans[i%channels][i/channels] = float64(s) / scale
	}
	return chans, nil
}

// floatsToBuffer interleaves the channels of chans and returns them as PCM
// data of format f, clipping to full scale.
func floatsToBuffer(chans [][]float64, f BufferFormat) ([]byte, error) {
	depth := f.depth()
	hi := float64(uint64(1)<<(depth-1)) - 1
	lo := -hi - 1
	channels := len(chans)
	samples := make([]int, channels*len(chans[0]))
	for ch, x := range chans {
		for i, v := range x {
			v = math.Round(v * (hi + 1))
			if v > hi {
				v = hi
			} else if v < lo {
				v = lo
			}
			samples[i*channels+ch] = int(v)
		}
	}
	return FromInts(samples, depth, f.SFormat)
}

// fastConvolve takes in a signal and an FIR filter and computes the convolution (runs in O(nlog(n)) time).
func fastConvolve(x, h []float64) ([]float64, error) {
	// Ensure valid data to convolve.
	if len(x) == 0 || len(h) == 0 {
		return nil, errors.New("convolution requires slice of length > 0")
	}

	// Calculate the length of the linear convolution.
	convLen := len(x) + len(h) - 1

	// Pad signals to the next largest power of 2 larger than convLen.
	padLen := int(math.Pow(2, math.Ceil(math.Log2(float64(convLen)))))
	xPad := make([]float64, padLen)
	copy(xPad, x)
	hPad := make([]float64, padLen)
	copy(hPad, h)

	// Compute DFFTs.
	xFFT, hFFT := fft.FFTReal(xPad), fft.FFTReal(hPad)

	// Compute the multiplication of the two signals in the freq domain.
	yFFT := make([]complex128, padLen)
	for i := range xFFT {
		yFFT[i] = xFFT[i] * hFFT[i]
	}

	// Compute the IDFFT.
	iy := fft.IFFT(yFFT)

	// Convert to []float64.
	y := make([]float64, padLen)
	for i := range iy {
		y[i] = real(iy[i])
	}

	// Trim to length of linear convolution and return.
	return y[0:convLen], nil
}
