/*
DESCRIPTION
  device.go provides Source, an interface that describes an audio capture
  device that can be started and stopped and from which PCM audio may be
  read for packetisation.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package device provides an interface and implementations for audio input
// devices that can be started and stopped and from which PCM audio can be
// obtained.
package device

import (
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/ausocean/avtp/codec/pcm"
)

// Source describes an audio device from which big endian PCM audio can be
// read. Source is an io.Reader.
type Source interface {
	io.Reader

	// Name returns the name of the Source.
	Name() string

	// Format returns the format of the audio read from the Source. It is
	// only meaningful once the Source has been set up.
	Format() pcm.BufferFormat

	// Start will start the Source capturing audio; after which the Read
	// method may be called to obtain the data.
	Start() error

	// Stop will stop the Source from capturing audio. Reads return io.EOF
	// once buffered audio is exhausted.
	Stop() error

	// IsRunning is used to determine if the device is running.
	IsRunning() bool
}

// MultiError implements the built in error interface. MultiError is used to
// collect errors during validation of configuration parameters for Sources.
type MultiError []error

func (me MultiError) Error() string {
	if len(me) == 0 {
		panic("device: invalid use of MultiError")
	}
	return fmt.Sprintf("%v", []error(me))
}

// ManualInput is an implementation of Source whose audio is written to it
// through software (ManualInput also implements io.Writer, unlike other
// implementations). The ManualInput employs an io.Pipe, as such, every write
// must be accompanied by a full read (or reads) of the bytes, otherwise
// blocking will occur (and vice versa).
type ManualInput struct {
	format    pcm.BufferFormat
	mu        sync.Mutex
	isRunning bool
	reader    *io.PipeReader
	writer    *io.PipeWriter
}

// NewManualInput provides a new ManualInput carrying audio of format f.
func NewManualInput(f pcm.BufferFormat) *ManualInput {
	return &ManualInput{format: f}
}

// Read reads from the manual input and puts the bytes into p.
func (m *ManualInput) Read(p []byte) (int, error) {
	if m.reader == nil {
		return 0, errors.New("manual input has not been started, can't read")
	}
	return m.reader.Read(p)
}

// Name returns the name of ManualInput i.e. "ManualInput".
func (m *ManualInput) Name() string { return "ManualInput" }

// Format returns the audio format given to NewManualInput.
func (m *ManualInput) Format() pcm.BufferFormat { return m.format }

// Start opens the ManualInput's pipe and sets its isRunning flag to true.
// Starting a running ManualInput has no effect.
func (m *ManualInput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return nil
	}
	m.reader, m.writer = io.Pipe()
	m.isRunning = true
	return nil
}

// Stop closes the writing side of the pipe, so that reads return io.EOF,
// and sets the isRunning flag to false.
func (m *ManualInput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writer != nil {
		m.writer.Close()
	}
	m.isRunning = false
	return nil
}

// IsRunning returns the value of the isRunning flag to indicate if Start has
// been called (and Stop has not been called after).
func (m *ManualInput) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}

// Write writes p to the ManualInput's writer side of its pipe.
func (m *ManualInput) Write(p []byte) (int, error) {
	if !m.IsRunning() {
		return 0, errors.New("manual input has not been started, can't write")
	}
	return m.writer.Write(p)
}
