/*
DESCRIPTION
  file.go provides an implementation of the Source interface for WAV and
  FLAC audio files.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package file provides an implementation of Source for audio files.
package file

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ausocean/utils/logging"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/codec/pcm"
)

// AudioFile is an implementation of the Source interface for a WAV or FLAC
// file. Its audio is decoded on Start and read as big endian PCM.
type AudioFile struct {
	path      string
	loop      bool
	isRunning bool
	log       logging.Logger
	format    pcm.BufferFormat
	r         *bytes.Reader
	mu        sync.Mutex
}

// New returns a new AudioFile reading the file at path, looping back to
// the start of the audio at the end if loop is true.
func New(l logging.Logger, path string, loop bool) *AudioFile {
	return &AudioFile{log: l, path: path, loop: loop}
}

// Name returns the name of the device.
func (m *AudioFile) Name() string {
	return "File"
}

// Format returns the format of the audio read from m. It is only valid
// once m has been started.
func (m *AudioFile) Format() pcm.BufferFormat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}

// Start decodes the file, after which its audio may be read.
func (m *AudioFile) Start() error {
	ib, err := Decode(m.path)
	if err != nil {
		return errors.Wrap(err, "could not decode audio file")
	}
	sf, err := pcm.SFFromBitDepth(uint(ib.SourceBitDepth))
	if err != nil {
		return err
	}
	b, err := pcm.FromIntBuffer(ib, sf)
	if err != nil {
		return errors.Wrap(err, "could not convert audio")
	}
	if len(b.Data) == 0 {
		return errors.Errorf("no audio in %s", m.path)
	}
	m.log.Debug("decoded audio file", "path", m.path, "format", b.Format, "bytes", len(b.Data))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.format = b.Format
	m.r = bytes.NewReader(b.Data)
	m.isRunning = true
	return nil
}

// Stop releases the decoded audio such that any further reads will fail.
func (m *AudioFile) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.r = nil
	m.isRunning = false
	return nil
}

// Read implements io.Reader. If Start has not been called, or Start has been
// called and Stop has since been called, an error is returned.
func (m *AudioFile) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.r == nil {
		return 0, errors.New("audio file is closed, AudioFile not started")
	}

	n, err := m.r.Read(p)
	if (n < len(p) || err == io.EOF) && m.loop {
		m.log.Info("looping input file")
		// Seek to the start and fill the rest of p.
		m.r.Seek(0, io.SeekStart)
		var k int
		k, err = m.r.Read(p[n:])
		n += k
	}
	return n, err
}

// IsRunning is used to determine if the AudioFile device is running.
func (m *AudioFile) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.r != nil && m.isRunning
}

// Decode returns the audio held in the WAV or FLAC file at path. FLAC files
// are recognised by their .flac extension.
func Decode(path string) (*audio.IntBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.ToLower(filepath.Ext(path)) == ".flac" {
		return decodeFLAC(f)
	}

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}
	return d.FullPCMBuffer()
}

// decodeFLAC returns the audio of the FLAC stream read from r.
func decodeFLAC(r io.Reader) (*audio.IntBuffer, error) {
	stream, err := flac.Parse(r)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse FLAC")
	}
	ib := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: int(stream.Info.NChannels),
			SampleRate:  int(stream.Info.SampleRate),
		},
		SourceBitDepth: int(stream.Info.BitsPerSample),
	}
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			return ib, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "could not parse FLAC frame")
		}
		for i := 0; i < frame.Subframes[0].NSamples; i++ {
			for _, subframe := range frame.Subframes {
				ib.Data = append(ib.Data, int(subframe.Samples[i]))
			}
		}
	}
}
