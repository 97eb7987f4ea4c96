package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the size of a canonical PCM WAV header.
const WAVHeaderSize = 44

// ErrNotWAV is returned when data does not start with a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a WAV file")

// WAV format codes.
const (
	FormatPCM   = 1
	FormatALAW  = 6
	FormatMULAW = 7
)

// WAVFormat is the format chunk of a WAV header.
type WAVFormat struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// Encoding returns the Dialogflow audio encoding name matching the format,
// or "" when there is none.
func (f WAVFormat) Encoding() string {
	switch {
	case f.AudioFormat == FormatPCM && f.BitsPerSample == 16:
		return "LINEAR16"
	case f.AudioFormat == FormatMULAW:
		return "MULAW"
	default:
		return ""
	}
}

// ParseWAVHeader decodes a canonical 44-byte WAV header.
func ParseWAVHeader(header []byte) (*WAVFormat, error) {
	if len(header) < WAVHeaderSize {
		return nil, fmt.Errorf("%w: header too short (%d bytes)", ErrNotWAV, len(header))
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}
	if string(header[12:16]) != "fmt " {
		return nil, fmt.Errorf("%w: missing fmt chunk", ErrNotWAV)
	}
	return &WAVFormat{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		NumChannels:   binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}, nil
}

// PeekWAV inspects the header at the front of r without consuming it.
func PeekWAV(r *bufio.Reader) (*WAVFormat, error) {
	header, err := r.Peek(WAVHeaderSize)
	if err != nil && len(header) < WAVHeaderSize {
		return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	return ParseWAVHeader(header)
}
