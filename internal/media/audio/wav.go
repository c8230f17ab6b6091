package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-audio/wav"
)

// ErrUnsupportedFormat reports audio that could not be parsed as PCM WAV.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// ksDataFormatTail is bytes 2..16 of every KSDATAFORMAT_SUBTYPE GUID; the
// first two bytes carry the plain format code.
var ksDataFormatTail = []byte{0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}

// Info summarises a decoded WAV header.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int64
}

// DurationSeconds returns frames / sample rate rounded to three decimals.
func (i Info) DurationSeconds() float64 {
	if i.SampleRate <= 0 {
		return 0
	}
	return RoundMillis(float64(i.Frames) / float64(i.SampleRate))
}

// RoundMillis rounds seconds to three decimal places.
func RoundMillis(seconds float64) float64 {
	return math.Round(seconds*1000) / 1000
}

// ProbeWAV parses data as a WAV container.
func ProbeWAV(data []byte) (Info, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("%w: not a RIFF/WAVE container", ErrUnsupportedFormat)
	}
	switch dec.WavAudioFormat {
	case wavFormatPCM:
	case wavFormatExtensible:
		sub, ok := extensibleSubFormat(data)
		if !ok {
			return Info{}, fmt.Errorf("%w: truncated extensible fmt chunk", ErrUnsupportedFormat)
		}
		if sub != wavFormatPCM {
			return Info{}, fmt.Errorf("%w: extensible wav sub-format %d", ErrUnsupportedFormat, sub)
		}
	default:
		return Info{}, fmt.Errorf("%w: wav encoding %d", ErrUnsupportedFormat, dec.WavAudioFormat)
	}
	if dec.SampleRate == 0 || dec.NumChans == 0 || dec.BitDepth == 0 {
		return Info{}, fmt.Errorf("%w: incomplete fmt chunk", ErrUnsupportedFormat)
	}
	if err := dec.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("%w: locate data chunk: %v", ErrUnsupportedFormat, err)
	}

	frameSize := int64(dec.NumChans) * int64((dec.BitDepth+7)/8)
	return Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Frames:     int64(dec.PCMSize) / frameSize,
	}, nil
}

// extensibleSubFormat reads the format code from the SubFormat GUID of the
// first fmt chunk. The decoder skips the extension bytes, so the chunk is
// walked directly.
func extensibleSubFormat(data []byte) (uint16, bool) {
	const (
		riffHeader  = 12
		subFormatAt = 24
	)
	for off := riffHeader; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := data[off+8:]
		if size > len(body) {
			return 0, false
		}
		body = body[:size]
		if id == "fmt " {
			if size < subFormatAt+16 || !bytes.Equal(body[subFormatAt+2:subFormatAt+16], ksDataFormatTail) {
				return 0, false
			}
			return binary.LittleEndian.Uint16(body[subFormatAt:]), true
		}
		off += 8 + size + size%2
	}
	return 0, false
}
