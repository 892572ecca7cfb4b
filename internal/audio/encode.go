// Package audio turns captured audio bytes into the text payloads stored with voice messages.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	MimeWebM = "audio/webm"
	MimeWAV  = "audio/wav"
	// MimePCM marks raw little-endian 16-bit samples that need a WAV container.
	MimePCM = "audio/pcm"

	// DefaultPCMRate is the rate browsers capture at and Gemini TTS returns.
	DefaultPCMRate = 24000
)

var ErrInvalidDataURL = errors.New("invalid data url")

// DataURLEncoder produces the "data:<mime>;base64,<payload>" form a browser FileReader emits.
type DataURLEncoder struct{}

func (DataURLEncoder) Encode(mime string, data []byte) (string, error) {
	if mime == "" {
		mime = MimeWebM
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// WAVEncoder wraps raw PCM16 in a WAV container before data-url encoding.
type WAVEncoder struct {
	SampleRate int
	Channels   int
}

func (e WAVEncoder) Encode(_ string, pcm []byte) (string, error) {
	wavBytes, err := PCM16ToWAV(pcm, e.SampleRate, e.Channels)
	if err != nil {
		return "", err
	}
	return DataURLEncoder{}.Encode(MimeWAV, wavBytes)
}

// MimeEncoder picks the WAV path for raw PCM and the plain data url otherwise.
type MimeEncoder struct {
	PCM WAVEncoder
}

func (e MimeEncoder) Encode(mime string, data []byte) (string, error) {
	if strings.HasPrefix(strings.ToLower(mime), MimePCM) {
		return e.PCM.Encode(mime, data)
	}
	return DataURLEncoder{}.Encode(mime, data)
}

// PCM16ToWAV encodes little-endian signed 16-bit samples. A trailing odd byte is dropped.
func PCM16ToWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultPCMRate
	}
	if channels <= 0 {
		channels = 1
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	out := &seekBuffer{}
	enc := wav.NewEncoder(out, sampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav: %w", err)
	}
	return out.Bytes(), nil
}

// DecodeDataURL splits a base64 data url into its mime type and raw bytes.
func DecodeDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, ErrInvalidDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return mime, data, nil
}

// seekBuffer is the in-memory io.WriteSeeker the wav encoder needs to patch its header.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.buf) {
		grown := make([]byte, end)
		copy(grown, b.buf)
		b.buf = grown
	}
	copy(b.buf[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	b.pos = int(next)
	return next, nil
}

func (b *seekBuffer) Bytes() []byte {
	return b.buf
}
