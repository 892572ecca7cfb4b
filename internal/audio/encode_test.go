package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataURLRoundTrip(t *testing.T) {
	payload := []byte{0x1a, 0x45, 0xdf, 0xa3, 0x00, 0xff}
	encoded, err := DataURLEncoder{}.Encode(MimeWebM, payload)
	require.NoError(t, err)
	assert.Contains(t, encoded, "data:audio/webm;base64,")

	mime, data, err := DecodeDataURL(encoded)
	require.NoError(t, err)
	assert.Equal(t, MimeWebM, mime)
	assert.Equal(t, payload, data)
}

func TestDataURLDefaultsMime(t *testing.T) {
	encoded, err := DataURLEncoder{}.Encode("", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "data:audio/webm;base64,eA==", encoded)
}

func TestDecodeDataURLRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "audio/webm;base64,AA==", "data:audio/webm,AA==", "data:audio/webm;base64", "data:audio/webm;base64,%%%"} {
		_, _, err := DecodeDataURL(in)
		assert.ErrorIs(t, err, ErrInvalidDataURL, in)
	}
}

func TestPCM16ToWAV(t *testing.T) {
	pcm := make([]byte, 0, 200)
	for i := 0; i < 100; i++ {
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(int16(i*100-5000)))
	}
	pcm = append(pcm, 0x7f) // odd trailing byte is dropped

	out, err := PCM16ToWAV(pcm, 16000, 1)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("RIFF")))

	dec := wav.NewDecoder(bytes.NewReader(out))
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 16000, buf.Format.SampleRate)
	require.Len(t, buf.Data, 100)
	assert.Equal(t, -5000, buf.Data[0])
	assert.Equal(t, 4900, buf.Data[99])
}

func TestMimeEncoderSelectsContainer(t *testing.T) {
	enc := MimeEncoder{PCM: WAVEncoder{SampleRate: 8000, Channels: 1}}

	webm, err := enc.Encode(MimeWebM, []byte{1, 2})
	require.NoError(t, err)
	assert.Contains(t, webm, "data:audio/webm;base64,")

	pcm, err := enc.Encode("audio/pcm;rate=8000", []byte{1, 0, 2, 0})
	require.NoError(t, err)
	mime, data, err := DecodeDataURL(pcm)
	require.NoError(t, err)
	assert.Equal(t, MimeWAV, mime)
	assert.True(t, bytes.HasPrefix(data, []byte("RIFF")))
}
