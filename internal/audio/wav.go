package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDecode marks corrupt or unsupported input files. A failed decode is
// fatal for that load attempt only; the previous session stays untouched.
var ErrDecode = errors.New("audio decode failed")

// WAVHeader represents the canonical 44-byte WAV file header.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// DecodeWAV decodes 16-bit PCM WAV data into a channel-separated Session.
// Interleaved multi-channel files are split into per-channel buffers and
// samples are scaled into [-1, 1).
func DecodeWAV(data []byte) (*Session, error) {
	if len(data) < 44 {
		return nil, fmt.Errorf("%w: need at least 44 bytes, got %d", ErrDecode, len(data))
	}

	buf := bytes.NewReader(data)
	var header WAVHeader

	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrDecode, err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return nil, fmt.Errorf("%w: missing RIFF header", ErrDecode)
	}

	if string(header.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing WAVE format", ErrDecode)
	}

	if string(header.Subchunk1ID[:]) != "fmt " {
		return nil, fmt.Errorf("%w: missing fmt chunk", ErrDecode)
	}

	if string(header.Subchunk2ID[:]) != "data" {
		return nil, fmt.Errorf("%w: missing data chunk", ErrDecode)
	}

	if header.AudioFormat != 1 {
		return nil, fmt.Errorf("%w: unsupported audio format %d (only PCM)", ErrDecode, header.AudioFormat)
	}

	if header.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d (only 16-bit)", ErrDecode, header.BitsPerSample)
	}

	channels := int(header.NumChannels)
	if channels < 1 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrDecode, channels)
	}

	dataSize := int(header.Subchunk2Size)
	if dataSize <= 0 || dataSize%(2*channels) != 0 || 44+dataSize > len(data) {
		return nil, fmt.Errorf("%w: data chunk size %d inconsistent with %d channels and %d file bytes",
			ErrDecode, dataSize, channels, len(data))
	}

	frames := dataSize / (2 * channels)
	channelData := make([][]float32, channels)
	for ch := range channelData {
		channelData[ch] = make([]float32, frames)
	}

	pcm := data[44 : 44+dataSize]
	for frame := 0; frame < frames; frame++ {
		base := frame * channels * 2
		for ch := 0; ch < channels; ch++ {
			raw := int16(binary.LittleEndian.Uint16(pcm[base+ch*2 : base+ch*2+2]))
			channelData[ch][frame] = float32(raw) / 32768.0
		}
	}

	session, err := NewSession(int(header.SampleRate), channelData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return session, nil
}

// EncodeWAV encodes channel-separated float32 samples into 16-bit PCM WAV.
// Used by the file output sink; samples outside [-1, 1) are clipped.
func EncodeWAV(channelData [][]float32, sampleRate int) ([]byte, error) {
	if len(channelData) == 0 || len(channelData[0]) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	channels := len(channelData)
	frames := len(channelData[0])
	for ch, data := range channelData {
		if len(data) != frames {
			return nil, fmt.Errorf("channel %d has %d samples, expected %d", ch, len(data), frames)
		}
	}

	numChannels := uint16(channels)
	bitsPerSample := uint16(16)
	dataSize := uint32(frames * channels * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+int(dataSize)))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	frame := make([]byte, channels*2)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint16(frame[ch*2:], uint16(floatToPCM16(channelData[ch][i])))
		}
		buf.Write(frame)
	}

	return buf.Bytes(), nil
}

// floatToPCM16 converts a float sample in [-1, 1) to int16, clipping overflow.
func floatToPCM16(v float32) int16 {
	scaled := float64(v) * 32768.0
	switch {
	case scaled > math.MaxInt16:
		return math.MaxInt16
	case scaled < math.MinInt16:
		return math.MinInt16
	default:
		return int16(scaled)
	}
}
