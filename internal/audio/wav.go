package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

const (
	// ArtifactFilename is the attachment name the scoring service expects
	ArtifactFilename = "recording.wav"
	// ArtifactContentType is the MIME type of encoded artifacts
	ArtifactContentType = "audio/wav"

	bitDepth       = 16
	pcmAudioFormat = 1
)

// PCMToSamples converts 16-bit little-endian PCM bytes to integer samples
func PCMToSamples(pcmData []byte) ([]int, error) {
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	samples := make([]int, len(pcmData)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcmData[i*2:])))
	}
	return samples, nil
}

// PCMDuration returns the play time of 16-bit PCM data
func PCMDuration(pcmLen, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := pcmLen / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// EncodeWAV writes 16-bit PCM as a WAV stream
func EncodeWAV(out io.WriteSeeker, pcmData []byte, sampleRate, channels int) error {
	samples, err := PCMToSamples(pcmData)
	if err != nil {
		return err
	}

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}

	enc := wav.NewEncoder(out, sampleRate, bitDepth, channels, pcmAudioFormat)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WAVInfo describes a decoded WAV artifact
type WAVInfo struct {
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// InspectWAV validates a WAV payload and reads its format
func InspectWAV(data []byte) (WAVInfo, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return WAVInfo{}, fmt.Errorf("not a valid WAV file")
	}

	duration, err := dec.Duration()
	if err != nil {
		return WAVInfo{}, fmt.Errorf("read wav duration: %w", err)
	}

	return WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		Duration:   duration,
	}, nil
}

// writePreview creates the preview file for a recording and returns its
// path together with the encoded bytes
func writePreview(dir string, encode func(f *os.File) error) (string, []byte, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create preview dir: %w", err)
	}

	path := filepath.Join(dir, "attempt-"+uuid.New().String()+".wav")
	f, err := os.Create(path)
	if err != nil {
		return "", nil, fmt.Errorf("create preview file: %w", err)
	}

	if err := encode(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("close preview file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("read preview file: %w", err)
	}
	return path, data, nil
}
