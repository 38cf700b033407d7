package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	wavPCMFormat      = 1 // uncompressed PCM format tag
	wavBytesPerSample = 2
	wavHeaderSize     = 44
)

// EncodeWAV writes samples as a mono 16-bit PCM WAV stream.
func EncodeWAV(w io.Writer, samples []int16, sampleRate, channels int) error {
	dataSize := len(samples) * wavBytesPerSample
	byteRate := sampleRate * channels * wavBytesPerSample
	blockAlign := channels * wavBytesPerSample

	var header [wavHeaderSize]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], wavPCMFormat)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}

	pcm := make([]byte, dataSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}

// WriteWAVFile encodes samples to a WAV file at path and returns the file
// size in bytes.
func WriteWAVFile(path string, samples []int16, sampleRate, channels int) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create wav file: %w", err)
	}

	if err := EncodeWAV(f, samples, sampleRate, channels); err != nil {
		_ = f.Close()
		_ = os.Remove(path) // Best effort cleanup
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close wav file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat wav file: %w", err)
	}
	return info.Size(), nil
}
