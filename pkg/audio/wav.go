// Package audio holds small PCM/WAV container helpers shared by the speech
// dispatcher and the session recorder.
package audio

import (
	"bytes"
	"encoding/binary"
)

// NewWavBuffer wraps 16-bit little-endian mono PCM in a canonical 44-byte
// RIFF/WAVE header.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	return newWavBuffer(pcm, sampleRate, 1)
}

// NewStereoWavBuffer interleaves two mono 16-bit PCM channels (e.g. user mic
// audio on the left, agent TTS audio on the right) into a single stereo WAV
// buffer, used by the session recorder so a session's full audio can be
// reviewed in one file. The shorter channel is zero-padded to match.
func NewStereoWavBuffer(left, right []byte, sampleRate int) []byte {
	n := len(left)
	if len(right) > n {
		n = len(right)
	}
	interleaved := make([]byte, n*2)
	for i := 0; i < n; i += 2 {
		copy(interleaved[i*2:i*2+2], sampleAt(left, i))
		copy(interleaved[i*2+2:i*2+4], sampleAt(right, i))
	}
	return newWavBuffer(interleaved, sampleRate, 2)
}

func sampleAt(pcm []byte, offset int) []byte {
	if offset+1 < len(pcm) {
		return pcm[offset : offset+2]
	}
	return []byte{0, 0}
}

func newWavBuffer(pcm []byte, sampleRate, channels int) []byte {
	buf := new(bytes.Buffer)
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
