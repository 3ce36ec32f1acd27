package tts

import (
	"bytes"
	"fmt"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// JoinMP3 concatenates per-segment MP3 payloads into one playable stream.
// MP3 frames are self-contained, so plain concatenation works once ID3v2
// headers on the follow-up segments are stripped.
func JoinMP3(segments [][]byte) []byte {
	size := 0
	for _, seg := range segments {
		size += len(seg)
	}
	out := make([]byte, 0, size)
	for i, seg := range segments {
		if i > 0 {
			seg = stripID3v2(seg)
		}
		out = append(out, seg...)
	}
	return out
}

// stripID3v2 drops a leading ID3v2 tag if present. The tag size is a
// 28-bit syncsafe integer in bytes 6..9.
func stripID3v2(b []byte) []byte {
	if len(b) < 10 || b[0] != 'I' || b[1] != 'D' || b[2] != '3' {
		return b
	}
	size := int(b[6]&0x7f)<<21 | int(b[7]&0x7f)<<14 | int(b[8]&0x7f)<<7 | int(b[9]&0x7f)
	if 10+size > len(b) {
		return b
	}
	return b[10+size:]
}

// DurationMS decodes an MP3 stream and returns its play time in
// milliseconds. The decoder always yields 16-bit two-channel PCM, so each
// sample frame is four bytes.
func DurationMS(data []byte) (int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode mp3 stream: %w", err)
	}
	length := dec.Length()
	rate := dec.SampleRate()
	if length <= 0 || rate <= 0 {
		return 0, fmt.Errorf("mp3 stream length unavailable")
	}
	return int(length / 4 * 1000 / int64(rate)), nil
}
