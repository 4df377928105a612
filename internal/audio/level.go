package audio

import (
	"encoding/binary"
	"math"
)

// levelScale maps RMS amplitude to the 0..1 meter range.
const levelScale = 10000

// Level returns the normalized RMS loudness of a PCM16LE frame, clamped to
// [0, 1]. A trailing odd byte is ignored.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	return math.Min(1, rms/levelScale)
}
