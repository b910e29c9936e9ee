package playback

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hraban/opus"
	wav "github.com/youpy/go-wav"
)

// playbackRate is the output device rate. Decoded sources at other rates are
// resampled so the output stream can be opened once and reused.
const playbackRate = 48000

// ErrUnsupportedAudio indicates the payload is neither a WAV nor an
// ogg/opus container.
var ErrUnsupportedAudio = errors.New("unsupported audio container")

// DecodePCM sniffs the container from its magic bytes and decodes the whole
// payload into mono 16-bit PCM at the playback rate.
func DecodePCM(data []byte) ([]int16, error) {
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return decodeWAV(data)
	case bytes.HasPrefix(data, []byte("OggS")):
		return decodeOpus(data)
	default:
		return nil, ErrUnsupportedAudio
	}
}

func decodeWAV(data []byte) ([]int16, error) {
	reader := wav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("read wav format: %w", err)
	}
	var pcm []int16
	for {
		samples, err := reader.ReadSamples(2048)
		for _, s := range samples {
			pcm = append(pcm, int16(s.Values[0]))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read wav samples: %w", err)
		}
	}
	return resample(pcm, int(format.SampleRate), playbackRate), nil
}

func decodeOpus(data []byte) ([]int16, error) {
	stream, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open opus stream: %w", err)
	}
	defer stream.Close()

	var pcm []int16
	buf := make([]int16, 16384)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			pcm = append(pcm, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode opus: %w", err)
		}
	}
	// Opus always decodes at 48kHz.
	return pcm, nil
}

// resample converts PCM between rates with linear interpolation. Good enough
// for voice playback; returns the input unchanged when rates match.
func resample(pcm []int16, from, to int) []int16 {
	if from == to || from <= 0 || len(pcm) == 0 {
		return pcm
	}
	outLen := int(int64(len(pcm)) * int64(to) / int64(from))
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(pcm)-1 {
			out[i] = pcm[len(pcm)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(pcm[j])*(1-frac) + float64(pcm[j+1])*frac)
	}
	return out
}
