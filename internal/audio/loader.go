// Package audio decodes uploaded audio files into the mono 16kHz
// float32 sample stream the whisper model expects.
//
// Decoding tries an ordered list of backends: a native Go path for WAV
// and Ogg/Vorbis containers, then an ffmpeg subprocess for everything
// else. Only when every backend fails does Load return an error.
package audio

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// SampleRate is the sample rate the model expects.
const SampleRate = 16000

type decoder struct {
	name string
	fn   func(path string) ([]float32, error)
}

// decoders are attempted in order until one succeeds.
var decoders = []decoder{
	{"native", decodeNative},
	{"ffmpeg", decodeFFmpeg},
}

// Load decodes the audio file at path into mono 16kHz float32 samples.
// Zero-length audio decodes to an empty slice, not an error.
func Load(path string) ([]float32, error) {
	var errs []error
	for _, d := range decoders {
		samples, err := d.fn(path)
		if err == nil {
			return samples, nil
		}
		log.Warn().Err(err).Str("decoder", d.name).Str("path", path).Msg("audio decode attempt failed")
		errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
	}
	return nil, fmt.Errorf("audio: decoding failed: %w", errors.Join(errs...))
}

// downmix averages interleaved multi-channel samples into mono.
func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	mono := make([]float32, len(samples)/channels)
	for i := range mono {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
