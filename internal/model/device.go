package model

import (
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/rs/zerolog/log"
)

// detectDevice probes the host for an NVIDIA GPU and returns "cuda" when
// one is present, "cpu" otherwise. The probe runs once during Load.
func detectDevice() string {
	info, err := ghw.GPU()
	if err != nil {
		log.Warn().Err(err).Msg("GPU probe failed, assuming cpu")
		return "cpu"
	}

	for _, card := range info.GraphicsCards {
		if isNVIDIA(card.String()) {
			return "cuda"
		}
	}
	return "cpu"
}

func isNVIDIA(desc string) bool {
	return strings.Contains(strings.ToLower(desc), "nvidia")
}
