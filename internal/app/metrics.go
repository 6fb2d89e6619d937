package app

import (
	"context"
	"time"

	"github.com/MrWong99/charlie/internal/dialogue"
	"github.com/MrWong99/charlie/internal/observe"
)

// ProviderLatency returns a [dialogue.LatencyObserver] that records every
// pipeline call on m under the provider kind of its stage.
func ProviderLatency(m *observe.Metrics) dialogue.LatencyObserver {
	return func(stage string, d time.Duration, err error) {
		kind := stage
		switch stage {
		case dialogue.StageTranscribe:
			kind = "stt"
		case dialogue.StageRespond:
			kind = "response"
		}
		m.RecordProviderCall(context.Background(), kind, d, err)
	}
}
