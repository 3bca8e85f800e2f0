package devices

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
	"github.com/yeti47/cryospy/screencap/common"
)

// pcmWriter receives little-endian s16 samples from a pulse record stream
type pcmWriter struct {
	samples chan []int16
	dropped atomic.Int64
}

var _ pulse.Writer = (*pcmWriter)(nil)

func (w *pcmWriter) Format() byte {
	return proto.FormatInt16LE
}

func (w *pcmWriter) Write(data []byte) (int, error) {
	block := make([]int16, len(data)/2)
	for i := range block {
		block[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	select {
	case w.samples <- block:
	default:
		// consumer is behind, drop the block
		w.dropped.Add(1)
	}
	return len(data), nil
}

// OpenMicrophoneTrack records from the default PulseAudio source
func OpenMicrophoneTrack(constraints AudioConstraints, logger common.Logger) (*Track, error) {
	logger = common.LoggerOrNop(logger)

	client, err := pulse.NewClient()
	if err != nil {
		return nil, ClassifyError("microphone", fmt.Errorf("unable to open a client to Pulse: %w", err))
	}

	sampleRate := constraints.SampleRate
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	channels := constraints.Channels
	channelOption := pulse.RecordMono
	if channels == 2 {
		channelOption = pulse.RecordStereo
	} else {
		channels = 1
	}

	writer := &pcmWriter{samples: make(chan []int16, 32)}
	stream, err := client.NewRecord(writer, channelOption, pulse.RecordSampleRate(sampleRate))
	if err != nil {
		client.Close()
		return nil, ClassifyError("microphone", fmt.Errorf("unable to initialize a recording: %w", err))
	}

	settings := TrackSettings{
		SampleRate: sampleRate,
		Channels:   channels,
		DeviceID:   "pulse:default",
	}

	producer := func(ctx context.Context, emit func(Sample) bool) error {
		stream.Start()

		health := time.NewTicker(time.Second)
		defer health.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case block := <-writer.samples:
				if !emit(Sample{PCM: block}) {
					return nil
				}
			case <-health.C:
				if err := stream.Error(); err != nil {
					return NewDeviceUnavailableError("microphone", err)
				}
			}
		}
	}

	release := func() error {
		stream.Stop()
		stream.Close()
		client.Close()
		if dropped := writer.dropped.Load(); dropped > 0 {
			logger.Warn("Microphone blocks dropped", "count", dropped)
		}
		return nil
	}

	logger.Info("Opened microphone track", "sample_rate", sampleRate, "channels", channels)

	return NewTrack(KindAudio, "Microphone", settings, producer, release), nil
}
