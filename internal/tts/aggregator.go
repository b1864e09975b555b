package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
)

// ChunkObserver is notified of every chunk pulled from a stream, before it is aggregated
type ChunkObserver func(Chunk)

// Aggregate opens one stream for params and collects it into a Result.
// The stream is closed before returning. On any error the result is nil.
func Aggregate(ctx context.Context, provider Provider, params Params, observe ChunkObserver) (*Result, error) {
	stream, err := provider.Open(ctx, params.Text, params.Voice, params.Rate)
	if err != nil {
		return nil, fmt.Errorf("open synthesis stream: %w", err)
	}

	result, err := Collect(ctx, stream, observe)
	if closeErr := stream.Close(); closeErr != nil && err == nil {
		return nil, fmt.Errorf("close synthesis stream: %w", closeErr)
	}
	return result, err
}

// Collect drains stream in arrival order. Audio chunks are concatenated,
// word boundaries become alignment entries in seconds, and any other chunk
// type is skipped.
func Collect(ctx context.Context, stream Stream, observe ChunkObserver) (*Result, error) {
	audio := bytes.NewBuffer(make([]byte, 0))
	alignment := make([]AlignmentEntry, 0)

	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read synthesis stream: %w", err)
		}
		if observe != nil {
			observe(chunk)
		}

		switch chunk.Type {
		case ChunkAudio:
			audio.Write(chunk.Data)
		case ChunkWordBoundary:
			entry, err := alignmentEntry(chunk)
			if err != nil {
				return nil, err
			}
			alignment = append(alignment, entry)
		}
	}

	return &Result{
		Audio:     audio.Bytes(),
		Alignment: alignment,
	}, nil
}

func alignmentEntry(chunk Chunk) (AlignmentEntry, error) {
	if chunk.Duration > math.MaxUint64-chunk.Offset {
		return AlignmentEntry{}, fmt.Errorf("%w: word boundary %q overflows (offset %d, duration %d)",
			ErrMalformedChunk, chunk.Text, chunk.Offset, chunk.Duration)
	}
	return AlignmentEntry{
		Word:  chunk.Text,
		Start: TicksToSeconds(chunk.Offset),
		End:   TicksToSeconds(chunk.Offset + chunk.Duration),
	}, nil
}

// TicksToSeconds converts 100 ns provider ticks to seconds
func TicksToSeconds(ticks uint64) float64 {
	return float64(ticks) / TicksPerSecond
}
