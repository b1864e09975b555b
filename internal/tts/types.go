package tts

import (
	"context"
	"errors"
)

// TicksPerSecond is the number of provider time units (100 ns ticks) in one second
const TicksPerSecond = 10_000_000.0

// ChunkType tags the variant carried by a Chunk
type ChunkType string

const (
	ChunkAudio            ChunkType = "audio"
	ChunkWordBoundary     ChunkType = "WordBoundary"
	ChunkSentenceBoundary ChunkType = "SentenceBoundary"
)

// Chunk is one element of a provider stream.
// Data is set for audio chunks; Offset, Duration and Text for boundary events.
type Chunk struct {
	Type     ChunkType
	Data     []byte
	Offset   uint64 // 100 ns ticks from the start of the audio
	Duration uint64 // 100 ns ticks
	Text     string
}

// AlignmentEntry is a word with its position in the synthesized audio, in seconds
type AlignmentEntry struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is the complete output of one synthesis
type Result struct {
	Audio     []byte
	Alignment []AlignmentEntry
}

// Params are the resolved provider inputs for one synthesis
type Params struct {
	Text  string
	Voice string
	Rate  string
}

// Stream is a single-pass, ordered sequence of chunks.
// Next returns io.EOF once the provider has finished.
type Stream interface {
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// Provider opens synthesis streams. Every call produces a fresh stream.
type Provider interface {
	Open(ctx context.Context, text, voice, rate string) (Stream, error)
}

var (
	// ErrInvalidSpeed is returned when speed is neither a number nor a numeric string
	ErrInvalidSpeed = errors.New("invalid speed")

	// ErrInvalidText is returned when text is present but not a string
	ErrInvalidText = errors.New("invalid text")

	// ErrMalformedChunk is returned for a known chunk type whose contents cannot be used
	ErrMalformedChunk = errors.New("malformed chunk")

	// ErrNoAudioReceived is returned by the Edge client when a stream ends without audio
	ErrNoAudioReceived = errors.New("no audio was received from the speech service")
)
