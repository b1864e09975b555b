package tts

import (
	"context"
	"testing"
	"time"

	"github.com/lexiqai/tts-gateway/internal/config"
	"github.com/lexiqai/tts-gateway/internal/resilience"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSynthConfig() *config.Config {
	return &config.Config{
		MaleVoice:                  "en-US-GuyNeural",
		FemaleVoice:                "en-US-JennyNeural",
		SynthesisTimeout:           5,
		CircuitBreakerMaxFailures:  2,
		CircuitBreakerResetTimeout: 60,
	}
}

// blockingStream never yields until its context ends
type blockingStream struct{}

func (blockingStream) Next(ctx context.Context) (Chunk, error) {
	<-ctx.Done()
	return Chunk{}, ctx.Err()
}

func (blockingStream) Close() error { return nil }

type blockingProvider struct{}

func (blockingProvider) Open(ctx context.Context, text, voice, rate string) (Stream, error) {
	return blockingStream{}, nil
}

func TestSynthesizer_EndToEnd(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{stream: &fakeStream{chunks: []Chunk{
		audio(0x01, 0x02),
		word("hello", 10_000_000, 5_000_000),
	}}}
	synth := NewSynthesizer(testSynthConfig(), provider)

	body := map[string]any{"text": "hello", "role": "B", "speed": "1.2"}
	result, err := synth.Synthesize(context.Background(), body, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, Params{Text: "hello", Voice: "en-US-JennyNeural", Rate: "+20%"}, provider.params)
	assert.Equal(t, []byte{0x01, 0x02}, result.Audio)
	assert.Equal(t, []AlignmentEntry{{Word: "hello", Start: 1.0, End: 1.5}}, result.Alignment)
}

func TestSynthesizer_InvalidRequestDoesNotOpenStream(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{stream: &fakeStream{}}
	synth := NewSynthesizer(testSynthConfig(), provider)

	result, err := synth.Synthesize(context.Background(), map[string]any{"speed": "quick"}, zerolog.Nop())
	require.ErrorIs(t, err, ErrInvalidSpeed)
	assert.Nil(t, result)
	assert.Zero(t, provider.opened)
}

func TestSynthesizer_ProviderFailureReturnsNothing(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{stream: &fakeStream{
		chunks:    []Chunk{audio(1), audio(2)},
		failAfter: 1,
		failErr:   errStreamBroken,
	}}
	synth := NewSynthesizer(testSynthConfig(), provider)

	result, err := synth.Synthesize(context.Background(), map[string]any{"text": "x"}, zerolog.Nop())
	require.ErrorIs(t, err, errStreamBroken)
	assert.Nil(t, result)
}

func TestSynthesizer_DeadlineEndsHungStream(t *testing.T) {
	t.Parallel()

	cfg := testSynthConfig()
	cfg.SynthesisTimeout = 1
	synth := NewSynthesizer(cfg, blockingProvider{})

	start := time.Now()
	_, err := synth.Synthesize(context.Background(), map[string]any{"text": "x"}, zerolog.Nop())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSynthesizer_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{openErr: errStreamBroken}
	synth := NewSynthesizer(testSynthConfig(), provider)
	body := map[string]any{"text": "x"}

	for i := 0; i < 2; i++ {
		_, err := synth.Synthesize(context.Background(), body, zerolog.Nop())
		require.ErrorIs(t, err, errStreamBroken)
	}

	_, err := synth.Synthesize(context.Background(), body, zerolog.Nop())
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, provider.opened)

	ready, err := synth.Ready(context.Background())
	assert.False(t, ready)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestErrorType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "circuit_open", errorType(resilience.ErrCircuitOpen))
	assert.Equal(t, "timeout", errorType(context.DeadlineExceeded))
	assert.Equal(t, "malformed_chunk", errorType(ErrMalformedChunk))
	assert.Equal(t, "no_audio", errorType(ErrNoAudioReceived))
	assert.Equal(t, "provider", errorType(errStreamBroken))
}
