package tts

import (
	"context"
	"errors"
	"time"

	"github.com/lexiqai/tts-gateway/internal/config"
	"github.com/lexiqai/tts-gateway/internal/observability"
	"github.com/lexiqai/tts-gateway/internal/resilience"
	"github.com/rs/zerolog"
)

// Synthesizer runs one synthesis per call: it interprets the request body,
// opens a single provider stream and aggregates it under a deadline.
type Synthesizer struct {
	interpreter *Interpreter
	provider    Provider
	breaker     *resilience.CircuitBreaker
	timeout     time.Duration
}

// NewSynthesizer creates a Synthesizer backed by provider
func NewSynthesizer(cfg *config.Config, provider Provider) *Synthesizer {
	breaker := resilience.NewCircuitBreaker(
		"edge_tts",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		if to == resilience.StateOpen {
			observability.IncrementCircuitBreakerFailures(name)
		}
		logger := observability.GetLogger()
		logger.Warn().
			Str("service", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	})

	return &Synthesizer{
		interpreter: NewInterpreter(VoicePresets{
			Male:   cfg.MaleVoice,
			Female: cfg.FemaleVoice,
		}),
		provider: provider,
		breaker:  breaker,
		timeout:  time.Duration(cfg.SynthesisTimeout) * time.Second,
	}
}

// Synthesize turns a decoded request body into audio and word alignment.
// Nothing partial is ever returned: on error the result is nil.
func (s *Synthesizer) Synthesize(ctx context.Context, body map[string]any, logger zerolog.Logger) (*Result, error) {
	params, err := s.interpreter.Interpret(body)
	if err != nil {
		observability.RecordError("invalid_request", "interpreter")
		return nil, err
	}

	logger.Info().
		Str("voice", params.Voice).
		Str("rate", params.Rate).
		Int("text_bytes", len(params.Text)).
		Msg("Synthesis requested")

	metrics := observability.NewSynthesisMetrics(params.Voice)
	metrics.RecordStart()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var result *Result
	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		metrics.RecordStreamOpened()
		var aggErr error
		result, aggErr = Aggregate(ctx, s.provider, params, func(Chunk) { metrics.RecordChunk() })
		return aggErr
	})
	metrics.RecordEnd(err == nil)

	if err != nil {
		observability.RecordError(errorType(err), "synthesizer")
		return nil, err
	}

	metrics.RecordOutput(len(result.Audio), len(result.Alignment))
	logger.Info().
		Int("audio_bytes", len(result.Audio)).
		Int("words", len(result.Alignment)).
		Msg("Synthesis completed")

	return result, nil
}

// Ready reports whether the provider circuit accepts requests
func (s *Synthesizer) Ready(_ context.Context) (bool, error) {
	if state := s.breaker.GetState(); state == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrMalformedChunk):
		return "malformed_chunk"
	case errors.Is(err, ErrNoAudioReceived):
		return "no_audio"
	default:
		return "provider"
	}
}
