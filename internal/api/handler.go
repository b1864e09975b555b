package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/lexiqai/tts-gateway/internal/observability"
	"github.com/lexiqai/tts-gateway/internal/tts"
	"github.com/rs/zerolog"
)

// Synthesizer is the part of tts.Synthesizer the handler depends on
type Synthesizer interface {
	Synthesize(ctx context.Context, body map[string]any, logger zerolog.Logger) (*tts.Result, error)
}

// SynthesisResponse is the success body of POST /api/tts
type SynthesisResponse struct {
	Audio     string               `json:"audio"`
	Alignment []tts.AlignmentEntry `json:"alignment"`
}

// HandleTTS returns the POST /api/tts handler. Every failure is reported as
// a 500 with the error text as a plain body.
func HandleTTS(synth Synthesizer, maxBodyBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := observability.RequestCorrelationID(r)
		logger := observability.WithCorrelationID(correlationID)
		w.Header().Set(observability.RequestIDHeader, correlationID)

		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := decodeBody(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			observability.RecordError("invalid_request", "api")
			writeError(w, logger, err)
			return
		}

		result, err := synth.Synthesize(r.Context(), body, logger)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		payload, err := sonic.Marshal(SynthesisResponse{
			Audio:     base64.StdEncoding.EncodeToString(result.Audio),
			Alignment: result.Alignment,
		})
		if err != nil {
			writeError(w, logger, fmt.Errorf("encode response: %w", err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(payload); err != nil {
			logger.Warn().Err(err).Msg("Failed to write response")
		}
	}
}

// decodeBody reads a JSON object. Numbers decode as float64.
func decodeBody(r io.Reader) (map[string]any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}

	var body map[string]any
	if err := sonic.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}
	if body == nil {
		return nil, errors.New("decode request body: expected a JSON object")
	}
	return body, nil
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	logger.Error().Err(err).Msg("Synthesis request failed")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, err.Error())
}
