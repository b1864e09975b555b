package tts

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	voiceFemale = "female"
	roleFemale  = "B"
	defaultRole = "A"
)

// VoicePresets holds the two voice identifiers the service can speak with
type VoicePresets struct {
	Male   string
	Female string
}

// Interpreter turns a decoded request body into provider parameters
type Interpreter struct {
	presets VoicePresets
}

// NewInterpreter creates an Interpreter for the given voice presets
func NewInterpreter(presets VoicePresets) *Interpreter {
	return &Interpreter{presets: presets}
}

// Interpret resolves text, voice and rate from a request body.
// A missing text is passed on as empty; the provider decides whether that is acceptable.
func (i *Interpreter) Interpret(body map[string]any) (Params, error) {
	text, err := textField(body)
	if err != nil {
		return Params{}, err
	}

	speed, err := ParseSpeed(body)
	if err != nil {
		return Params{}, err
	}

	return Params{
		Text:  text,
		Voice: ResolveVoice(stringField(body, "voice"), roleField(body), i.presets),
		Rate:  RateFromSpeed(speed),
	}, nil
}

// ResolveVoice selects a preset. An explicit voice hint wins over the role:
// "female" selects the female voice, an empty hint with role "B" selects the
// female voice, and everything else selects the male voice.
func ResolveVoice(voice, role string, presets VoicePresets) string {
	if voice == voiceFemale {
		return presets.Female
	}
	if voice == "" && role == roleFemale {
		return presets.Female
	}
	return presets.Male
}

// RateFromSpeed maps a speed multiplier to a signed relative percentage, e.g. 1.2 -> "+20%".
// Halfway cases round to even.
func RateFromSpeed(speed float64) string {
	percent := math.RoundToEven((speed - 1.0) * 100)
	if percent == 0 {
		percent = 0 // drop the sign of -0
	}
	return fmt.Sprintf("%+.0f%%", percent)
}

// ParseSpeed reads the optional speed field. Absent means 1.0; numbers and
// numeric strings are accepted, anything else is an error.
func ParseSpeed(body map[string]any) (float64, error) {
	raw, ok := body["speed"]
	if !ok {
		return 1.0, nil
	}

	var speed float64
	switch v := raw.(type) {
	case float64:
		speed = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: could not convert %q to float", ErrInvalidSpeed, v)
		}
		speed = parsed
	default:
		return 0, fmt.Errorf("%w: expected number or numeric string, got %T", ErrInvalidSpeed, raw)
	}

	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		return 0, fmt.Errorf("%w: %v is not finite", ErrInvalidSpeed, speed)
	}
	return speed, nil
}

func textField(body map[string]any) (string, error) {
	raw, ok := body["text"]
	if !ok || raw == nil {
		return "", nil
	}
	text, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected string, got %T", ErrInvalidText, raw)
	}
	return text, nil
}

func roleField(body map[string]any) string {
	if _, ok := body["role"]; !ok {
		return defaultRole
	}
	return stringField(body, "role")
}

// stringField returns the field when it is a JSON string, "" when absent or null,
// and a non-matching placeholder for any other JSON type.
func stringField(body map[string]any, key string) string {
	switch v := body[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
