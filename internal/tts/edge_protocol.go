package tts

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

const (
	// Seconds between the Windows file time epoch (1601) and the Unix epoch
	winEpochSeconds = 11644473600

	// The DRM token rotates every five minutes
	secMSGECWindowSeconds = 300

	// Gap inserted between the timelines of consecutive turns, in ticks
	turnOffsetPadding = 8_750_000

	edgeOrigin    = "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold"
	edgeTimestamp = "Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)"

	headerSeparator = "\r\n\r\n"
)

var (
	rateSpecPattern   = regexp.MustCompile(`^[+-]\d+%$`)
	shortVoicePattern = regexp.MustCompile(`^([a-z]{2,})-([A-Z]{2,})-(.+Neural)$`)

	xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// edgeMessage is one decoded frame received from the speech service
type edgeMessage struct {
	headers map[string]string
	body    []byte
}

func (m edgeMessage) path() string {
	return m.headers["Path"]
}

// edgeMetadata is the body of an audio.metadata frame
type edgeMetadata struct {
	Metadata []struct {
		Type string `json:"Type"`
		Data struct {
			Offset   uint64 `json:"Offset"`
			Duration uint64 `json:"Duration"`
			Text     struct {
				Text string `json:"Text"`
			} `json:"text"`
		} `json:"Data"`
	} `json:"Metadata"`
}

type speechConfig struct {
	Context struct {
		Synthesis struct {
			Audio struct {
				MetadataOptions struct {
					SentenceBoundaryEnabled string `json:"sentenceBoundaryEnabled"`
					WordBoundaryEnabled     string `json:"wordBoundaryEnabled"`
				} `json:"metadataoptions"`
				OutputFormat string `json:"outputFormat"`
			} `json:"audio"`
		} `json:"synthesis"`
	} `json:"context"`
}

// connectionID returns a dashless uuid as used for ConnectionId and X-RequestId
func connectionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// secMSGEC computes the Sec-MS-GEC token: the uppercase SHA-256 of the
// Windows file time (rounded down to the rotation window) followed by the
// trusted client token.
func secMSGEC(now time.Time, trustedClientToken string) string {
	seconds := now.Unix() + winEpochSeconds
	seconds -= seconds % secMSGECWindowSeconds
	// seconds to 100 ns ticks
	ticks := strconv.FormatInt(seconds, 10) + "0000000"

	sum := sha256.Sum256([]byte(ticks + trustedClientToken))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func edgeDate(now time.Time) string {
	return now.UTC().Format(edgeTimestamp)
}

func speechConfigMessage(now time.Time, outputFormat string) (string, error) {
	var cfg speechConfig
	cfg.Context.Synthesis.Audio.MetadataOptions.SentenceBoundaryEnabled = "false"
	cfg.Context.Synthesis.Audio.MetadataOptions.WordBoundaryEnabled = "true"
	cfg.Context.Synthesis.Audio.OutputFormat = outputFormat

	payload, err := sonic.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal speech config: %w", err)
	}

	return "X-Timestamp:" + edgeDate(now) + "\r\n" +
		"Content-Type:application/json; charset=utf-8\r\n" +
		"Path:speech.config" + headerSeparator +
		string(payload) + "\r\n", nil
}

func ssmlMessage(requestID string, now time.Time, ssml string) string {
	// The trailing Z after the timestamp is what the Edge browser sends.
	return "X-RequestId:" + requestID + "\r\n" +
		"Content-Type:application/ssml+xml\r\n" +
		"X-Timestamp:" + edgeDate(now) + "Z\r\n" +
		"Path:ssml" + headerSeparator +
		ssml
}

// buildSSML wraps already escaped text in a voice and prosody element
func buildSSML(voice, rate, escapedText string) string {
	return "<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>" +
		"<voice name='" + html.EscapeString(voice) + "'>" +
		"<prosody pitch='+0Hz' rate='" + rate + "' volume='+0%'>" +
		escapedText +
		"</prosody></voice></speak>"
}

// longVoiceName expands a short voice name such as en-US-GuyNeural into the
// form the service expects. Names that do not look short are returned as is.
func longVoiceName(voice string) string {
	m := shortVoicePattern.FindStringSubmatch(voice)
	if m == nil {
		return voice
	}
	lang, region, name := m[1], m[2], m[3]
	if i := strings.Index(name, "-"); i >= 0 {
		region += "-" + name[:i]
		name = name[i+1:]
	}
	return fmt.Sprintf("Microsoft Server Speech Text to Speech Voice (%s-%s, %s)", lang, region, name)
}

func validRateSpec(rate string) bool {
	return rateSpecPattern.MatchString(rate)
}

// sanitizeText replaces control characters the service rejects with spaces
func sanitizeText(text string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 0 && r <= 8) || r == 11 || r == 12 || (r >= 14 && r <= 31) {
			return ' '
		}
		return r
	}, text)
}

func escapeText(text string) string {
	return xmlEscaper.Replace(text)
}

// splitText cuts escaped text into parts of at most limit bytes. It prefers
// newlines, then spaces, never splits a rune or an XML entity, and drops
// parts that are empty after trimming.
func splitText(text string, limit int) []string {
	var parts []string
	for len(text) > limit {
		splitAt := strings.LastIndexByte(text[:limit], '\n')
		if splitAt < 0 {
			splitAt = strings.LastIndexByte(text[:limit], ' ')
		}
		if splitAt < 0 {
			splitAt = runeSafeSplit(text, limit)
		}
		splitAt = entitySafeSplit(text, splitAt)

		if part := strings.TrimSpace(text[:splitAt]); part != "" {
			parts = append(parts, part)
		}
		if splitAt == 0 {
			splitAt = 1
		}
		text = text[splitAt:]
	}
	if part := strings.TrimSpace(text); part != "" {
		parts = append(parts, part)
	}
	return parts
}

func runeSafeSplit(text string, splitAt int) int {
	for splitAt > 0 && !utf8.RuneStart(text[splitAt]) {
		splitAt--
	}
	return splitAt
}

// entitySafeSplit moves splitAt back to the start of an XML entity it would cut
func entitySafeSplit(text string, splitAt int) int {
	for splitAt > 0 {
		amp := strings.LastIndexByte(text[:splitAt], '&')
		if amp < 0 || strings.IndexByte(text[amp:splitAt], ';') >= 0 {
			break
		}
		splitAt = amp
	}
	return splitAt
}

func parseHeaders(raw []byte) map[string]string {
	headers := make(map[string]string)
	for _, line := range bytes.Split(raw, []byte("\r\n")) {
		key, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		headers[string(bytes.TrimSpace(key))] = string(bytes.TrimSpace(value))
	}
	return headers
}

// parseTextMessage splits a text frame into headers and body
func parseTextMessage(data []byte) (edgeMessage, error) {
	head, body, ok := bytes.Cut(data, []byte(headerSeparator))
	if !ok {
		return edgeMessage{}, fmt.Errorf("%w: text frame without header separator", ErrMalformedChunk)
	}
	return edgeMessage{headers: parseHeaders(head), body: body}, nil
}

// parseBinaryMessage splits a binary frame: a big-endian uint16 header
// length, the headers, then the payload.
func parseBinaryMessage(data []byte) (edgeMessage, error) {
	if len(data) < 2 {
		return edgeMessage{}, fmt.Errorf("%w: binary frame shorter than its header length", ErrMalformedChunk)
	}
	headerLen := int(binary.BigEndian.Uint16(data[:2]))
	if 2+headerLen > len(data) {
		return edgeMessage{}, fmt.Errorf("%w: binary frame header length %d exceeds frame size %d",
			ErrMalformedChunk, headerLen, len(data))
	}
	return edgeMessage{
		headers: parseHeaders(data[2 : 2+headerLen]),
		body:    data[2+headerLen:],
	}, nil
}

// parseMetadata decodes an audio.metadata body into boundary chunks, shifted by offsetCompensation.
// Metadata types other than word and sentence boundaries are skipped.
func parseMetadata(body []byte, offsetCompensation uint64) ([]Chunk, error) {
	var meta edgeMetadata
	if err := sonic.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("%w: decode audio metadata: %v", ErrMalformedChunk, err)
	}

	chunks := make([]Chunk, 0, len(meta.Metadata))
	for _, m := range meta.Metadata {
		chunkType := ChunkType(m.Type)
		if chunkType != ChunkWordBoundary && chunkType != ChunkSentenceBoundary {
			continue
		}
		chunks = append(chunks, Chunk{
			Type:     chunkType,
			Offset:   m.Data.Offset + offsetCompensation,
			Duration: m.Data.Duration,
			Text:     html.UnescapeString(m.Data.Text.Text),
		})
	}
	return chunks, nil
}
