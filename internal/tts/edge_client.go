package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/tts-gateway/internal/config"
	"github.com/rs/zerolog"
)

const edgeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0"

// EdgeClient implements Provider using the Microsoft Edge read-aloud speech service
type EdgeClient struct {
	endpoint           string
	trustedClientToken string
	chromiumVersion    string
	outputFormat       string
	maxChunkBytes      int
	dialer             *websocket.Dialer
	logger             zerolog.Logger
	now                func() time.Time
}

// NewEdgeClient creates a new Edge TTS client
func NewEdgeClient(cfg *config.Config, logger zerolog.Logger) *EdgeClient {
	return &EdgeClient{
		endpoint:           cfg.EdgeEndpoint,
		trustedClientToken: cfg.EdgeTrustedClientToken,
		chromiumVersion:    cfg.EdgeChromiumVersion,
		outputFormat:       cfg.EdgeOutputFormat,
		maxChunkBytes:      cfg.EdgeMaxChunkBytes,
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  time.Duration(cfg.EdgeDialTimeout) * time.Second,
			EnableCompression: true,
		},
		logger: logger.With().Str("component", "edge_tts").Logger(),
		now:    time.Now,
	}
}

// CheckConfig verifies that the endpoint can be dialed in principle; it does not open a connection
func (c *EdgeClient) CheckConfig(ctx context.Context) (bool, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return false, fmt.Errorf("invalid edge endpoint: %w", err)
	}
	if u.Scheme != "wss" && u.Scheme != "ws" {
		return false, fmt.Errorf("edge endpoint must use ws or wss, got %q", u.Scheme)
	}
	if c.trustedClientToken == "" {
		return false, errors.New("edge trusted client token is empty")
	}
	return true, nil
}

// Open starts synthesizing text. The returned stream yields audio and
// boundary chunks in the order the service sends them.
func (c *EdgeClient) Open(ctx context.Context, text, voice, rate string) (Stream, error) {
	if !validRateSpec(rate) {
		return nil, fmt.Errorf("invalid rate %q", rate)
	}
	if voice == "" {
		return nil, errors.New("voice must not be empty")
	}

	parts := splitText(escapeText(sanitizeText(text)), c.maxChunkBytes)
	if len(parts) == 0 {
		c.logger.Debug().Msg("Nothing to synthesize, returning empty stream")
		return &edgeStream{done: true}, nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	stream := &edgeStream{
		conn:   conn,
		parts:  parts,
		voice:  longVoiceName(voice),
		rate:   rate,
		now:    c.now,
		logger: c.logger,
	}

	configMsg, err := speechConfigMessage(c.now(), c.outputFormat)
	if err != nil {
		stream.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(configMsg)); err != nil {
		stream.Close()
		return nil, fmt.Errorf("send speech config: %w", err)
	}
	if err := stream.sendNextPart(); err != nil {
		stream.Close()
		return nil, err
	}

	c.logger.Debug().
		Str("voice", voice).
		Str("rate", rate).
		Int("parts", len(parts)).
		Msg("Edge synthesis started")

	return stream, nil
}

func (c *EdgeClient) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid edge endpoint: %w", err)
	}
	q := u.Query()
	q.Set("TrustedClientToken", c.trustedClientToken)
	q.Set("Sec-MS-GEC", secMSGEC(c.now(), c.trustedClientToken))
	q.Set("Sec-MS-GEC-Version", "1-"+c.chromiumVersion)
	q.Set("ConnectionId", connectionID())
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Pragma", "no-cache")
	header.Set("Cache-Control", "no-cache")
	header.Set("Origin", edgeOrigin)
	header.Set("User-Agent", edgeUserAgent)
	header.Set("Accept-Language", "en-US,en;q=0.9")

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect to edge speech service: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connect to edge speech service: %w", err)
	}
	return conn, nil
}

// edgeStream reads one synthesis from an open connection. Each text part is
// a separate turn; timings of later turns are shifted past earlier ones.
type edgeStream struct {
	conn   *websocket.Conn
	parts  []string
	voice  string
	rate   string
	now    func() time.Time
	logger zerolog.Logger

	nextPart           int
	pending            []Chunk
	offsetCompensation uint64
	lastDurationOffset uint64
	turnAudio          bool
	done               bool
	closed             bool
}

// Next returns the next chunk, blocking until the service delivers one
func (s *edgeStream) Next(ctx context.Context) (Chunk, error) {
	for {
		if len(s.pending) > 0 {
			chunk := s.pending[0]
			s.pending = s.pending[1:]
			return chunk, nil
		}
		if s.done {
			return Chunk{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return Chunk{}, err
		}

		msgType, data, err := s.read(ctx)
		if err != nil {
			return Chunk{}, err
		}

		switch msgType {
		case websocket.TextMessage:
			err = s.handleText(data)
		case websocket.BinaryMessage:
			err = s.handleBinary(data)
		}
		if err != nil {
			return Chunk{}, err
		}
	}
}

// read waits for one frame, giving up when ctx is done
func (s *edgeStream) read(ctx context.Context) (int, []byte, error) {
	deadline, _ := ctx.Deadline()
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, fmt.Errorf("set read deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	msgType, data, err := s.conn.ReadMessage()
	if err == nil {
		return msgType, data, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, nil, fmt.Errorf("edge stream interrupted: %w", ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && !deadline.IsZero() {
		return 0, nil, fmt.Errorf("edge stream interrupted: %w", context.DeadlineExceeded)
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return 0, nil, errors.New("edge speech service closed the connection before synthesis finished")
	}
	return 0, nil, fmt.Errorf("read edge message: %w", err)
}

func (s *edgeStream) handleText(data []byte) error {
	msg, err := parseTextMessage(data)
	if err != nil {
		return err
	}

	switch msg.path() {
	case "audio.metadata":
		chunks, err := parseMetadata(msg.body, s.offsetCompensation)
		if err != nil {
			return err
		}
		for _, chunk := range chunks {
			if chunk.Type == ChunkWordBoundary {
				s.lastDurationOffset = chunk.Offset + chunk.Duration
			}
		}
		s.pending = append(s.pending, chunks...)

	case "turn.end":
		if !s.turnAudio {
			return ErrNoAudioReceived
		}
		if s.nextPart >= len(s.parts) {
			s.done = true
			return nil
		}
		s.offsetCompensation = s.lastDurationOffset + turnOffsetPadding
		return s.sendNextPart()

	default:
		// turn.start, response and anything newer carry nothing we need
		s.logger.Trace().Str("path", msg.path()).Msg("Ignoring edge text frame")
	}
	return nil
}

func (s *edgeStream) handleBinary(data []byte) error {
	msg, err := parseBinaryMessage(data)
	if err != nil {
		return err
	}
	if msg.path() != "audio" {
		return fmt.Errorf("%w: binary frame with path %q", ErrMalformedChunk, msg.path())
	}

	contentType, hasType := msg.headers["Content-Type"]
	switch {
	case !hasType && len(msg.body) == 0:
		// keep-alive style frame without payload
		return nil
	case !hasType:
		return fmt.Errorf("%w: audio frame with data but no Content-Type", ErrMalformedChunk)
	case !strings.HasPrefix(contentType, "audio/"):
		return fmt.Errorf("%w: unexpected audio Content-Type %q", ErrMalformedChunk, contentType)
	case len(msg.body) == 0:
		return fmt.Errorf("%w: audio frame without data", ErrMalformedChunk)
	}

	s.turnAudio = true
	s.pending = append(s.pending, Chunk{Type: ChunkAudio, Data: msg.body})
	return nil
}

func (s *edgeStream) sendNextPart() error {
	part := s.parts[s.nextPart]
	s.nextPart++
	s.turnAudio = false

	msg := ssmlMessage(connectionID(), s.now(), buildSSML(s.voice, s.rate, part))
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return fmt.Errorf("send ssml: %w", err)
	}
	return nil
}

// Close releases the connection. It is safe to call more than once.
func (s *edgeStream) Close() error {
	if s.closed || s.conn == nil {
		s.closed = true
		return nil
	}
	s.closed = true

	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}
