package feed

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/appointment-desk/backend/internal/session"
	"go.uber.org/zap"
)

const maxEventSize = 1 << 20

// SSE reads a text/event-stream endpoint.
type SSE struct {
	url      string
	client   *http.Client
	sessions session.Provider
	policy   ReconnectPolicy
	logger   *zap.Logger
}

// NewSSE creates an SSE transport. client must not have a timeout, since the
// response body stays open for the life of the stream.
func NewSSE(url string, client *http.Client, sessions session.Provider, policy ReconnectPolicy, logger *zap.Logger) *SSE {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSE{url: url, client: client, sessions: sessions, policy: policy, logger: logger}
}

// Run implements Transport.
func (s *SSE) Run(ctx context.Context, h Handler) error {
	return runStream(ctx, s.policy, s.logger, h, s.connect)
}

func (s *SSE) connect(ctx context.Context, h Handler) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if cookies := cookieHeader(s.sessions); cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream endpoint returned %s", resp.Status)
	}

	h.OnOpen()
	s.logger.Debug("sse stream open", zap.String("url", s.url))
	return true, readEvents(resp.Body, h.OnMessage)
}

// readEvents parses an event stream and calls dispatch with the data of
// each unnamed or "message" event. Comment lines (heartbeats) and events
// with another name produce nothing, as does a final event that the stream
// ends before terminating with a blank line. It returns nil on a clean EOF.
func readEvents(r io.Reader, dispatch func(data []byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxEventSize)

	var (
		data      bytes.Buffer
		eventType string
		pending   bool
	)
	for sc.Scan() {
		line := bytes.TrimSuffix(sc.Bytes(), []byte("\r"))
		if len(line) == 0 {
			if pending && (eventType == "" || eventType == "message") {
				dispatch(bytes.Clone(data.Bytes()))
			}
			data.Reset()
			eventType = ""
			pending = false
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "event":
			eventType = string(value)
		case "data":
			if pending {
				data.WriteByte('\n')
			}
			data.Write(value)
			pending = true
		}
		// id and retry do not change how payloads are read.
	}
	return sc.Err()
}
