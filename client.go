package taskstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client invokes short and live tasks against one endpoint.
//
// A Client is safe for concurrent use. Live calls multiplex over a single
// websocket session, dialed lazily on first use and re-dialed if it dies.
// Short calls are plain HTTP requests and carry no connection state.
type Client struct {
	endpoint string
	http     *http.Client
	dialer   *websocket.Dialer
	logger   *zap.Logger

	mu      sync.Mutex
	session *session
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for short requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithDialer sets the websocket dialer used for the live event channel.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the client logger. Defaults to a nop logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for the task endpoint,
// e.g. "http://localhost:5000".
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     http.DefaultClient,
		dialer:   websocket.DefaultDialer,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes a short task and returns its raw JSON result.
//
// Every failure comes back as a *ClassifiedError: connectivity problems
// carry the generic unexpected-error message, non-2xx statuses map
// through the status table, and a 2xx response with an unparsable body is
// a protocol failure. There are no retries; tasks are not assumed
// idempotent, so retry policy belongs to the caller.
func (c *Client) Call(ctx context.Context, task string, args any) (jsontext.Value, error) {
	body, err := json.Marshal(&RunRequest{Task: task, Args: args})
	if err != nil {
		return nil, Classify(err)
	}
	return c.post(ctx, c.endpoint+"/run", body)
}

// Close tears down the shared live channel connection, if any. The client
// remains usable; the next live call re-dials.
func (c *Client) Close() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s != nil {
		s.close()
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) (jsontext.Value, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Classify(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, data)
	}

	var result jsontext.Value
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, classifyInvalidSuccess(data)
	}
	return result, nil
}

// getSession returns the shared live channel session, dialing it if none
// is alive.
func (c *Client) getSession(ctx context.Context) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && !c.session.isClosed() {
		return c.session, nil
	}

	wsURL, err := eventChannelURL(c.endpoint)
	if err != nil {
		return nil, Classify(err)
	}
	ws, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, classifyTransport(err)
	}
	c.logger.Debug("live channel connected", zap.String("url", wsURL))

	s := newSession(ws, c.logger)
	go s.readPump()
	c.session = s
	return s, nil
}

// eventChannelURL derives the websocket URL of the live event channel
// from the HTTP endpoint.
func eventChannelURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"
	return u.String(), nil
}
