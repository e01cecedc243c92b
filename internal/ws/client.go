package ws

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/plaza/internal/auth"
	"github.com/manpreetbhatti/plaza/internal/metrics"
	"github.com/manpreetbhatti/plaza/internal/protocol"
	"github.com/manpreetbhatti/plaza/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	defaultTimeout    = 60 * time.Second
	maxMessageSize    = 1024 * 1024
	sendBufferSize    = 512
	messagesPerSecond = 100
	messageBurst      = 200
)

var (
	ErrClosed         = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Authorizer decides whether email may join roomID.
type Authorizer interface {
	Authorize(roomID, email, token string) (auth.Role, error)
}

type Options struct {
	// Authorizer checks the join request. Without one every connection is
	// accepted as a room admin.
	Authorizer Authorizer
	// IPLimiter throttles connection attempts per remote IP. Optional.
	IPLimiter *ratelimit.ClientLimiters
	// Timeout closes connections that stay silent this long.
	Timeout           time.Duration
	MessagesPerSecond float64
	MessageBurst      int
	Logger            zerolog.Logger
}

// Client is a websocket connection acting as a participant's transport.
type Client struct {
	id          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	roomID      string
	role        auth.Role
	rateLimiter *ratelimit.Limiter
	timeout     time.Duration
	log         zerolog.Logger

	open      atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeMsg  []byte
}

func (c *Client) ID() string   { return c.id }
func (c *Client) Room() string { return c.roomID }
func (c *Client) Open() bool   { return c.open.Load() }

func (c *Client) Role() auth.Role { return c.role }

// Send queues a frame for the write pump. A client that cannot keep up is
// disconnected.
func (c *Client) Send(data []byte) error {
	if !c.open.Load() {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		metrics.MessagesDropped.WithLabelValues("send_buffer_full").Inc()
		c.Close(websocket.CloseTryAgainLater, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close sends a close frame with code and reason and stops both pumps. Codes
// reserved for local use (1005, 1006, 1015) stop the pumps without a frame.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.closeMsg = closeFrame(code, reason)
		close(c.done)
	})
}

func closeFrame(code int, reason string) []byte {
	switch code {
	case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return nil
	}
	return websocket.FormatCloseMessage(code, reason)
}

// ServeWs authorizes the request, upgrades it and starts the client pumps.
func ServeWs(hub *Hub, opts Options, w http.ResponseWriter, r *http.Request) {
	log := opts.Logger
	ip := ratelimit.RealIP(r)
	if opts.IPLimiter != nil && !opts.IPLimiter.Allow(ip) {
		metrics.RateLimitHits.WithLabelValues("connect").Inc()
		log.Warn().Str("ip", ip).Msg("connection rate limit exceeded")
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	q := r.URL.Query()
	roomID := q.Get("room")
	email := q.Get("email")
	role := auth.RoleAdmin
	if opts.Authorizer != nil {
		var err error
		role, err = opts.Authorizer.Authorize(roomID, email, q.Get("token"))
		if err != nil {
			log.Warn().Err(err).Str("room", roomID).Str("email", email).Str("ip", ip).Msg("connection refused")
			http.Error(w, "auth error", http.StatusForbidden)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("ip", ip).Msg("upgrade failed")
		return
	}

	perSecond, burst := opts.MessagesPerSecond, opts.MessageBurst
	if perSecond <= 0 {
		perSecond = messagesPerSecond
	}
	if burst <= 0 {
		burst = messageBurst
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	id := uuid.NewString()
	client := &Client{
		id:          id,
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		roomID:      roomID,
		role:        role,
		rateLimiter: ratelimit.NewLimiter(perSecond, burst),
		timeout:     timeout,
		log:         log.With().Str("conn", id).Str("room", roomID).Str("email", email).Logger(),
		done:        make(chan struct{}),
	}
	client.open.Store(true)
	metrics.Connections.Inc()
	client.log.Info().Str("ip", ip).Str("role", string(role)).Msg("connection opened")

	go client.writePump()
	go client.readPump()
}

type closeCause struct {
	ErrorType string `json:"errorType"`
	Code      int    `json:"code"`
	Reason    string `json:"reason"`
}

func (c *Client) readPump() {
	code, reason := websocket.CloseAbnormalClosure, ""
	defer func() {
		c.Close(code, reason)
		metrics.Connections.Dec()
		c.hub.Enqueue(protocol.Message{
			T: protocol.ParticipantLeftByError,
			V: protocol.Value(closeCause{ErrorType: "websocket closed", Code: code, Reason: reason}),
		}, c)
		c.log.Info().Int("code", code).Str("reason", reason).Msg("connection closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			} else {
				reason = err.Error()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			metrics.RateLimitHits.WithLabelValues("message").Inc()
			if rateLimitWarnings%100 == 1 {
				c.log.Warn().Int("warnings", rateLimitWarnings).Msg("message rate limit exceeded")
			}
			if rateLimitWarnings > 1000 {
				c.log.Warn().Msg("disconnecting for excessive rate limit violations")
				code, reason = websocket.ClosePolicyViolation, "rate limit exceeded"
				return
			}
			continue
		}

		msgs, err := protocol.DecodeFrame(data)
		if err != nil {
			metrics.MessagesDropped.WithLabelValues("malformed").Inc()
			c.log.Warn().Err(err).Int("bytes", len(data)).Msg("invalid frame")
			continue
		}
		for _, msg := range msgs {
			if msg.T == "" {
				metrics.MessagesDropped.WithLabelValues("malformed").Inc()
				continue
			}
			c.hub.Enqueue(msg, c)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.timeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.Close(websocket.CloseAbnormalClosure, err.Error())
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				c.Close(websocket.CloseAbnormalClosure, err.Error())
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, err.Error())
				return
			}

		case <-c.done:
			if c.closeMsg != nil {
				c.conn.WriteControl(websocket.CloseMessage, c.closeMsg, time.Now().Add(writeWait))
			}
			return
		}
	}
}
