package signaling

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/velia-net/rendezvous/internal/auth"
	"github.com/velia-net/rendezvous/internal/broker"
	"github.com/velia-net/rendezvous/internal/metrics"
	"github.com/velia-net/rendezvous/internal/origin"
	"github.com/velia-net/rendezvous/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

// Config wires the runtime dependencies of the WebSocket endpoint.
type Config struct {
	Broker   *broker.Broker
	Verifier *auth.Verifier
	Metrics  *metrics.Metrics
	Log      zerolog.Logger

	// AuthTimeout bounds how long an unauthenticated connection may sit idle
	// before it is closed.
	AuthTimeout time.Duration

	// TrustProxyHeaders derives the origin fingerprint from X-Forwarded-For
	// instead of the socket address. Enable only behind a trusted proxy.
	TrustProxyHeaders bool

	// AllowedOrigins restricts which browser Origins may connect. Empty means
	// same-host only; "*" admits any. Requests without an Origin header
	// (non-browser clients) are always admitted.
	AllowedOrigins []string

	// Inbound hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

// Server terminates WebSocket connections, runs the admission gate, and
// dispatches authenticated frames into the broker.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, cfg.AllowedOrigins)
			},
		},
	}
}

func (s *Server) authTimeout() time.Duration {
	if s.cfg.AuthTimeout <= 0 {
		return 5 * time.Second
	}
	return s.cfg.AuthTimeout
}

func (s *Server) maxMessageBytes() int64 {
	if s.cfg.MaxMessageBytes <= 0 {
		return 64 * 1024
	}
	return s.cfg.MaxMessageBytes
}

func (s *Server) maxMessagesPerSecond() int {
	if s.cfg.MaxMessagesPerSecond <= 0 {
		return 50
	}
	return s.cfg.MaxMessagesPerSecond
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.handle(conn, r)
}

// wsClient adapts one gorilla connection to broker.Peer. All writes are
// serialized by writeMu, which also preserves send order on the link.
type wsClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (c *wsClient) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) Notify(n broker.Notice) error {
	return c.send(noticeMessage(n))
}

func (c *wsClient) Forward(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsClient) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (c *wsClient) Close() error {
	return c.conn.Close()
}

// handle runs the connection through the admission gate and then pumps
// authenticated frames until the transport closes.
func (s *Server) handle(conn *websocket.Conn, r *http.Request) {
	defer conn.Close()

	client := &wsClient{conn: conn}
	conn.SetReadLimit(s.maxMessageBytes())

	identity, ok := s.admit(conn, client)
	if !ok {
		return
	}

	fingerprint := originFingerprint(r, s.cfg.TrustProxyHeaders)
	id := s.cfg.Broker.Register(client, fingerprint, identity)
	defer s.cfg.Broker.Disconnect(id)

	log := s.cfg.Log.With().Str("conn_id", id.String()).Str("identity", identity).Logger()

	conn.SetPongHandler(func(string) error {
		s.cfg.Broker.MarkAlive(id)
		return nil
	})

	limiter := ratelimit.NewTokenBucket(nil,
		int64(s.maxMessagesPerSecond()),
		int64(s.maxMessagesPerSecond()),
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				log.Debug().Err(err).Msg("unexpected close")
			}
			return
		}

		// Inbound traffic proves the transport is alive even when pongs are lost.
		s.cfg.Broker.MarkAlive(id)

		if !limiter.Allow(1) {
			s.cfg.Metrics.Inc(metrics.DropRateLimited)
			closeWith(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			// Malformed frames are dropped; the connection stays open.
			s.cfg.Metrics.Inc(metrics.DropMalformed)
			log.Debug().Err(err).Msg("malformed frame dropped")
			_ = client.send(serverMessage{Type: typeError, Code: "bad_message", Message: err.Error()})
			continue
		}

		switch msg.Type {
		case kindAuth:
			// Already authenticated; tolerate redundant auth frames.
		case kindFindPartner, kindSearch:
			s.cfg.Broker.RequestMatch(id)
		case kindSkip:
			s.cfg.Broker.Skip(id)
		case kindLeave:
			s.cfg.Broker.Leave(id)
		case kindChat, kindOffer, kindAnswer, kindCandidate:
			kind, _ := msg.relayKind()
			s.cfg.Broker.Relay(id, kind, data)
		}
	}
}

// admit enforces the admission gate: the first frame must be a valid auth
// message. On failure the connection is terminated; on success the token's
// identity is returned.
func (s *Server) admit(conn *websocket.Conn, client *wsClient) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(s.authTimeout()))

	_, data, err := conn.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			s.cfg.Metrics.Inc(metrics.AuthFailure)
			closeWith(conn, websocket.ClosePolicyViolation, "authentication timeout")
		}
		return "", false
	}

	msg, err := parseClientMessage(data)
	if err != nil || msg.Type != kindAuth {
		s.cfg.Metrics.Inc(metrics.AuthFailure)
		_ = client.send(serverMessage{Type: typeAuthError, Code: "authentication_required"})
		closeWith(conn, websocket.ClosePolicyViolation, "authentication required")
		return "", false
	}

	identity, err := s.cfg.Verifier.Verify(msg.Token)
	if err != nil {
		s.cfg.Metrics.Inc(metrics.AuthFailure)
		code := "token_invalid"
		if errors.Is(err, auth.ErrTokenExpired) {
			code = "token_expired"
		}
		_ = client.send(serverMessage{Type: typeAuthError, Code: code})
		closeWith(conn, websocket.ClosePolicyViolation, "unauthorized")
		return "", false
	}

	s.cfg.Metrics.Inc(metrics.AuthSuccess)
	if err := client.send(serverMessage{Type: typeAuthSuccess}); err != nil {
		return "", false
	}
	_ = conn.SetReadDeadline(time.Time{})
	return identity, true
}

// originFingerprint identifies the network origin of a request, used by the
// matchmaker to avoid pairing a client with itself.
func originFingerprint(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func checkOrigin(r *http.Request, allowlist []string) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		// Non-browser clients send no Origin; tokens gate them instead.
		return true
	}
	normalized, ok := origin.Normalize(header)
	if !ok {
		return false
	}
	return origin.Allowed(normalized, r.Host, allowlist)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
