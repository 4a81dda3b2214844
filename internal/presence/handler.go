package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	"github.com/ezhuthuapp/ezhuthu-server/internal/auth"
	domainerrors "github.com/ezhuthuapp/ezhuthu-server/internal/errors"
	"github.com/ezhuthuapp/ezhuthu-server/internal/http/response"
)

const (
	maxFramePayloadBytes   = 16 << 10
	maxDecodeErrorsPerConn = 3
	writeTimeout           = 10 * time.Second
	defaultHeartbeat       = 30 * time.Second
)

// idleHeartbeats is how many heartbeat intervals a session may stay silent.
const idleHeartbeats = 3

// IdentityVerifier resolves an access token to an identity.
type IdentityVerifier interface {
	VerifyAccessToken(token string) (*auth.AccessClaims, error)
}

// HandlerOptions configures the websocket endpoint.
type HandlerOptions struct {
	// AllowedOrigins is the CORS allow-list; "*" allows any origin. Requests
	// without an Origin header are not browsers and are always accepted.
	AllowedOrigins []string
	// MaxFramesPerSecond closes connections that send faster than this.
	MaxFramesPerSecond float64
	// Verifier is optional. Without it every session is anonymous.
	Verifier IdentityVerifier
	// HeartbeatInterval paces server heartbeats. Defaults to 30s.
	HeartbeatInterval time.Duration
}

// Handler upgrades HTTP requests to websocket sessions on a Gateway.
type Handler struct {
	gateway   *Gateway
	logger    *slog.Logger
	verifier  IdentityVerifier
	origins   map[string]bool
	anyOrigin bool
	frameRate float64
	heartbeat time.Duration
}

// NewHandler creates the websocket endpoint.
func NewHandler(g *Gateway, opts HandlerOptions, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		gateway:   g,
		logger:    logger,
		verifier:  opts.Verifier,
		origins:   make(map[string]bool, len(opts.AllowedOrigins)),
		frameRate: opts.MaxFramesPerSecond,
		heartbeat: opts.HeartbeatInterval,
	}
	for _, o := range opts.AllowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			h.anyOrigin = true
		}
		h.origins[o] = true
	}
	if h.frameRate <= 0 {
		h.frameRate = 20
	}
	if h.heartbeat <= 0 {
		h.heartbeat = defaultHeartbeat
	}
	return h
}

type userIDKey struct{}

// ServeHTTP authenticates the request (if a token is present) and hands the
// connection to the websocket server.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if origin := r.Header.Get("Origin"); origin != "" && !h.originAllowed(origin) {
		h.logger.Warn("presence rejected origin", slog.String("origin", origin))
		response.HandleError(w, domainerrors.Forbidden("origin not allowed"), h.logger)
		return
	}

	if token := accessToken(r); token != "" && h.verifier != nil {
		claims, err := h.verifier.VerifyAccessToken(token)
		if err != nil {
			h.logger.Info("presence rejected invalid token", slog.String("remote", r.RemoteAddr))
			response.HandleError(w, domainerrors.Unauthorized("invalid access token"), h.logger)
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), userIDKey{}, claims.UserID))
	}

	srv := websocket.Server{
		Handshake: h.handshake,
		Handler:   h.serveConn,
	}
	srv.ServeHTTP(w, r)
}

func (h *Handler) originAllowed(origin string) bool {
	return h.anyOrigin || h.origins[strings.TrimRight(origin, "/")]
}

// handshake replaces the library default, which rejects requests without
// an Origin header. Browser origins were already checked in ServeHTTP.
func (h *Handler) handshake(config *websocket.Config, r *http.Request) error {
	origin, err := websocket.Origin(config, r)
	if err != nil {
		return fmt.Errorf("bad origin: %w", err)
	}
	config.Origin = origin
	return nil
}

func (h *Handler) serveConn(ws *websocket.Conn) {
	defer ws.Close()

	req := ws.Request()
	userID, _ := req.Context().Value(userIDKey{}).(string)

	conn, err := h.gateway.Connect(req.Context(), userID)
	if err != nil {
		h.logger.Warn("presence connect failed", slog.String("error", err.Error()))
		return
	}
	log := h.logger.With(slog.String("conn_id", conn.ID()))

	ws.MaxPayloadBytes = maxFramePayloadBytes
	// Replaces the HTTP server's read deadline; renewed on every inbound frame.
	h.touch(ws)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ws, conn, log)
	}()

	h.readLoop(req.Context(), ws, conn, log)

	h.gateway.Disconnect(conn)
	<-writerDone
}

// writeLoop drains the connection's outbound queue until the gateway closes
// it, interleaving heartbeats.
func (h *Handler) writeLoop(ws *websocket.Conn, conn *Conn, log *slog.Logger) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		var f Frame
		select {
		case out, ok := <-conn.Outbound():
			if !ok {
				// Gateway removed the session: close so the reader returns.
				_ = ws.Close()
				return
			}
			f = out
		case <-ticker.C:
			f = Frame{Event: EventHeartbeat}
		}

		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := websocket.JSON.Send(ws, f); err != nil {
			log.Debug("presence write failed", slog.String("error", err.Error()))
			// Unblock the reader; the gateway still owns the queue.
			_ = ws.Close()
			return
		}
	}
}

// touch pushes the read deadline out by the idle window.
func (h *Handler) touch(ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(idleHeartbeats * h.heartbeat))
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, conn *Conn, log *slog.Logger) {
	limiter := rate.NewLimiter(rate.Limit(h.frameRate), int(h.frameRate)+1)
	decodeErrors := 0

	for {
		var f Frame
		err := websocket.JSON.Receive(ws, &f)
		if err != nil {
			if isDecodeError(err) {
				h.touch(ws)
				decodeErrors++
				log.Debug("presence bad frame", slog.String("error", err.Error()))
				if decodeErrors >= maxDecodeErrorsPerConn {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Debug("presence read ended", slog.String("error", err.Error()))
			}
			return
		}
		decodeErrors = 0
		h.touch(ws)

		if !limiter.Allow() {
			log.Warn("presence frame rate exceeded, closing")
			return
		}

		if f.Event == EventHeartbeat {
			continue
		}

		if err := h.gateway.Dispatch(ctx, conn, f); err != nil {
			return
		}
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.Is(err, websocket.ErrFrameTooLarge)
}

// accessToken reads a bearer token from the Authorization header or the
// access_token query parameter; browsers cannot set headers on websocket upgrades.
func accessToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
