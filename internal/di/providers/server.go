package providers

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/ezhuthuapp/ezhuthu-server/internal/api"
	"github.com/ezhuthuapp/ezhuthu-server/internal/auth"
	"github.com/ezhuthuapp/ezhuthu-server/internal/config"
	"github.com/ezhuthuapp/ezhuthu-server/internal/logger"
	"github.com/ezhuthuapp/ezhuthu-server/internal/presence"
	"github.com/ezhuthuapp/ezhuthu-server/internal/service"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
	handler *api.Server
}

// Shutdown implements do.Shutdownable. Websocket sessions are hijacked
// connections and are closed by the gateway shutdown instead.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	defer h.handler.Close()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server and starts listening.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	gatewayHandle := do.MustInvoke[*GatewayHandle](i)
	tokens := do.MustInvoke[*auth.TokenService](i)

	services := &api.Services{
		Invite:      do.MustInvoke[*service.InviteService](i),
		Join:        do.MustInvoke[*service.JoinService](i),
		Entitlement: do.MustInvoke[*service.EntitlementService](i),
		Tokens:      tokens,
	}

	presenceHandler := presence.NewHandler(gatewayHandle.Gateway, presence.HandlerOptions{
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		MaxFramesPerSecond: cfg.Presence.MaxFramesPerSecond,
		HeartbeatInterval:  cfg.Presence.HeartbeatInterval,
		Verifier:           tokens,
	}, log.Component("presence"))

	handler := api.NewServer(storeHandle.Store, services, gatewayHandle.Gateway, presenceHandler, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PresencePath:   cfg.Presence.Path,
	}, log.Component("http"))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Bind before returning so a port conflict fails bootstrap.
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		handler.Close()
		return nil, err
	}

	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
		}
	}()

	log.Info("Server running", "addr", srv.Addr, "presence_path", cfg.Presence.Path)

	return &HTTPServerHandle{Server: srv, handler: handler}, nil
}
