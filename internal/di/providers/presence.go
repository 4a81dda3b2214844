package providers

import (
	"context"
	"errors"
	"time"

	"github.com/samber/do/v2"

	"github.com/ezhuthuapp/ezhuthu-server/internal/config"
	"github.com/ezhuthuapp/ezhuthu-server/internal/logger"
	"github.com/ezhuthuapp/ezhuthu-server/internal/presence"
)

// GatewayHandle wraps the presence gateway with its context for lifecycle management.
type GatewayHandle struct {
	*presence.Gateway
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable. It stops the event loop, which
// disconnects every session, and waits for it to exit.
func (h *GatewayHandle) Shutdown() error {
	h.cancel()
	select {
	case <-h.Done():
		return nil
	case <-time.After(shutdownTimeout):
		return errors.New("presence gateway did not stop in time")
	}
}

// ProvidePresenceGateway provides the presence gateway and starts its event loop.
func ProvidePresenceGateway(i do.Injector) (*GatewayHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	gateway := presence.NewGateway(presence.Options{
		SendBuffer: cfg.Presence.SendBuffer,
	}, log.Component("presence"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := gateway.Run(ctx); err != nil {
			log.WithError(err).Error("Presence gateway stopped")
		}
	}()

	log.Info("Presence gateway started", "path", cfg.Presence.Path)

	return &GatewayHandle{Gateway: gateway, cancel: cancel}, nil
}
