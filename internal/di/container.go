// Package di provides dependency injection configuration for the ezhuthu server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/ezhuthuapp/ezhuthu-server/internal/auth"
	"github.com/ezhuthuapp/ezhuthu-server/internal/config"
	"github.com/ezhuthuapp/ezhuthu-server/internal/di/providers"
	"github.com/ezhuthuapp/ezhuthu-server/internal/entitlement"
	"github.com/ezhuthuapp/ezhuthu-server/internal/invite"
	"github.com/ezhuthuapp/ezhuthu-server/internal/logger"
	"github.com/ezhuthuapp/ezhuthu-server/internal/service"
	"github.com/ezhuthuapp/ezhuthu-server/internal/validation"
)

// NewContainer creates and configures the DI container with all providers.
// args are the command-line arguments without the program name.
func NewContainer(args []string) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig(args))
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideValidator)

	// Keys and tokens
	do.Provide(injector, providers.ProvideAccessKey)
	do.Provide(injector, providers.ProvideInviteSecret)
	do.Provide(injector, providers.ProvideTokenService)
	do.Provide(injector, providers.ProvideInviteCodec)

	// Database layer
	do.Provide(injector, providers.ProvideStore)

	// Business services
	do.Provide(injector, providers.ProvideEntitlementEngine)
	do.Provide(injector, providers.ProvideInviteService)
	do.Provide(injector, providers.ProvideJoinService)
	do.Provide(injector, providers.ProvideEntitlementService)

	// Real-time
	do.Provide(injector, providers.ProvidePresenceGateway)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns once the HTTP server is listening.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*validation.Validator](injector)

	if _, err := do.Invoke[*auth.TokenService](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*invite.Codec](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}

	_ = do.MustInvoke[*entitlement.Engine](injector)
	_ = do.MustInvoke[*service.InviteService](injector)
	_ = do.MustInvoke[*service.JoinService](injector)
	_ = do.MustInvoke[*service.EntitlementService](injector)
	_ = do.MustInvoke[*providers.GatewayHandle](injector)

	if _, err := do.Invoke[*providers.HTTPServerHandle](injector); err != nil {
		return err
	}

	return nil
}
