package providers

import (
	"github.com/samber/do/v2"

	"github.com/ezhuthuapp/ezhuthu-server/internal/config"
	"github.com/ezhuthuapp/ezhuthu-server/internal/entitlement"
	"github.com/ezhuthuapp/ezhuthu-server/internal/invite"
	"github.com/ezhuthuapp/ezhuthu-server/internal/logger"
	"github.com/ezhuthuapp/ezhuthu-server/internal/service"
	"github.com/ezhuthuapp/ezhuthu-server/internal/validation"
)

// ProvideEntitlementEngine provides the entitlement engine.
func ProvideEntitlementEngine(i do.Injector) (*entitlement.Engine, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	v := do.MustInvoke[*validation.Validator](i)
	log := do.MustInvoke[*logger.Logger](i)

	policy := entitlement.Policy{FreeDailyLimit: cfg.Entitlement.FreeDailyLimit}
	return entitlement.NewEngine(policy, storeHandle.Store, v, log.Component("entitlement")), nil
}

// ProvideInviteService provides the invite service.
func ProvideInviteService(i do.Injector) (*service.InviteService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	codec := do.MustInvoke[*invite.Codec](i)
	v := do.MustInvoke[*validation.Validator](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewInviteService(codec, v, log.Component("invite"), service.InviteConfig{
		PublicURL:  cfg.Server.PublicURL,
		DefaultTTL: cfg.Invite.DefaultTTL,
		MaxTTL:     cfg.Invite.MaxTTL,
	}), nil
}

// ProvideJoinService provides the join service.
func ProvideJoinService(i do.Injector) (*service.JoinService, error) {
	codec := do.MustInvoke[*invite.Codec](i)
	engine := do.MustInvoke[*entitlement.Engine](i)

	return service.NewJoinService(codec, engine), nil
}

// ProvideEntitlementService provides the entitlement service.
func ProvideEntitlementService(i do.Injector) (*service.EntitlementService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	engine := do.MustInvoke[*entitlement.Engine](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewEntitlementService(engine, storeHandle.Store, cfg.Entitlement.TrialLength, log.Component("entitlement")), nil
}
