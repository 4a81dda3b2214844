package providers

import (
	"github.com/samber/do/v2"

	"github.com/ezhuthuapp/ezhuthu-server/internal/auth"
	"github.com/ezhuthuapp/ezhuthu-server/internal/config"
	"github.com/ezhuthuapp/ezhuthu-server/internal/invite"
	"github.com/ezhuthuapp/ezhuthu-server/internal/logger"
)

// AccessKey wraps the PASETO access-token key bytes.
type AccessKey []byte

// InviteSecret wraps the invite signing secret.
type InviteSecret []byte

// ProvideAccessKey derives the access-token key from AUTH_SECRET, or loads
// or generates a key file under the data path.
func ProvideAccessKey(i do.Injector) (AccessKey, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Auth.Secret != "" {
		key, err := auth.DeriveKey(cfg.Auth.Secret, auth.AccessKeyInfo)
		if err != nil {
			return nil, err
		}
		log.Info("Access token key derived from AUTH_SECRET")
		return AccessKey(key), nil
	}

	key, err := auth.LoadOrGenerateKey(cfg.App.DataPath, auth.AccessKeyFile)
	if err != nil {
		return nil, err
	}
	log.Info("Access token key loaded", "file", auth.AccessKeyFile)
	return AccessKey(key), nil
}

// ProvideInviteSecret returns INVITE_SIGNING_SECRET, or a key file under the
// data path outside production. Config validation rejects production
// without a secret.
func ProvideInviteSecret(i do.Injector) (InviteSecret, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Invite.SigningSecret != "" {
		return InviteSecret(cfg.Invite.SigningSecret), nil
	}

	key, err := auth.LoadOrGenerateKey(cfg.App.DataPath, auth.InviteKeyFile)
	if err != nil {
		return nil, err
	}
	log.Warn("INVITE_SIGNING_SECRET not set, using generated key file", "file", auth.InviteKeyFile)
	return InviteSecret(key), nil
}

// ProvideTokenService provides the PASETO token service.
func ProvideTokenService(i do.Injector) (*auth.TokenService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	key := do.MustInvoke[AccessKey](i)

	return auth.NewTokenService(key, cfg.Auth.AccessTokenDuration)
}

// ProvideInviteCodec provides the invite token codec.
func ProvideInviteCodec(i do.Injector) (*invite.Codec, error) {
	secret := do.MustInvoke[InviteSecret](i)
	return invite.NewCodec(secret)
}
