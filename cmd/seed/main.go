// Package main provides a tool to seed a writer profile for local development.
//
// It creates or replaces a profile, prints an access token for it and,
// when -draft is given, an invite link for that draft.
//
// Usage:
//
//	go run ./cmd/seed -tier free -usage 12
//	go run ./cmd/seed -tier free -trial -draft kavithai-1 -invitee friend@example.com
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/do/v2"

	"github.com/ezhuthuapp/ezhuthu-server/internal/auth"
	"github.com/ezhuthuapp/ezhuthu-server/internal/config"
	"github.com/ezhuthuapp/ezhuthu-server/internal/di"
	"github.com/ezhuthuapp/ezhuthu-server/internal/di/providers"
	"github.com/ezhuthuapp/ezhuthu-server/internal/domain"
	"github.com/ezhuthuapp/ezhuthu-server/internal/logger"
	"github.com/ezhuthuapp/ezhuthu-server/internal/service"
)

var (
	userID  = flag.String("user", "", "User id (default: random UUID)")
	email   = flag.String("email", "writer@example.com", "Email embedded in the access token")
	tier    = flag.String("tier", "free", "Subscription tier: free, pro, enterprise")
	usage   = flag.Int("usage", 0, "Usage already counted today")
	trial   = flag.Bool("trial", false, "Start an active trial")
	expired = flag.Bool("expired-trial", false, "Give the profile a trial that ended an hour ago")
	draft   = flag.String("draft", "", "Also issue an invite for this draft id")
	invitee = flag.String("invitee", "collaborator@example.com", "Invitee email for -draft")
)

func main() {
	flag.Parse()

	if *userID == "" {
		*userID = uuid.NewString()
	}

	// Configuration comes from the environment and .env only.
	injector := di.NewContainer(nil)
	defer func() { _ = injector.Shutdown() }()

	cfg := do.MustInvoke[*config.Config](injector)
	log := do.MustInvoke[*logger.Logger](injector)
	st := do.MustInvoke[*providers.StoreHandle](injector)
	tokens := do.MustInvoke[*auth.TokenService](injector)

	ctx := context.Background()
	now := time.Now().UTC()

	p := &domain.Profile{
		UserID:           *userID,
		SubscriptionTier: domain.NormalizeTier(*tier),
		UsageCount:       *usage,
		UsageResetAt:     now,
		UpdatedAt:        now,
	}

	switch {
	case *expired:
		start, end := now.Add(-cfg.Entitlement.TrialLength-time.Hour), now.Add(-time.Hour)
		p.TrialStartedAt, p.TrialEndsAt = &start, &end
		p.IsTrialActive, p.TrialUsed = true, true
	case *trial:
		start, end := now, now.Add(cfg.Entitlement.TrialLength)
		p.TrialStartedAt, p.TrialEndsAt = &start, &end
		p.IsTrialActive, p.TrialUsed = true, true
	}

	if err := st.SaveProfile(ctx, p); err != nil {
		log.Fatal("Failed to save profile", "error", err)
	}

	token, err := tokens.GenerateAccessToken(p.UserID, *email)
	if err != nil {
		log.Fatal("Failed to generate access token", "error", err)
	}

	fmt.Printf("Profile:      %s (%s)\n", p.UserID, p.SubscriptionTier)
	fmt.Printf("Access token: %s\n", token)
	fmt.Printf("Valid for:    %s\n", tokens.AccessTokenDuration())

	if *draft == "" {
		return
	}

	invites := do.MustInvoke[*service.InviteService](injector)
	resp, err := invites.CreateInvite(ctx, p.UserID, service.CreateInviteRequest{
		DraftID:      *draft,
		InviteeEmail: *invitee,
	})
	if err != nil {
		log.Fatal("Failed to create invite", "error", err)
	}

	fmt.Printf("Invite URL:   %s\n", resp.URL)
	fmt.Printf("Expires at:   %s\n", resp.ExpiresAt.Format(time.RFC3339))
}
