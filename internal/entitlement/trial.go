package entitlement

import (
	"time"

	"github.com/ezhuthuapp/ezhuthu-server/internal/domain"
)

// windowClosed reports whether now is past end. Both sides are compared at
// millisecond precision, the resolution trial windows are stored at.
func windowClosed(now, end time.Time) bool {
	return now.Truncate(time.Millisecond).After(end.Truncate(time.Millisecond))
}

// explicitTrial is the stored-flag path: the flag is set and the window has
// not closed. A flag without an end date grants nothing.
func explicitTrial(p *domain.Profile, now time.Time) bool {
	return p.IsTrialActive && p.TrialEndsAt != nil && !windowClosed(now, *p.TrialEndsAt)
}

// fallbackTrial recognizes a trial from its window alone, for rows whose
// flag was never written.
func fallbackTrial(p *domain.Profile, now time.Time) bool {
	return p.TrialUsed &&
		p.TrialStartedAt != nil &&
		p.TrialEndsAt != nil &&
		!windowClosed(now, *p.TrialEndsAt) &&
		p.Tier() != domain.TierPro
}

// TrialActive reports whether either recognition path grants a trial at now.
func TrialActive(p *domain.Profile, now time.Time) bool {
	return explicitTrial(p, now) || fallbackTrial(p, now)
}

// TrialExpired reports whether the stored flag still claims an active trial
// whose window has closed on an unpaid profile. Such a profile needs the
// downgrade write.
func TrialExpired(p *domain.Profile, now time.Time) bool {
	return p.IsTrialActive &&
		p.TrialEndsAt != nil &&
		windowClosed(now, *p.TrialEndsAt) &&
		!p.Tier().IsPaid()
}
