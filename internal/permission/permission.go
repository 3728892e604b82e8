// Package permission implements risk-aware authorization for the governed
// write path. Every decision is audited before the mutation proceeds.
package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mnemos/internal/logging"
	"mnemos/internal/metrics"
)

// ErrDenied is the base error for refused operations.
var ErrDenied = errors.New("permission denied")

// Level is a user's write permission tier.
type Level string

const (
	LevelNone         Level = "none"
	LevelReadOnly     Level = "read_only"
	LevelWriteLimited Level = "write_limited"
	LevelWriteFull    Level = "write_full"
	LevelAdmin        Level = "admin"
)

// RiskLevel classifies an operation's assessed risk.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Profile is one user's permission configuration.
type Profile struct {
	UserID         string     `json:"user_id"`
	Level          Level      `json:"level"`
	AllowedOps     []string   `json:"allowed_ops"`
	ForbiddenOps   []string   `json:"forbidden_ops,omitempty"`
	DailyOpLimit   int        `json:"daily_op_limit"`
	BatchSizeLimit int        `json:"batch_size_limit"`
	Require2FA     bool       `json:"require_2fa"`
	AllowedSources []string   `json:"allowed_sources,omitempty"`
	ValidFrom      time.Time  `json:"valid_from"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
}

// Request describes the operation under authorization.
type Request struct {
	UserID        string
	Op            string
	AffectedCount int
	HardDelete    bool
	TargetSources []string
	SessionID     string
	TwoFAVerified bool
	Now           time.Time // zero means time.Now
}

// Decision is the authorization outcome.
type Decision struct {
	Allowed   bool
	Reason    string
	Risk      RiskLevel
	RiskScore float64
	Flags     []string
}

// Checker evaluates requests against permission profiles and daily usage.
type Checker struct {
	defaults Profile

	mu       sync.RWMutex
	profiles map[string]*Profile
	daily    map[string]*dailyCounter
}

type dailyCounter struct {
	date  string
	count int
}

// NewChecker creates a checker with the given default profile template for
// users without an explicit profile.
func NewChecker(defaultLevel Level, dailyLimit, batchLimit int) *Checker {
	if dailyLimit <= 0 {
		dailyLimit = 100
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &Checker{
		defaults: Profile{
			Level:          defaultLevel,
			AllowedOps:     []string{"create", "update", "delete", "bulk_tag", "bulk_retag", "batch_update", "merge", "split"},
			DailyOpLimit:   dailyLimit,
			BatchSizeLimit: batchLimit,
		},
		profiles: make(map[string]*Profile),
		daily:    make(map[string]*dailyCounter),
	}
}

// SetProfile installs or replaces a user's permission profile.
func (c *Checker) SetProfile(p Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := p
	c.profiles[p.UserID] = &cp
}

// ProfileFor returns the user's profile, falling back to the default
// template.
func (c *Checker) ProfileFor(userID string) Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.profiles[userID]; ok {
		return *p
	}
	p := c.defaults
	p.UserID = userID
	return p
}

// Authorize evaluates the request. It does not record usage; call
// CountOperation after the mutation is accepted so dry-runs and denials do
// not consume the daily budget.
func (c *Checker) Authorize(ctx context.Context, req Request) Decision {
	timer := logging.StartTimer(logging.CategoryPermission, "Authorize")
	defer timer.Stop()

	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	profile := c.ProfileFor(req.UserID)

	deny := func(reason string, risk RiskLevel, flags []string) Decision {
		metrics.AuthzDecisions.WithLabelValues(string(risk), "denied").Inc()
		logging.Permission("Denied %s for %s: %s", req.Op, req.UserID, reason)
		return Decision{Allowed: false, Reason: reason, Risk: risk, Flags: flags}
	}

	switch profile.Level {
	case LevelNone:
		return deny("no write permissions", RiskLow, nil)
	case LevelReadOnly:
		return deny("read-only access", RiskLow, nil)
	}

	if !contains(profile.AllowedOps, req.Op) {
		return deny(fmt.Sprintf("operation %q not permitted", req.Op), RiskLow, nil)
	}
	if contains(profile.ForbiddenOps, req.Op) {
		return deny(fmt.Sprintf("operation %q is forbidden", req.Op), RiskLow, nil)
	}

	if !profile.ValidFrom.IsZero() && now.Before(profile.ValidFrom) {
		return deny("permissions not yet active", RiskLow, nil)
	}
	if profile.ValidUntil != nil && now.After(*profile.ValidUntil) {
		return deny("permissions expired", RiskLow, nil)
	}

	if c.dailyCount(req.UserID, now) >= profile.DailyOpLimit {
		return deny("daily operation limit exceeded", RiskMedium, []string{"daily_limit"})
	}

	if req.AffectedCount > profile.BatchSizeLimit {
		return deny(fmt.Sprintf("batch size limit exceeded (%d > %d)", req.AffectedCount, profile.BatchSizeLimit),
			RiskMedium, []string{"batch_limit"})
	}

	risk, score, flags := assessRisk(req, profile, now)

	switch risk {
	case RiskCritical:
		if profile.Level != LevelAdmin {
			return deny("admin permissions required for critical operations", risk, flags)
		}
	case RiskHigh:
		if profile.Level != LevelWriteFull && profile.Level != LevelAdmin {
			return deny("full write permissions required for high-risk operations", risk, flags)
		}
	}

	if profile.Require2FA && (risk == RiskHigh || risk == RiskCritical) && !req.TwoFAVerified {
		return deny("two-factor authentication required", risk, append(flags, "2fa_required"))
	}

	metrics.AuthzDecisions.WithLabelValues(string(risk), "allowed").Inc()
	return Decision{Allowed: true, Reason: "permission granted", Risk: risk, RiskScore: score, Flags: flags}
}

// Operation base risks.
var opBaseRisk = map[string]float64{
	"create":       0.1,
	"update":       0.3,
	"delete":       0.8,
	"bulk_tag":     0.4,
	"bulk_retag":   0.5,
	"batch_update": 0.6,
	"merge":        0.7,
	"split":        0.6,
}

// assessRisk scores the operation: base risk, affected count, destructive
// flag, off-hours, and unauthorized source access.
func assessRisk(req Request, profile Profile, now time.Time) (RiskLevel, float64, []string) {
	score, ok := opBaseRisk[req.Op]
	if !ok {
		score = 0.5
	}
	var flags []string

	switch {
	case req.AffectedCount > 1000:
		score += 0.8
		flags = append(flags, "large_batch_operation")
	case req.AffectedCount > 100:
		score += 0.5
		flags = append(flags, "medium_batch_operation")
	case req.AffectedCount > 10:
		score += 0.2
		flags = append(flags, "small_batch_operation")
	}

	if req.Op == "delete" {
		if req.HardDelete {
			score += 0.3
			flags = append(flags, "hard_delete")
		}
		if req.AffectedCount > 50 {
			score += 0.4
			flags = append(flags, "bulk_delete")
		}
	}

	if hour := now.UTC().Hour(); hour < 6 || hour > 22 {
		score += 0.1
		flags = append(flags, "off_hours_operation")
	}

	if profile.Level == LevelWriteLimited {
		switch req.Op {
		case "batch_update", "bulk_tag", "bulk_retag":
			score += 0.3
			flags = append(flags, "limited_user_bulk_operation")
		}
	}

	if len(req.TargetSources) > 0 && len(profile.AllowedSources) > 0 {
		allowed := make(map[string]bool, len(profile.AllowedSources))
		for _, s := range profile.AllowedSources {
			allowed[s] = true
		}
		for _, s := range req.TargetSources {
			if !allowed[s] {
				score += 0.5
				flags = append(flags, "unauthorized_source_access")
				break
			}
		}
	}

	var level RiskLevel
	switch {
	case score >= 1.0:
		level = RiskCritical
	case score >= 0.7:
		level = RiskHigh
	case score >= 0.4:
		level = RiskMedium
	default:
		level = RiskLow
	}
	if score > 1.0 {
		score = 1.0
	}
	return level, score, flags
}

// CountOperation records one applied operation against the user's daily
// budget.
func (c *Checker) CountOperation(userID string, now time.Time) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	date := now.UTC().Format("2006-01-02")
	c.mu.Lock()
	defer c.mu.Unlock()
	counter, ok := c.daily[userID]
	if !ok || counter.date != date {
		counter = &dailyCounter{date: date}
		c.daily[userID] = counter
	}
	counter.count++
}

func (c *Checker) dailyCount(userID string, now time.Time) int {
	date := now.UTC().Format("2006-01-02")
	c.mu.RLock()
	defer c.mu.RUnlock()
	if counter, ok := c.daily[userID]; ok && counter.date == date {
		return counter.count
	}
	return 0
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
