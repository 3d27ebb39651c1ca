package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/sumire/nowplaying/internal/domain"
	"github.com/sumire/nowplaying/internal/metrics"
	"github.com/sumire/nowplaying/internal/provider"
)

// Credentials nearing expiry are refreshed early so an outbound call
// never races the deadline.
const expirySkew = 30 * time.Second

// TwitterPolicy is the static configuration gating the Twitter
// destination. Zero value disables it.
type TwitterPolicy struct {
	Enabled         bool
	CredsConfigured bool
	// RequireMisskey blocks Twitter posting unless a Misskey link exists.
	RequireMisskey bool
	// AllowedHosts restricts RequireMisskey to specific instances.
	// Empty means any instance qualifies.
	AllowedHosts []string
}

// Gate is the sole path from stored credentials to outbound provider
// calls. It refreshes lazily on use, persists rotated tokens, and turns
// permanently revoked credentials into deleted links.
type Gate struct {
	adapters map[domain.Provider]provider.Adapter
	links    LinkStore
	policy   TwitterPolicy
	logger   *slog.Logger
	now      func() time.Time
}

// NewGate creates a new Gate.
func NewGate(adapters []provider.Adapter, links LinkStore, policy TwitterPolicy, logger *slog.Logger) *Gate {
	byKind := make(map[domain.Provider]provider.Adapter, len(adapters))
	for _, a := range adapters {
		byKind[a.Kind()] = a
	}
	return &Gate{
		adapters: byKind,
		links:    links,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// Eligibility recomputes, from the current links and the static policy,
// whether each posting destination may be used. The result is never
// cached or stored; unlinking shows up on the next call.
func (g *Gate) Eligibility(ctx context.Context, userID uuid.UUID) (map[domain.Provider]domain.Eligibility, error) {
	links, err := g.links.FindAll(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	byKind := make(map[domain.Provider]*domain.ProviderLink, len(links))
	for i := range links {
		byKind[links[i].Provider] = &links[i]
	}

	out := map[domain.Provider]domain.Eligibility{
		domain.ProviderMisskey: g.misskeyEligibility(byKind),
		domain.ProviderTwitter: g.twitterEligibility(byKind),
	}
	return out, nil
}

func (g *Gate) misskeyEligibility(links map[domain.Provider]*domain.ProviderLink) domain.Eligibility {
	if links[domain.ProviderMisskey] == nil {
		return domain.Eligibility{Reason: "misskey not connected"}
	}
	return domain.Eligibility{Eligible: true}
}

func (g *Gate) twitterEligibility(links map[domain.Provider]*domain.ProviderLink) domain.Eligibility {
	if reason := g.twitterPolicyBlock(links); reason != "" {
		return domain.Eligibility{Reason: reason}
	}
	if links[domain.ProviderTwitter] == nil {
		return domain.Eligibility{Reason: "twitter not connected"}
	}
	return domain.Eligibility{Eligible: true}
}

// twitterPolicyBlock reports why the static policy forbids Twitter for
// these links, or "" when it does not. Whether a Twitter link already
// exists is deliberately outside policy.
func (g *Gate) twitterPolicyBlock(links map[domain.Provider]*domain.ProviderLink) string {
	if !g.policy.Enabled {
		return "twitter posting is disabled"
	}
	if !g.policy.CredsConfigured {
		return "twitter credentials are not configured"
	}

	if g.policy.RequireMisskey {
		misskey := links[domain.ProviderMisskey]
		if misskey == nil {
			return "misskey connection required for twitter"
		}
		if len(g.policy.AllowedHosts) > 0 && !slices.Contains(g.policy.AllowedHosts, misskey.Host()) {
			return "misskey instance not allowed for twitter"
		}
	}
	return ""
}

// TwitterEnabled reports whether the Twitter destination is switched on
// and has provider credentials configured.
func (g *Gate) TwitterEnabled() bool {
	return g.policy.Enabled && g.policy.CredsConfigured
}

// TwitterLinkable reports whether the user may start a Twitter handshake
// under the current policy and links.
func (g *Gate) TwitterLinkable(ctx context.Context, userID uuid.UUID) error {
	links, err := g.links.FindAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("list links: %w", err)
	}

	byKind := make(map[domain.Provider]*domain.ProviderLink, len(links))
	for i := range links {
		byKind[links[i].Provider] = &links[i]
	}

	if reason := g.twitterPolicyBlock(byKind); reason != "" {
		return fmt.Errorf("%s: %w", reason, domain.ErrInvalidInput)
	}
	return nil
}

// ResolveCredential returns a live credential for (user, kind),
// refreshing first when the stored one is at or past expiry. A missing
// link fails with ErrNotConnected. A refresh the provider permanently
// rejects deletes the link and also fails with ErrNotConnected, so the
// caller sees the same state a fresh query would.
func (g *Gate) ResolveCredential(ctx context.Context, userID uuid.UUID, kind domain.Provider) (domain.Credential, error) {
	cred, err := g.resolve(ctx, userID, kind)
	if err == nil {
		return cred, nil
	}
	// Lost the CAS to a concurrent refresh: the committed row is fresh,
	// resolve once more against it.
	if errors.Is(err, domain.ErrNotFound) {
		return g.resolve(ctx, userID, kind)
	}
	return domain.Credential{}, err
}

func (g *Gate) resolve(ctx context.Context, userID uuid.UUID, kind domain.Provider) (domain.Credential, error) {
	link, err := g.links.Find(ctx, userID, kind)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Credential{}, domain.ErrNotConnected
		}
		return domain.Credential{}, fmt.Errorf("find %s link: %w", kind, err)
	}

	if !link.Expired(g.now().Add(expirySkew)) {
		return link.Credential(), nil
	}

	adapter, ok := g.adapters[kind]
	if !ok {
		return domain.Credential{}, fmt.Errorf("provider %q not configured: %w", kind, domain.ErrInvalidInput)
	}

	cred, err := adapter.Refresh(ctx, link)
	if err != nil {
		if errors.Is(err, domain.ErrRefreshRevoked) {
			metrics.TokenRefreshes.WithLabelValues(string(kind), "revoked").Inc()
			g.logger.Warn("refresh credential revoked, removing link",
				slog.String("provider", string(kind)),
				slog.String("user_id", userID.String()))
			if delErr := g.links.Delete(ctx, userID, kind); delErr != nil && !errors.Is(delErr, domain.ErrNotFound) {
				return domain.Credential{}, fmt.Errorf("remove revoked %s link: %w", kind, delErr)
			}
			return domain.Credential{}, domain.ErrNotConnected
		}
		metrics.TokenRefreshes.WithLabelValues(string(kind), "error").Inc()
		return domain.Credential{}, fmt.Errorf("refresh %s credential: %w", kind, err)
	}

	// Atomic rotation guarded by the row version we read; a concurrent
	// refresh that committed first surfaces as ErrNotFound and the caller
	// re-resolves against the winner's row.
	if err := g.links.UpdateCredential(ctx, userID, kind, link.UpdatedAt, cred); err != nil {
		return domain.Credential{}, err
	}
	metrics.TokenRefreshes.WithLabelValues(string(kind), "ok").Inc()
	return cred, nil
}
