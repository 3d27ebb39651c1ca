package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sumire/nowplaying/internal/domain"
	"github.com/sumire/nowplaying/internal/metrics"
	"github.com/sumire/nowplaying/internal/provider"
)

// Player fetches the currently playing item for a Spotify credential.
type Player interface {
	CurrentlyPlaying(ctx context.Context, cred domain.Credential) (*provider.NowPlaying, error)
}

// NotePoster posts a note to a Misskey instance.
type NotePoster interface {
	CreateNote(ctx context.Context, instanceHost string, cred domain.Credential, text string) error
}

// TweetPoster posts a tweet.
type TweetPoster interface {
	CreateTweet(ctx context.Context, cred domain.Credential, text string) error
}

// ShareTarget selects which destinations a share goes to.
type ShareTarget string

const (
	ShareTargetMisskey ShareTarget = "misskey"
	ShareTargetTwitter ShareTarget = "twitter"
	ShareTargetBoth    ShareTarget = "both"
)

// ParseShareTarget maps a query value to a target, defaulting to both.
func ParseShareTarget(v string) ShareTarget {
	switch strings.ToLower(v) {
	case "misskey":
		return ShareTargetMisskey
	case "twitter":
		return ShareTargetTwitter
	default:
		return ShareTargetBoth
	}
}

// ShareResult is the outcome of one share fan-out, with a per-target
// verdict. Posted is true when at least one destination accepted.
type ShareResult struct {
	Posted  bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Results map[string]string `json:"results,omitempty"`
}

// Share posts the user's currently playing track to the linked
// destinations. Every credential it sends outbound comes from the gate,
// so expiry and revocation are handled before any provider call.
type Share struct {
	gate    *Gate
	links   LinkStore
	player  Player
	misskey NotePoster
	twitter TweetPoster
	logger  *slog.Logger
}

// NewShare creates a new Share service.
func NewShare(gate *Gate, links LinkStore, player Player, misskey NotePoster, twitter TweetPoster, logger *slog.Logger) *Share {
	return &Share{
		gate:    gate,
		links:   links,
		player:  player,
		misskey: misskey,
		twitter: twitter,
		logger:  logger,
	}
}

// Post fans out the user's now-playing item to the requested targets.
// A quiet player is not an error; the result just says nothing is
// playing. One destination failing never blocks the other.
func (s *Share) Post(ctx context.Context, userID uuid.UUID, target ShareTarget) (*ShareResult, error) {
	spotifyCred, err := s.gate.ResolveCredential(ctx, userID, domain.ProviderSpotify)
	if err != nil {
		return nil, err
	}

	playing, err := s.player.CurrentlyPlaying(ctx, spotifyCred)
	if err != nil {
		return nil, fmt.Errorf("fetch currently playing: %w", err)
	}
	if playing == nil {
		return &ShareResult{Message: "nothing is playing"}, nil
	}

	text := formatShareText(playing)
	result := &ShareResult{
		Message: text,
		Results: make(map[string]string),
	}

	eligibility, err := s.gate.Eligibility(ctx, userID)
	if err != nil {
		return nil, err
	}

	if target == ShareTargetMisskey || target == ShareTargetBoth {
		result.Results["misskey"] = s.postMisskey(ctx, userID, eligibility[domain.ProviderMisskey], text)
	}
	if target == ShareTargetTwitter || target == ShareTargetBoth {
		result.Results["twitter"] = s.postTwitter(ctx, userID, eligibility[domain.ProviderTwitter], text)
	}

	for _, v := range result.Results {
		if v == "success" {
			result.Posted = true
			break
		}
	}
	return result, nil
}

func (s *Share) postMisskey(ctx context.Context, userID uuid.UUID, elig domain.Eligibility, text string) string {
	if !elig.Eligible {
		metrics.Posts.WithLabelValues("misskey", "skipped").Inc()
		return elig.Reason
	}

	link, err := s.links.Find(ctx, userID, domain.ProviderMisskey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.Posts.WithLabelValues("misskey", "skipped").Inc()
			return "misskey not connected"
		}
		return s.postFailure(ctx, "misskey", userID, err)
	}

	cred, err := s.gate.ResolveCredential(ctx, userID, domain.ProviderMisskey)
	if err != nil {
		return s.postFailure(ctx, "misskey", userID, err)
	}
	if err := s.misskey.CreateNote(ctx, link.Host(), cred, text); err != nil {
		return s.postFailure(ctx, "misskey", userID, err)
	}

	metrics.Posts.WithLabelValues("misskey", "success").Inc()
	return "success"
}

func (s *Share) postTwitter(ctx context.Context, userID uuid.UUID, elig domain.Eligibility, text string) string {
	if !elig.Eligible {
		metrics.Posts.WithLabelValues("twitter", "skipped").Inc()
		return elig.Reason
	}

	cred, err := s.gate.ResolveCredential(ctx, userID, domain.ProviderTwitter)
	if err != nil {
		return s.postFailure(ctx, "twitter", userID, err)
	}
	if err := s.twitter.CreateTweet(ctx, cred, text); err != nil {
		return s.postFailure(ctx, "twitter", userID, err)
	}

	metrics.Posts.WithLabelValues("twitter", "success").Inc()
	return "success"
}

// postFailure records the failure and returns the verdict string for the
// results map. The full error goes to the log only; callers of the post
// endpoint see a fixed phrase per error class.
func (s *Share) postFailure(ctx context.Context, target string, userID uuid.UUID, err error) string {
	metrics.Posts.WithLabelValues(target, "error").Inc()
	s.logger.WarnContext(ctx, "share delivery failed",
		slog.String("target", target),
		slog.String("user_id", userID.String()),
		slog.Any("error", err))
	switch {
	case errors.Is(err, domain.ErrNotConnected):
		return "not connected"
	case errors.Is(err, domain.ErrProviderRejected):
		return "error: provider rejected the post"
	default:
		return "error: internal failure"
	}
}

func formatShareText(p *provider.NowPlaying) string {
	if p.Episode {
		return fmt.Sprintf("%s / %s\n#NowPlaying\n%s", p.Title, p.Artist, p.URL)
	}
	return fmt.Sprintf("%s / %s\n#NowPlaying #PsrPlaying\n%s", p.Title, p.Artist, p.URL)
}
