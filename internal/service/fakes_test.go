package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sumire/nowplaying/internal/domain"
	"github.com/sumire/nowplaying/internal/provider"
)

type linkKey struct {
	userID uuid.UUID
	kind   domain.Provider
}

type fakeLinkStore struct {
	mu    sync.Mutex
	rows  map[linkKey]domain.ProviderLink
	now   func() time.Time
	fails map[string]error
}

func newFakeLinkStore() *fakeLinkStore {
	return &fakeLinkStore{
		rows:  make(map[linkKey]domain.ProviderLink),
		now:   time.Now,
		fails: make(map[string]error),
	}
}

func (s *fakeLinkStore) Find(_ context.Context, userID uuid.UUID, kind domain.Provider) (*domain.ProviderLink, error) {
	if err := s.fails["find"]; err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[linkKey{userID, kind}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := row
	return &out, nil
}

func (s *fakeLinkStore) FindAll(_ context.Context, userID uuid.UUID) ([]domain.ProviderLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ProviderLink
	for k, row := range s.rows {
		if k.userID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeLinkStore) Upsert(_ context.Context, link domain.ProviderLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.rows[linkKey{link.UserID, link.Provider}]; ok {
		link.CreatedAt = existing.CreatedAt
	} else {
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	s.rows[linkKey{link.UserID, link.Provider}] = link
	return nil
}

func (s *fakeLinkStore) Delete(_ context.Context, userID uuid.UUID, kind domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey{userID, kind}
	if _, ok := s.rows[key]; !ok {
		return domain.ErrNotFound
	}
	delete(s.rows, key)
	return nil
}

func (s *fakeLinkStore) UpdateCredential(_ context.Context, userID uuid.UUID, kind domain.Provider, seenUpdatedAt time.Time, cred domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey{userID, kind}
	row, ok := s.rows[key]
	if !ok || !row.UpdatedAt.Equal(seenUpdatedAt) {
		return domain.ErrNotFound
	}
	row.AccessToken = cred.AccessToken
	if cred.RefreshToken != "" {
		rt := cred.RefreshToken
		row.RefreshToken = &rt
	}
	if cred.Expiring() {
		exp := cred.ExpiresAt
		row.ExpiresAt = &exp
	} else {
		row.ExpiresAt = nil
	}
	row.UpdatedAt = s.now()
	s.rows[key] = row
	return nil
}

type fakeUserStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]domain.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byID: make(map[uuid.UUID]domain.User)}
}

func (s *fakeUserStore) FindByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := user
	return &out, nil
}

func (s *fakeUserStore) FindByURLToken(_ context.Context, token uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.byID {
		if user.URLToken == token {
			out := user
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeUserStore) Upsert(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.byID {
		if existing.SpotifyUserID == user.SpotifyUserID {
			existing.DisplayName = user.DisplayName
			existing.AvatarURL = user.AvatarURL
			s.byID[id] = existing
			out := existing
			return &out, nil
		}
	}
	user.ID = uuid.New()
	user.URLToken = uuid.New()
	user.CreatedAt = time.Now()
	s.byID[user.ID] = user
	out := user
	return &out, nil
}

func (s *fakeUserStore) RotateURLToken(_ context.Context, userID uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return uuid.Nil, domain.ErrNotFound
	}
	user.URLToken = uuid.New()
	s.byID[userID] = user
	return user.URLToken, nil
}

func (s *fakeUserStore) SetHeaderToken(_ context.Context, userID uuid.UUID, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return domain.ErrNotFound
	}
	user.HeaderTokenHash = &tokenHash
	user.HeaderTokenEnabled = true
	s.byID[userID] = user
	return nil
}

func (s *fakeUserStore) DisableHeaderToken(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return domain.ErrNotFound
	}
	user.HeaderTokenHash = nil
	user.HeaderTokenEnabled = false
	s.byID[userID] = user
	return nil
}

type fakeSessionStore struct {
	mu   sync.Mutex
	rows map[string]domain.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{rows: make(map[string]domain.Session)}
}

func (s *fakeSessionStore) Create(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[session.TokenHash] = session
	return nil
}

func (s *fakeSessionStore) FindByHash(_ context.Context, tokenHash string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.rows[tokenHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := session
	return &out, nil
}

func (s *fakeSessionStore) Delete(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, tokenHash)
	return nil
}

func (s *fakeSessionStore) DeleteExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, session := range s.rows {
		if !time.Now().Before(session.ExpiresAt) {
			delete(s.rows, hash)
		}
	}
	return nil
}

type fakeAttemptStore struct {
	mu   sync.Mutex
	rows map[string]domain.LinkingAttempt
	now  func() time.Time
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{
		rows: make(map[string]domain.LinkingAttempt),
		now:  time.Now,
	}
}

func (s *fakeAttemptStore) Create(_ context.Context, attempt domain.LinkingAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[attempt.State] = attempt
	return nil
}

func (s *fakeAttemptStore) Consume(_ context.Context, state string) (*domain.LinkingAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.rows[state]
	if !ok {
		return nil, domain.ErrHandshakeExpired
	}
	delete(s.rows, state)
	if attempt.Expired(s.now()) {
		return nil, domain.ErrHandshakeExpired
	}
	return &attempt, nil
}

func (s *fakeAttemptStore) DeleteExpired(_ context.Context) error {
	return nil
}

// fakeAdapter implements provider.Adapter with overridable behavior.
type fakeAdapter struct {
	kind      domain.Provider
	begin     func(p provider.BeginParams) (string, domain.LinkingAttempt, error)
	complete  func(cb provider.Callback, attempt domain.LinkingAttempt) (domain.Credential, error)
	refresh   func(link *domain.ProviderLink) (domain.Credential, error)
	identify  func(cred domain.Credential, instanceHost string) (domain.Identity, error)
	refreshes int
}

func (f *fakeAdapter) Kind() domain.Provider { return f.kind }

func (f *fakeAdapter) BeginHandshake(_ context.Context, p provider.BeginParams) (string, domain.LinkingAttempt, error) {
	if f.begin == nil {
		return "", domain.LinkingAttempt{}, fmt.Errorf("begin not stubbed for %s", f.kind)
	}
	return f.begin(p)
}

func (f *fakeAdapter) CompleteHandshake(_ context.Context, cb provider.Callback, attempt domain.LinkingAttempt) (domain.Credential, error) {
	if f.complete == nil {
		return domain.Credential{}, fmt.Errorf("complete not stubbed for %s", f.kind)
	}
	return f.complete(cb, attempt)
}

func (f *fakeAdapter) Refresh(_ context.Context, link *domain.ProviderLink) (domain.Credential, error) {
	f.refreshes++
	if f.refresh == nil {
		return domain.Credential{}, fmt.Errorf("refresh not stubbed for %s", f.kind)
	}
	return f.refresh(link)
}

func (f *fakeAdapter) Identify(_ context.Context, cred domain.Credential, instanceHost string) (domain.Identity, error) {
	if f.identify == nil {
		return domain.Identity{}, fmt.Errorf("identify not stubbed for %s", f.kind)
	}
	return f.identify(cred, instanceHost)
}
