package server

import (
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/axiom/internal/cache"
	"github.com/ppiankov/axiom/internal/model"
)

const sessionKeyPrefix = "session:"

// SessionStore keeps finished sessions in memory until their TTL expires
type SessionStore struct {
	mem *cache.MemoryCache
	ttl time.Duration
}

// NewSessionStore creates a store whose entries expire after ttl
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionStore{
		mem: cache.NewMemoryCache(ttl, ttl/2),
		ttl: ttl,
	}
}

// Put stores a session under its id
func (s *SessionStore) Put(session *model.VerificationSession) error {
	return cache.SetJSON(s.mem, sessionKeyPrefix+session.ID, session, s.ttl)
}

// Get returns a stored session
func (s *SessionStore) Get(id string) (*model.VerificationSession, bool) {
	var session model.VerificationSession
	if !cache.GetJSON(s.mem, sessionKeyPrefix+id, &session) {
		return nil, false
	}
	return &session, true
}

// SessionSummary is the list view of a stored session
type SessionSummary struct {
	ID            string        `json:"id"`
	Prompt        string        `json:"prompt"`
	Domain        string        `json:"domain"`
	OverallAction *model.Action `json:"overall_action"`
	ClaimsCount   int           `json:"claims_count"`
	CreatedAt     time.Time     `json:"created_at"`
}

// List returns summaries of all live sessions, newest first
func (s *SessionStore) List() []SessionSummary {
	out := []SessionSummary{}
	for _, key := range s.mem.Keys() {
		if !strings.HasPrefix(key, sessionKeyPrefix) {
			continue
		}
		session, ok := s.Get(strings.TrimPrefix(key, sessionKeyPrefix))
		if !ok {
			continue
		}
		out = append(out, SessionSummary{
			ID:            session.ID,
			Prompt:        truncate(session.Prompt, 100),
			Domain:        session.Domain,
			OverallAction: session.OverallAction,
			ClaimsCount:   len(session.Claims),
			CreatedAt:     session.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len reports the number of stored sessions
func (s *SessionStore) Len() int {
	return s.mem.Count()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
