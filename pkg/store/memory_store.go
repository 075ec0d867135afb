package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"roomchat/pkg/domain"
)

// MemoryStore keeps messages and users in process memory. It is not durable.
type MemoryStore struct {
	mu       sync.RWMutex
	nextMsg  int64
	nextUser int64
	messages map[int64]domain.Message
	users    map[string]domain.User
	now      func() time.Time
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[int64]domain.Message),
		users:    make(map[string]domain.User),
		now:      time.Now,
	}
}

func (s *MemoryStore) SaveMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsg++
	msg.ID = s.nextMsg
	if msg.CreatedAt == 0 {
		msg.CreatedAt = s.now().UnixMilli()
	}
	s.messages[msg.ID] = msg
	return msg, nil
}

func (s *MemoryStore) FindMessagesSince(_ context.Context, ts int64) ([]domain.Message, error) {
	s.mu.RLock()
	out := make([]domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.CreatedAt > ts {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) MessageExists(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[id]
	return ok, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id int64) (domain.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok, nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id int64) error {
	s.mu.Lock()
	delete(s.messages, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SaveUser(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return domain.User{}, ErrDuplicateUser
	}
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return domain.User{}, ErrDuplicateUser
		}
	}
	s.nextUser++
	u.ID = s.nextUser
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	s.users[u.Username] = u
	return u, nil
}

func (s *MemoryStore) ExistsByUsername(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok, nil
}

func (s *MemoryStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	return u, ok, nil
}
