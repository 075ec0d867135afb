package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"roomchat/pkg/domain"
)

type chatStore interface {
	MessageStore
	UserStore
}

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore("file:" + filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eachStore(t *testing.T, fn func(t *testing.T, s chatStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func TestSaveMessageAssignsIDAndTimestamp(t *testing.T) {
	eachStore(t, func(t *testing.T, s chatStore) {
		ctx := context.Background()
		first, err := s.SaveMessage(ctx, domain.Message{Author: "alice", Body: "hi"})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		second, err := s.SaveMessage(ctx, domain.Message{Author: "bob", Body: "yo", CreatedAt: 1000})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if first.ID == 0 || second.ID == 0 || first.ID == second.ID {
			t.Fatalf("expected distinct ids, got %d and %d", first.ID, second.ID)
		}
		if first.CreatedAt == 0 {
			t.Fatalf("expected created_at to be stamped")
		}
		if second.CreatedAt != 1000 {
			t.Fatalf("explicit created_at overwritten: %d", second.CreatedAt)
		}
	})
}

func TestFindMessagesSinceIsStrictAndOrdered(t *testing.T) {
	eachStore(t, func(t *testing.T, s chatStore) {
		ctx := context.Background()
		for _, m := range []domain.Message{
			{Author: "a", Body: "late", CreatedAt: 300},
			{Author: "a", Body: "boundary", CreatedAt: 100},
			{Author: "a", Body: "tie-1", CreatedAt: 200},
			{Author: "a", Body: "tie-2", CreatedAt: 200},
		} {
			if _, err := s.SaveMessage(ctx, m); err != nil {
				t.Fatalf("save: %v", err)
			}
		}
		got, err := s.FindMessagesSince(ctx, 100)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		want := []string{"tie-1", "tie-2", "late"}
		if len(got) != len(want) {
			t.Fatalf("got %d messages, want %d: %+v", len(got), len(want), got)
		}
		for i := range want {
			if got[i].Body != want[i] {
				t.Fatalf("position %d: got %q want %q", i, got[i].Body, want[i])
			}
		}
	})
}

func TestGetExistsAndDeleteMessage(t *testing.T) {
	eachStore(t, func(t *testing.T, s chatStore) {
		ctx := context.Background()
		saved, err := s.SaveMessage(ctx, domain.Message{Author: "alice", Body: "bye"})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		got, ok, err := s.GetMessage(ctx, saved.ID)
		if err != nil || !ok || got != saved {
			t.Fatalf("get = %+v ok=%v err=%v, want %+v", got, ok, err, saved)
		}
		if ok, err := s.MessageExists(ctx, saved.ID); err != nil || !ok {
			t.Fatalf("exists = %v err=%v", ok, err)
		}
		if err := s.DeleteMessage(ctx, saved.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.DeleteMessage(ctx, saved.ID); err != nil {
			t.Fatalf("second delete should be a no-op: %v", err)
		}
		if ok, err := s.MessageExists(ctx, saved.ID); err != nil || ok {
			t.Fatalf("exists after delete = %v err=%v", ok, err)
		}
		if _, ok, err := s.GetMessage(ctx, 9999); err != nil || ok {
			t.Fatalf("missing id: ok=%v err=%v", ok, err)
		}
	})
}

func TestUsers(t *testing.T) {
	eachStore(t, func(t *testing.T, s chatStore) {
		ctx := context.Background()
		u, err := s.SaveUser(ctx, domain.User{
			Username:     "alice",
			Email:        "alice@example.com",
			PasswordHash: "hash",
			Roles:        []domain.Role{domain.RoleUser, domain.RoleModerator},
		})
		if err != nil {
			t.Fatalf("save user: %v", err)
		}
		if u.ID == 0 {
			t.Fatalf("expected user id")
		}
		if ok, _ := s.ExistsByUsername(ctx, "alice"); !ok {
			t.Fatalf("expected username to exist")
		}
		if ok, _ := s.ExistsByEmail(ctx, "alice@example.com"); !ok {
			t.Fatalf("expected email to exist")
		}
		if ok, _ := s.ExistsByUsername(ctx, "bob"); ok {
			t.Fatalf("bob should not exist")
		}
		got, ok, err := s.GetUserByUsername(ctx, "alice")
		if err != nil || !ok {
			t.Fatalf("get user ok=%v err=%v", ok, err)
		}
		if got.PasswordHash != "hash" || len(got.Roles) != 2 || got.Roles[1] != domain.RoleModerator {
			t.Fatalf("unexpected user %+v", got)
		}
		_, err = s.SaveUser(ctx, domain.User{Username: "alice", Email: "other@example.com", PasswordHash: "x", Roles: []domain.Role{domain.RoleUser}})
		if !errors.Is(err, ErrDuplicateUser) {
			t.Fatalf("expected duplicate user error, got %v", err)
		}
	})
}

func TestEmailMatchIsExact(t *testing.T) {
	eachStore(t, func(t *testing.T, s chatStore) {
		ctx := context.Background()
		if _, err := s.SaveUser(ctx, domain.User{Username: "alice", Email: "alice@example.com", PasswordHash: "x", Roles: []domain.Role{domain.RoleUser}}); err != nil {
			t.Fatalf("save user: %v", err)
		}
		if ok, _ := s.ExistsByEmail(ctx, "Alice@Example.com"); ok {
			t.Fatalf("email lookup should compare exactly")
		}
		if _, err := s.SaveUser(ctx, domain.User{Username: "alice2", Email: "ALICE@example.com", PasswordHash: "x", Roles: []domain.Role{domain.RoleUser}}); err != nil {
			t.Fatalf("differently cased email is a distinct value in the store: %v", err)
		}
	})
}

func TestMemoryStoreConcurrentSavesGetUniqueIDs(t *testing.T) {
	s := NewMemoryStore()
	const n = 64
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := s.SaveMessage(context.Background(), domain.Message{Author: "a", Body: "x"})
			if err != nil {
				t.Errorf("save: %v", err)
				return
			}
			ids <- m.ID
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[int64]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d ids, want %d", len(seen), n)
	}
}
