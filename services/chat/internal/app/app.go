package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"roomchat/internal/usertoken"
	"roomchat/internal/util"
	"roomchat/pkg/domain"
	"roomchat/pkg/store"
)

const (
	defaultMaxMessageLength = 2000
	fallbackTimeout         = 5 * time.Second
)

// Limiter admits or denies one request for an identity.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// MessageCache is the fast read path in front of the message store.
type MessageCache interface {
	Put(ctx context.Context, msg domain.Message) error
	Recent(ctx context.Context, ts, now int64) ([]domain.Message, int, error)
	Remove(ctx context.Context, id int64) error
	Warm(ctx context.Context, msgs []domain.Message) error
}

// Config holds the collaborators of the core application.
type Config struct {
	Messages         store.MessageStore
	Users            store.UserStore
	Cache            MessageCache
	Limiter          Limiter
	Tokens           *usertoken.Manager
	Revoker          store.TokenRevoker
	MaxMessageLength int
}

// App implements the chat room operations and account management.
type App struct {
	messages  store.MessageStore
	users     store.UserStore
	cache     MessageCache
	limiter   Limiter
	tokens    *usertoken.Manager
	revoker   store.TokenRevoker
	maxLength int
	now       func() time.Time

	fallback singleflight.Group

	// uncached tracks sends whose cache write failed; reads reaching back
	// before since go to the store until a warm-up covers them.
	uncachedMu sync.Mutex
	uncached   struct {
		since int64
		gen   uint64
	}
}

// New validates cfg and constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Messages == nil {
		return nil, errors.New("message store required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("message cache required")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("rate limiter required")
	}
	maxLength := cfg.MaxMessageLength
	if maxLength <= 0 {
		maxLength = defaultMaxMessageLength
	}
	revoker := cfg.Revoker
	if revoker == nil {
		revoker = store.NewMemoryTokenRevoker()
	}
	return &App{
		messages:  cfg.Messages,
		users:     cfg.Users,
		cache:     cfg.Cache,
		limiter:   cfg.Limiter,
		tokens:    cfg.Tokens,
		revoker:   revoker,
		maxLength: maxLength,
		now:       time.Now,
	}, nil
}

// JoinRoom greets the caller.
func (a *App) JoinRoom(ctx context.Context, id domain.Identity) Result {
	if strings.TrimSpace(id.Username) == "" {
		return invalid(msgNoIdentity)
	}
	if !a.limiter.Allow(ctx, id.Username) {
		return rateLimited()
	}
	return Result{Outcome: OK, Text: fmt.Sprintf("Welcome %s, joined the chat room.", id.Username)}
}

// SendMessage persists body as a message by the caller and mirrors it into the cache.
func (a *App) SendMessage(ctx context.Context, id domain.Identity, body string) Result {
	if strings.TrimSpace(id.Username) == "" {
		return invalid(msgNoIdentity)
	}
	if !a.limiter.Allow(ctx, id.Username) {
		return rateLimited()
	}
	if strings.TrimSpace(body) == "" {
		return invalid("Message must not be empty")
	}
	if utf8.RuneCountInString(body) > a.maxLength {
		return invalid(fmt.Sprintf("Message must be at most %d characters", a.maxLength))
	}
	saved, err := a.messages.SaveMessage(ctx, domain.Message{
		Author:    id.Username,
		Body:      body,
		CreatedAt: a.now().UnixMilli(),
	})
	if err != nil {
		return a.fail(ctx, "send", err)
	}
	if err := a.cache.Put(ctx, saved); err != nil {
		util.LoggerFromContext(ctx).Warn("cache put failed", "message_id", saved.ID, "err", err)
		a.markUncached(saved.CreatedAt)
	}
	return Result{Outcome: OK, Text: "Message sent!", Message: &saved}
}

// GetMessagesSince returns messages created after ts, oldest first.
func (a *App) GetMessagesSince(ctx context.Context, id domain.Identity, ts int64) Result {
	if strings.TrimSpace(id.Username) == "" {
		return Result{Outcome: Invalid, Text: msgNoIdentity, Messages: []domain.Message{}}
	}
	if !a.limiter.Allow(ctx, id.Username) {
		res := rateLimited()
		res.Messages = []domain.Message{}
		return res
	}
	if since := a.uncachedSince(); since == 0 || ts >= since {
		cached, missing, err := a.cache.Recent(ctx, ts, a.now().UnixMilli())
		switch {
		case err != nil:
			util.LoggerFromContext(ctx).Warn("cache read failed, using store", "since", ts, "err", err)
		case missing > 0:
			util.LoggerFromContext(ctx).Warn("cache incomplete, using store", "since", ts, "missing", missing)
		case len(cached) > 0:
			return Result{Outcome: OK, Messages: cached}
		}
	}

	v, err, _ := a.fallback.Do(strconv.FormatInt(ts, 10), func() (any, error) {
		return a.loadSince(ctx, ts)
	})
	if err != nil {
		res := a.fail(ctx, "receive", err)
		res.Messages = []domain.Message{}
		return res
	}
	msgs := v.([]domain.Message)
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return Result{Outcome: OK, Messages: msgs}
}

// loadSince reads from the store and re-caches what it finds. It is shared by
// concurrent readers, so it runs detached from the caller's cancellation.
func (a *App) loadSince(ctx context.Context, ts int64) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackTimeout)
	defer cancel()
	a.uncachedMu.Lock()
	since, gen := a.uncached.since, a.uncached.gen
	a.uncachedMu.Unlock()

	msgs, err := a.messages.FindMessagesSince(ctx, ts)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		if err := a.cache.Warm(ctx, msgs); err != nil {
			util.LoggerFromContext(ctx).Warn("cache warm-up failed", "count", len(msgs), "err", err)
			return msgs, nil
		}
	}
	if since != 0 && ts < since {
		a.clearUncached(gen)
	}
	return msgs, nil
}

func (a *App) markUncached(createdAt int64) {
	a.uncachedMu.Lock()
	defer a.uncachedMu.Unlock()
	if a.uncached.since == 0 || createdAt < a.uncached.since {
		a.uncached.since = createdAt
	}
	a.uncached.gen++
}

func (a *App) uncachedSince() int64 {
	a.uncachedMu.Lock()
	defer a.uncachedMu.Unlock()
	return a.uncached.since
}

// clearUncached drops the marker unless another cache write failed since gen.
func (a *App) clearUncached(gen uint64) {
	a.uncachedMu.Lock()
	defer a.uncachedMu.Unlock()
	if a.uncached.gen == gen {
		a.uncached.since = 0
	}
}

// DeleteMessage removes a message. Only its author may do so.
func (a *App) DeleteMessage(ctx context.Context, id domain.Identity, messageID int64) Result {
	if strings.TrimSpace(id.Username) == "" {
		return invalid(msgNoIdentity)
	}
	if !a.limiter.Allow(ctx, id.Username) {
		return rateLimited()
	}
	msg, ok, err := a.messages.GetMessage(ctx, messageID)
	if err != nil {
		return a.fail(ctx, "delete", err)
	}
	if !ok {
		return Result{Outcome: NotFound, Text: msgNotFound}
	}
	if msg.Author != id.Username {
		return Result{Outcome: Forbidden, Text: msgForbidden}
	}
	if err := a.cache.Remove(ctx, messageID); err != nil {
		return a.fail(ctx, "delete", err)
	}
	if err := a.messages.DeleteMessage(ctx, messageID); err != nil {
		return a.fail(ctx, "delete", err)
	}
	return Result{Outcome: OK, Text: "Successfully deleted the message"}
}

func (a *App) fail(ctx context.Context, op string, err error) Result {
	util.LoggerFromContext(ctx).Error("chat operation failed", "op", op, "err", err)
	return transient(err)
}
