package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"roomchat/pkg/domain"
)

const migrateLockID int64 = 51405140

// GormStore implements MessageStore and UserStore on Postgres or SQLite.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore opens the DB and runs auto-migrations. DSNs starting with
// "sqlite:" or "file:" open SQLite; anything else is handed to Postgres.
func NewGormStore(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	dialector, isPostgres := openDialector(dsn)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if isPostgres {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db, now: time.Now}, nil
}

func openDialector(dsn string) (gorm.Dialector, bool) {
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite:")), false
	case strings.HasPrefix(dsn, "file:"):
		return sqlite.Open(dsn), false
	default:
		return postgres.Open(dsn), true
	}
}

// withMigrationLock serializes migrations across replicas with a Postgres advisory lock.
func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SaveMessage inserts msg; the database assigns the id.
func (s *GormStore) SaveMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if msg.CreatedAt == 0 {
		msg.CreatedAt = s.now().UnixMilli()
	}
	msg.ID = 0
	model := messageToModel(msg)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Message{}, fmt.Errorf("save message: %w", err)
	}
	return messageFromModel(model), nil
}

// FindMessagesSince returns messages newer than ts in display order.
func (s *GormStore) FindMessagesSince(ctx context.Context, ts int64) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.WithContext(ctx).
		Where("created_at > ?", ts).
		Order("created_at asc").Order("id asc").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("find messages since %d: %w", ts, err)
	}
	out := make([]domain.Message, 0, len(models))
	for _, m := range models {
		out = append(out, messageFromModel(m))
	}
	return out, nil
}

// MessageExists reports whether a message with id is stored.
func (s *GormStore) MessageExists(ctx context.Context, id int64) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&MessageModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count message %d: %w", id, err)
	}
	return count > 0, nil
}

// GetMessage fetches a message by id.
func (s *GormStore) GetMessage(ctx context.Context, id int64) (domain.Message, bool, error) {
	var model MessageModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("get message %d: %w", id, err)
	}
	return messageFromModel(model), true, nil
}

// DeleteMessage removes a message. Missing ids are not an error.
func (s *GormStore) DeleteMessage(ctx context.Context, id int64) error {
	if err := s.db.WithContext(ctx).Delete(&MessageModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	return nil
}

// SaveUser registers a new account.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) (domain.User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	model := userToModel(u)
	err := s.db.WithContext(ctx).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.User{}, ErrDuplicateUser
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return userFromModel(model), nil
}

func (s *GormStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return s.userExists(ctx, "username = ?", username)
}

func (s *GormStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.userExists(ctx, "email = ?", email)
}

func (s *GormStore) userExists(ctx context.Context, cond string, arg string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where(cond, arg).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// GetUserByUsername fetches an account by its login name.
func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	var model UserModel
	err := s.db.WithContext(ctx).First(&model, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("get user %q: %w", username, err)
	}
	return userFromModel(model), true, nil
}
