package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"studiumai/pkg/domain"
)

const migrateLockID int64 = 51820417

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&UserModel{}, &NotebookModel{}, &SourceModel{}, &ConversationModel{}, &MessageModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := tx.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public' AND constraint_name = 'notebook_models_user_id_fkey'
			) THEN
				ALTER TABLE notebook_models
				ADD CONSTRAINT notebook_models_user_id_fkey
				FOREIGN KEY (user_id) REFERENCES user_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public' AND constraint_name = 'source_models_notebook_id_fkey'
			) THEN
				ALTER TABLE source_models
				ADD CONSTRAINT source_models_notebook_id_fkey
				FOREIGN KEY (notebook_id) REFERENCES notebook_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public' AND constraint_name = 'conversation_models_notebook_id_fkey'
			) THEN
				ALTER TABLE conversation_models
				ADD CONSTRAINT conversation_models_notebook_id_fkey
				FOREIGN KEY (notebook_id) REFERENCES notebook_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public' AND constraint_name = 'message_models_conversation_id_fkey'
			) THEN
				ALTER TABLE message_models
				ADD CONSTRAINT message_models_conversation_id_fkey
				FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure foreign keys: %w", err)
	}
	return nil
}

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

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a user; a taken email yields ErrDuplicate.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SetResetToken overwrites any previous reset token of the user.
func (s *GormStore) SetResetToken(ctx context.Context, userID, token string, expiry time.Time) error {
	return s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"reset_token":        token,
			"reset_token_expiry": expiry.UTC(),
			"updated_at":         time.Now().UTC(),
		}).Error
}

// ResetPassword is a single conditional UPDATE; zero affected rows means the
// token is unknown, expired or already consumed.
func (s *GormStore) ResetPassword(ctx context.Context, token, passwordHash string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("reset_token = ? AND reset_token_expiry > ?", token, now.UTC()).
		Updates(map[string]any{
			"password_hash":      passwordHash,
			"reset_token":        nil,
			"reset_token_expiry": nil,
			"updated_at":         now.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteUser removes a user; notebooks and everything below cascade.
func (s *GormStore) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&UserModel{}, "id = ?", id).Error
}

func (s *GormStore) CreateNotebook(ctx context.Context, nb domain.Notebook) error {
	model := notebookToModel(nb)
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) GetNotebook(ctx context.Context, id string) (domain.Notebook, bool, error) {
	var model NotebookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Notebook{}, false, nil
		}
		return domain.Notebook{}, false, err
	}
	return notebookFromModel(model), true, nil
}

// ListNotebooks returns the user's notebooks, most recently updated first.
func (s *GormStore) ListNotebooks(ctx context.Context, userID string) ([]domain.Notebook, error) {
	var models []NotebookModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Notebook, 0, len(models))
	for _, m := range models {
		res = append(res, notebookFromModel(m))
	}
	return res, nil
}

func (s *GormStore) UpdateNotebook(ctx context.Context, nb domain.Notebook) error {
	return s.db.WithContext(ctx).Model(&NotebookModel{}).
		Where("id = ?", nb.ID).
		Updates(map[string]any{
			"title":      nb.Title,
			"content":    nb.Content,
			"updated_at": nb.UpdatedAt.UTC(),
		}).Error
}

// DeleteNotebook removes the notebook; sources, conversations and messages cascade.
func (s *GormStore) DeleteNotebook(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&NotebookModel{}, "id = ?", id).Error
}

func (s *GormStore) CreateSource(ctx context.Context, src domain.Source) error {
	model := sourceToModel(src)
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) GetSource(ctx context.Context, id string) (domain.Source, bool, error) {
	var model SourceModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Source{}, false, nil
		}
		return domain.Source{}, false, err
	}
	return sourceFromModel(model), true, nil
}

// ListSources returns a notebook's sources, newest upload first.
func (s *GormStore) ListSources(ctx context.Context, notebookID string) ([]domain.Source, error) {
	var models []SourceModel
	if err := s.db.WithContext(ctx).Where("notebook_id = ?", notebookID).Order("uploaded_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Source, 0, len(models))
	for _, m := range models {
		res = append(res, sourceFromModel(m))
	}
	return res, nil
}

func (s *GormStore) DeleteSource(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&SourceModel{}, "id = ?", id).Error
}

func (s *GormStore) CreateConversation(ctx context.Context, c domain.Conversation) error {
	model := conversationToModel(c)
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversations returns conversations by updated_at desc with their latest message.
func (s *GormStore) ListConversations(ctx context.Context, notebookID string) ([]domain.Conversation, error) {
	db := s.db.WithContext(ctx)
	var models []ConversationModel
	if err := db.Where("notebook_id = ?", notebookID).Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return []domain.Conversation{}, nil
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	var latest []MessageModel
	if err := db.Raw(`
		SELECT DISTINCT ON (conversation_id) *
		FROM message_models
		WHERE conversation_id IN ?
		ORDER BY conversation_id, created_at DESC
	`, ids).Scan(&latest).Error; err != nil {
		return nil, fmt.Errorf("load latest messages: %w", err)
	}
	byConversation := make(map[string]domain.Message, len(latest))
	for _, m := range latest {
		byConversation[m.ConversationID] = messageFromModel(m)
	}
	res := make([]domain.Conversation, 0, len(models))
	for _, m := range models {
		c := conversationFromModel(m)
		if msg, ok := byConversation[c.ID]; ok {
			c.Messages = []domain.Message{msg}
		}
		res = append(res, c)
	}
	return res, nil
}

func (s *GormStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&ConversationModel{}).
		Where("id = ?", id).
		Update("updated_at", at.UTC()).Error
}

// DeleteConversation removes the conversation; messages cascade.
func (s *GormStore) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&ConversationModel{}, "id = ?", id).Error
}

func (s *GormStore) AppendMessage(ctx context.Context, msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListMessages returns a conversation's messages oldest first.
func (s *GormStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}
