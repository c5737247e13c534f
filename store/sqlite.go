package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/metra-ai/metra-server/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys so conversation deletes cascade to messages
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			full_name TEXT,
			hashed_password TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_login_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT,
			is_completed INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, created_at)`,
		// seq preserves append order even when created_at collides within
		// one clock tick; it is the canonical message ordering.
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq)`,
		`CREATE TABLE IF NOT EXISTS task_definitions (
			task_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			json_schema TEXT NOT NULL,
			recommended_models TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id),
			FOREIGN KEY (user_id) REFERENCES users(user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_definitions_user ON task_definitions(user_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateUser inserts a new user. Returns domain.ErrConflict when the
// email is already registered.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, email, full_name, hashed_password, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.UserID, user.Email, user.FullName, user.HashedPassword, user.IsActive, user.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT user_id, email, full_name, hashed_password, is_active, created_at, last_login_at FROM users WHERE user_id = ?`,
		userID))
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT user_id, email, full_name, hashed_password, is_active, created_at, last_login_at FROM users WHERE email = ?`,
		email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var fullName sql.NullString
	var lastLogin sql.NullTime
	err := row.Scan(&user.UserID, &user.Email, &fullName, &user.HashedPassword, &user.IsActive, &user.CreatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.FullName = fullName.String
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Time
	}
	return &user, nil
}

// UpdateLastLogin records a successful login.
func (s *SQLiteStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE user_id = ?`, at, userID)
	return err
}

// CreateConversation creates a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, user_id, title, is_completed, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ConversationID, conv.UserID, conv.Title, conv.IsCompleted, conv.CreatedAt, conv.UpdatedAt)
	return err
}

// GetConversation retrieves a conversation owned by userID.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, user_id, title, is_completed, created_at, updated_at
		 FROM conversations WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID).
		Scan(&conv.ConversationID, &conv.UserID, &title, &conv.IsCompleted, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	conv.Title = title.String
	return &conv, nil
}

// ListConversations lists a user's conversations, newest first, with
// per-conversation message counts.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, limit, offset int) ([]domain.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.conversation_id, c.title, c.is_completed, c.created_at, COUNT(m.seq)
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.conversation_id
		 WHERE c.user_id = ?
		 GROUP BY c.conversation_id
		 ORDER BY c.created_at DESC
		 LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []domain.ConversationSummary
	for rows.Next() {
		var sum domain.ConversationSummary
		var title sql.NullString
		if err := rows.Scan(&sum.ConversationID, &title, &sum.IsCompleted, &sum.CreatedAt, &sum.MessageCount); err != nil {
			return nil, err
		}
		sum.Title = title.String
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// UpdateConversation patches title and/or is_completed. The completed
// flag is monotonic: once set it cannot be cleared.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, conversationID, userID string, upd domain.UpdateConversationRequest) (*domain.Conversation, error) {
	now := time.Now().UTC()
	if upd.Title != nil {
		res, err := s.db.ExecContext(ctx,
			`UPDATE conversations SET title = ?, updated_at = ? WHERE conversation_id = ? AND user_id = ?`,
			*upd.Title, now, conversationID, userID)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, domain.ErrNotFound
		}
	}
	if upd.IsCompleted != nil && *upd.IsCompleted {
		res, err := s.db.ExecContext(ctx,
			`UPDATE conversations SET is_completed = 1, updated_at = ? WHERE conversation_id = ? AND user_id = ?`,
			now, conversationID, userID)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, domain.ErrNotFound
		}
	}

	conv, err := s.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, domain.ErrNotFound
	}
	return conv, nil
}

// DeleteConversation deletes a conversation and, via the foreign key
// cascade, its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateMessage appends a message to a conversation.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.MessageID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt)
	return err
}

// ListMessages returns every message of a conversation in append order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY seq ASC`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.MessageID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// LatestAssistantMessage returns the most recent assistant message of a
// conversation, or (nil, nil) when there is none.
func (s *SQLiteStore) LatestAssistantMessage(ctx context.Context, conversationID string) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ? AND role = ? ORDER BY seq DESC LIMIT 1`,
		conversationID, domain.RoleAssistant).
		Scan(&msg.MessageID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// FinishTurn commits the assistant message and the conversation-state
// transition in one transaction, so a crash can never leave a completed
// flag without its closing message or vice versa.
func (s *SQLiteStore) FinishTurn(ctx context.Context, msg *domain.Message, completed bool, title string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.MessageID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert assistant message: %w", err)
	}

	now := time.Now().UTC()
	switch {
	case completed && title != "":
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET is_completed = 1, title = ?, updated_at = ? WHERE conversation_id = ?`,
			title, now, msg.ConversationID)
	case completed:
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET is_completed = 1, updated_at = ? WHERE conversation_id = ?`,
			now, msg.ConversationID)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE conversation_id = ?`,
			now, msg.ConversationID)
	}
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	return tx.Commit()
}

// CreateTaskDefinition inserts a task definition and marks its
// conversation completed in one transaction. Returns domain.ErrConflict
// when the conversation already has one.
func (s *SQLiteStore) CreateTaskDefinition(ctx context.Context, task *domain.TaskDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_definitions (task_id, conversation_id, user_id, name, description, json_schema, recommended_models, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, task.ConversationID, task.UserID, task.Name, task.Description,
		string(task.Schema), nullableJSON(task.RecommendedModels), task.CreatedAt, task.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert task definition: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET is_completed = 1, updated_at = ? WHERE conversation_id = ?`,
		time.Now().UTC(), task.ConversationID); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	return tx.Commit()
}

// GetTaskDefinition retrieves a task definition owned by userID.
func (s *SQLiteStore) GetTaskDefinition(ctx context.Context, taskID, userID string) (*domain.TaskDefinition, error) {
	return scanTaskDefinition(s.db.QueryRowContext(ctx,
		`SELECT task_id, conversation_id, user_id, name, description, json_schema, recommended_models, created_at, updated_at
		 FROM task_definitions WHERE task_id = ? AND user_id = ?`,
		taskID, userID))
}

// ListTaskDefinitions lists a user's task definitions, newest first.
func (s *SQLiteStore) ListTaskDefinitions(ctx context.Context, userID string, limit, offset int) ([]domain.TaskDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, conversation_id, user_id, name, description, json_schema, recommended_models, created_at, updated_at
		 FROM task_definitions WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.TaskDefinition
	for rows.Next() {
		task, err := scanTaskDefinitionRow(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// DeleteTaskDefinition deletes a task definition owned by userID.
func (s *SQLiteStore) DeleteTaskDefinition(ctx context.Context, taskID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM task_definitions WHERE task_id = ? AND user_id = ?`,
		taskID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTaskDefinition(row *sql.Row) (*domain.TaskDefinition, error) {
	task, err := scanTaskDefinitionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

func scanTaskDefinitionRow(row rowScanner) (*domain.TaskDefinition, error) {
	var task domain.TaskDefinition
	var description, schema sql.NullString
	var recommended sql.NullString
	err := row.Scan(&task.TaskID, &task.ConversationID, &task.UserID, &task.Name,
		&description, &schema, &recommended, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	task.Description = description.String
	if schema.Valid {
		task.Schema = []byte(schema.String)
	}
	if recommended.Valid && recommended.String != "" {
		task.RecommendedModels = []byte(recommended.String)
	}
	return &task, nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
