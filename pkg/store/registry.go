package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/types"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Registry stores collections, chats and conversation memory in a SQL
// database. It implements types.Registry.
type Registry struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

var _ types.Registry = (*Registry)(nil)

func newRegistry(ctx context.Context, db *sql.DB, d dialect) (*Registry, error) {
	r := &Registry{
		db:      db,
		dialect: d,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := r.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate registry: %w", err)
	}
	return r, nil
}

func (r *Registry) migrate(ctx context.Context) error {
	id, ts := "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP"
	if r.dialect == dialectPostgres {
		id, ts = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS collections (
			id %s,
			user_id BIGINT NOT NULL,
			filename TEXT NOT NULL,
			stored_path TEXT NOT NULL,
			processing_status TEXT NOT NULL DEFAULT 'pending',
			created_at %s NOT NULL
		)`, id, ts),
		`CREATE INDEX IF NOT EXISTS collections_user_idx ON collections (user_id, filename)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chats (
			id %s,
			user_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			collection_id BIGINT REFERENCES collections(id) ON DELETE SET NULL,
			mode TEXT NOT NULL DEFAULT 'discrete',
			created_at %s NOT NULL
		)`, id, ts),
		`CREATE INDEX IF NOT EXISTS chats_collection_idx ON chats (collection_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id %s,
			user_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at %s NOT NULL
		)`, id, ts),
		`CREATE INDEX IF NOT EXISTS memories_chat_idx ON memories (chat_id, id)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (r *Registry) rebind(query string) string {
	if r.dialect != dialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

func (r *Registry) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, r.rebind(query), args...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Collections

const collectionColumns = `id, user_id, filename, stored_path, processing_status, created_at`

func scanCollection(row interface{ Scan(...any) error }) (*models.Collection, error) {
	var c models.Collection
	var created sqlTime
	if err := row.Scan(&c.ID, &c.UserID, &c.Filename, &c.StoredPath, &c.Status, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = created.Time
	return &c, nil
}

func (r *Registry) CreateCollection(ctx context.Context, userID int64, filename, storedPath string) (*models.Collection, error) {
	c := &models.Collection{
		UserID:     userID,
		Filename:   filename,
		StoredPath: storedPath,
		Status:     models.StatusPending,
		CreatedAt:  r.now(),
	}
	err := r.db.QueryRowContext(ctx, r.rebind(`
		INSERT INTO collections (user_id, filename, stored_path, processing_status, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		c.UserID, c.Filename, c.StoredPath, string(c.Status), c.CreatedAt).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return c, nil
}

func (r *Registry) SetCollectionStatus(ctx context.Context, id int64, status models.CollectionStatus) error {
	res, err := r.exec(ctx, r.db, `UPDATE collections SET processing_status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update collection status: %w", err)
	}
	return requireAffected(res)
}

func (r *Registry) GetCollection(ctx context.Context, userID, id int64) (*models.Collection, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+collectionColumns+` FROM collections WHERE id = ? AND user_id = ?`), id, userID)
	return scanCollection(row)
}

// FindCollection returns the newest collection of userID with filename.
func (r *Registry) FindCollection(ctx context.Context, userID int64, filename string) (*models.Collection, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT `+collectionColumns+` FROM collections
		WHERE user_id = ? AND filename = ?
		ORDER BY id DESC LIMIT 1`), userID, filename)
	return scanCollection(row)
}

func (r *Registry) ListCollections(ctx context.Context, userID int64) ([]models.Collection, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT `+collectionColumns+` FROM collections
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	collections := []models.Collection{}
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		collections = append(collections, *c)
	}
	return collections, rows.Err()
}

// DeleteCollection removes the row and detaches any chats that used it.
func (r *Registry) DeleteCollection(ctx context.Context, userID, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := r.exec(ctx, tx, `UPDATE chats SET collection_id = NULL WHERE collection_id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("failed to detach chats: %w", err)
	}
	res, err := r.exec(ctx, tx, `DELETE FROM collections WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

// Chats

const chatColumns = `id, user_id, name, collection_id, mode, created_at`

func scanChat(row interface{ Scan(...any) error }) (*models.Chat, error) {
	var c models.Chat
	var collectionID sql.NullInt64
	var created sqlTime
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &collectionID, &c.Mode, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	if collectionID.Valid {
		id := collectionID.Int64
		c.CollectionID = &id
	}
	c.CreatedAt = created.Time
	return &c, nil
}

func (r *Registry) CreateChat(ctx context.Context, userID int64, name string, collectionID *int64, mode models.Mode) (*models.Chat, error) {
	if name == "" {
		name = "New Chat"
	}
	if mode == "" {
		mode = models.ModeDiscrete
	}
	c := &models.Chat{
		UserID:       userID,
		Name:         name,
		CollectionID: collectionID,
		Mode:         mode,
		CreatedAt:    r.now(),
	}

	var colID sql.NullInt64
	if collectionID != nil {
		colID = sql.NullInt64{Int64: *collectionID, Valid: true}
	}
	err := r.db.QueryRowContext(ctx, r.rebind(`
		INSERT INTO chats (user_id, name, collection_id, mode, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		c.UserID, c.Name, colID, string(c.Mode), c.CreatedAt).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return c, nil
}

func (r *Registry) GetChat(ctx context.Context, userID, id int64) (*models.Chat, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+chatColumns+` FROM chats WHERE id = ? AND user_id = ?`), id, userID)
	return scanChat(row)
}

func (r *Registry) ListChats(ctx context.Context, userID int64) ([]models.Chat, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT `+chatColumns+` FROM chats
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := []models.Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

func (r *Registry) LatestChatForCollection(ctx context.Context, collectionID int64) (*models.Chat, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT `+chatColumns+` FROM chats
		WHERE collection_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`), collectionID)
	return scanChat(row)
}

// DeleteChat removes the chat and its memories.
func (r *Registry) DeleteChat(ctx context.Context, userID, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := r.exec(ctx, tx, `DELETE FROM memories WHERE chat_id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("failed to delete memories: %w", err)
	}
	res, err := r.exec(ctx, tx, `DELETE FROM chats WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

// Memory

func (r *Registry) AppendTurn(ctx context.Context, userID, chatID int64, role models.Role, content string) error {
	_, err := r.exec(ctx, r.db, `
		INSERT INTO memories (user_id, chat_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, chatID, string(role), content, r.now())
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// RecentTurns returns the last limit turns of a chat, oldest first.
func (r *Registry) RecentTurns(ctx context.Context, userID, chatID int64, limit int) ([]models.ConversationTurn, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT role, content, created_at FROM memories
		WHERE user_id = ? AND chat_id = ?
		ORDER BY id DESC LIMIT ?`), userID, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	defer rows.Close()

	turns := []models.ConversationTurn{}
	for rows.Next() {
		var t models.ConversationTurn
		var created sqlTime
		if err := rows.Scan(&t.Role, &t.Content, &created); err != nil {
			return nil, err
		}
		t.CreatedAt = created.Time
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// sqlTime scans timestamps from drivers that return either time.Time or text.
type sqlTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v
		return nil
	case nil:
		t.Time = time.Time{}
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	case int64:
		t.Time = time.Unix(v, 0).UTC()
		return nil
	}
	return fmt.Errorf("cannot scan %T into timestamp", src)
}

func (t *sqlTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}
