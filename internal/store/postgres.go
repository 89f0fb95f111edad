package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// conn returns the transaction bound to ctx by Atomic, or the pool.
func (s *PostgresStore) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// maxTxAttempts bounds how often Atomic re-runs fn after a serialization failure.
const maxTxAttempts = 5

// Atomic runs fn inside one serializable transaction. Nested calls join the
// outer one. fn is re-run from scratch when Postgres reports a serialization
// failure, so it must not keep state across attempts beyond plain assignments.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.atomicOnce(ctx, fn)
		if !isRetryable(err) {
			return err
		}
		if attempt < maxTxAttempts {
			log.Printf("transaction conflict, retrying (attempt %d): %v", attempt, err)
		}
	}
	return err
}

func (s *PostgresStore) atomicOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isRetryable reports serialization failures and deadlocks.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) UpsertUser(ctx context.Context, user User) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO users (id, name, email, image)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, email=EXCLUDED.email, image=EXCLUDED.image
	`, user.ID, user.Name, user.Email, user.Image)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT id, name, email, image FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.Name, &user.Email, &user.Image)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Workspaces

func (s *PostgresStore) InsertWorkspace(ctx context.Context, ws Workspace) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO workspaces (id, name, owner_user_id, join_code, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ws.ID, ws.Name, ws.OwnerUserID, ws.JoinCode, ws.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var ws Workspace
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, owner_user_id, join_code, created_at
		FROM workspaces
		WHERE id=$1
	`, workspaceID).Scan(&ws.ID, &ws.Name, &ws.OwnerUserID, &ws.JoinCode, &ws.CreatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

func (s *PostgresStore) ListWorkspacesForUser(ctx context.Context, userID string) ([]Workspace, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT w.id, w.name, w.owner_user_id, w.join_code, w.created_at
		FROM workspaces w
		JOIN members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.OwnerUserID, &ws.JoinCode, &ws.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateWorkspaceName(ctx context.Context, workspaceID, name string) error {
	return s.execOne(ctx, "update workspace name", `UPDATE workspaces SET name=$2 WHERE id=$1`, workspaceID, name)
}

func (s *PostgresStore) UpdateJoinCode(ctx context.Context, workspaceID, joinCode string) error {
	return s.execOne(ctx, "update join code", `UPDATE workspaces SET join_code=$2 WHERE id=$1`, workspaceID, joinCode)
}

// DeleteWorkspace removes the workspace and everything scoped to it.
func (s *PostgresStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	return s.Atomic(ctx, func(ctx context.Context) error {
		for _, stmt := range []struct {
			label string
			query string
		}{
			{"delete workspace reactions", `DELETE FROM reactions WHERE workspace_id=$1`},
			{"delete workspace messages", `DELETE FROM messages WHERE workspace_id=$1`},
			{"delete workspace conversations", `DELETE FROM conversations WHERE workspace_id=$1`},
			{"delete workspace channels", `DELETE FROM channels WHERE workspace_id=$1`},
			{"delete workspace members", `DELETE FROM members WHERE workspace_id=$1`},
		} {
			if _, err := s.conn(ctx).ExecContext(ctx, stmt.query, workspaceID); err != nil {
				return fmt.Errorf("%s: %w", stmt.label, err)
			}
		}
		return s.execOne(ctx, "delete workspace", `DELETE FROM workspaces WHERE id=$1`, workspaceID)
	})
}

// Members

const memberColumns = `id, user_id, workspace_id, role, created_at`

func scanMember(row interface{ Scan(...any) error }) (Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.UserID, &m.WorkspaceID, &m.Role, &m.CreatedAt)
	return m, err
}

// GetMember returns nil when the user has no member record in the workspace.
func (s *PostgresStore) GetMember(ctx context.Context, workspaceID, userID string) (*Member, error) {
	m, err := scanMember(s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) GetMemberByID(ctx context.Context, memberID string) (Member, error) {
	return scanMember(s.conn(ctx).QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id=$1`, memberID))
}

func (s *PostgresStore) InsertMember(ctx context.Context, m Member) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO members (id, user_id, workspace_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.UserID, m.WorkspaceID, m.Role, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, workspaceID string) ([]Member, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE workspace_id=$1
		ORDER BY created_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, memberID, role string) error {
	return s.execOne(ctx, "update member role", `UPDATE members SET role=$2 WHERE id=$1`, memberID, role)
}

// DeleteMember removes the member and its reactions. Authored messages stay
// and drop out of feeds once their author no longer resolves.
func (s *PostgresStore) DeleteMember(ctx context.Context, memberID string) error {
	return s.Atomic(ctx, func(ctx context.Context) error {
		if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM reactions WHERE member_id=$1`, memberID); err != nil {
			return fmt.Errorf("delete member reactions: %w", err)
		}
		return s.execOne(ctx, "delete member", `DELETE FROM members WHERE id=$1`, memberID)
	})
}

// Channels

func (s *PostgresStore) InsertChannel(ctx context.Context, ch Channel) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO channels (id, workspace_id, name, created_at)
		VALUES ($1, $2, $3, $4)
	`, ch.ID, ch.WorkspaceID, ch.Name, ch.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	var ch Channel
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, workspace_id, name, created_at FROM channels WHERE id=$1
	`, channelID).Scan(&ch.ID, &ch.WorkspaceID, &ch.Name, &ch.CreatedAt)
	if err != nil {
		return Channel{}, err
	}
	return ch, nil
}

func (s *PostgresStore) ListChannels(ctx context.Context, workspaceID string) ([]Channel, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, workspace_id, name, created_at
		FROM channels
		WHERE workspace_id=$1
		ORDER BY created_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	items := make([]Channel, 0)
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ID, &ch.WorkspaceID, &ch.Name, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		items = append(items, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateChannelName(ctx context.Context, channelID, name string) error {
	return s.execOne(ctx, "update channel name", `UPDATE channels SET name=$2 WHERE id=$1`, channelID, name)
}

// DeleteChannel removes the channel, every message in it and their reactions.
func (s *PostgresStore) DeleteChannel(ctx context.Context, channelID string) error {
	return s.Atomic(ctx, func(ctx context.Context) error {
		if _, err := s.conn(ctx).ExecContext(ctx, `
			DELETE FROM reactions WHERE message_id IN (SELECT id FROM messages WHERE channel_id=$1)
		`, channelID); err != nil {
			return fmt.Errorf("delete channel reactions: %w", err)
		}
		if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM messages WHERE channel_id=$1`, channelID); err != nil {
			return fmt.Errorf("delete channel messages: %w", err)
		}
		return s.execOne(ctx, "delete channel", `DELETE FROM channels WHERE id=$1`, channelID)
	})
}

// Conversations

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var c Conversation
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, workspace_id, member_one_id, member_two_id, created_at
		FROM conversations WHERE id=$1
	`, conversationID).Scan(&c.ID, &c.WorkspaceID, &c.MemberOneID, &c.MemberTwoID, &c.CreatedAt)
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// FindConversation looks up the conversation between two members in either order.
func (s *PostgresStore) FindConversation(ctx context.Context, workspaceID, memberA, memberB string) (*Conversation, error) {
	var c Conversation
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, workspace_id, member_one_id, member_two_id, created_at
		FROM conversations
		WHERE workspace_id=$1
		  AND ((member_one_id=$2 AND member_two_id=$3) OR (member_one_id=$3 AND member_two_id=$2))
		LIMIT 1
	`, workspaceID, memberA, memberB).Scan(&c.ID, &c.WorkspaceID, &c.MemberOneID, &c.MemberTwoID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) InsertConversation(ctx context.Context, c Conversation) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO conversations (id, workspace_id, member_one_id, member_two_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.WorkspaceID, c.MemberOneID, c.MemberTwoID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Messages

const messageColumns = `id, workspace_id, member_id, body, COALESCE(image, ''), COALESCE(channel_id, ''), COALESCE(conversation_id, ''), COALESCE(parent_message_id, ''), created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	var channelID, conversationID string
	err := row.Scan(&m.ID, &m.WorkspaceID, &m.MemberID, &m.Body, &m.Image, &channelID, &conversationID, &m.ParentMessageID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Message{}, err
	}
	switch {
	case channelID != "":
		m.Container = ChannelContainer(channelID)
	case conversationID != "":
		m.Container = ConversationContainer(conversationID)
	}
	return m, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m Message) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO messages (id, workspace_id, member_id, body, image, channel_id, conversation_id, parent_message_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.ID, m.WorkspaceID, m.MemberID, m.Body, nullString(m.Image), nullString(m.Container.ChannelID()),
		nullString(m.Container.ConversationID()), nullString(m.ParentMessageID), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	return scanMessage(s.conn(ctx).QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID))
}

func (s *PostgresStore) UpdateMessageBody(ctx context.Context, messageID, body string, updatedAt time.Time) error {
	return s.execOne(ctx, "update message body", `UPDATE messages SET body=$2, updated_at=$3 WHERE id=$1`, messageID, body, updatedAt)
}

// DeleteMessage removes a message, its direct replies and all their reactions.
func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	return s.Atomic(ctx, func(ctx context.Context) error {
		if _, err := s.conn(ctx).ExecContext(ctx, `
			DELETE FROM reactions
			WHERE message_id=$1 OR message_id IN (SELECT id FROM messages WHERE parent_message_id=$1)
		`, messageID); err != nil {
			return fmt.Errorf("delete message reactions: %w", err)
		}
		if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM messages WHERE parent_message_id=$1`, messageID); err != nil {
			return fmt.Errorf("delete message replies: %w", err)
		}
		return s.execOne(ctx, "delete message", `DELETE FROM messages WHERE id=$1`, messageID)
	})
}

// ListMessages returns one newest-first page of the feed selected by filter.
func (s *PostgresStore) ListMessages(ctx context.Context, filter MessageFilter, page PageRequest) (MessagePage, error) {
	cursor, err := DecodeCursor(page.Cursor)
	if err != nil {
		return MessagePage{}, err
	}
	limit := ClampPageSize(page.Limit)

	var (
		where []string
		args  []any
	)
	bind := func(column, value string) {
		if value == "" {
			where = append(where, column+" IS NULL")
			return
		}
		args = append(args, value)
		where = append(where, column+"=$"+strconv.Itoa(len(args)))
	}
	bind("channel_id", filter.Container.ChannelID())
	bind("parent_message_id", filter.ParentMessageID)
	bind("conversation_id", filter.Container.ConversationID())
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit+1)

	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0, limit+1)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return MessagePage{}, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return MessagePage{}, fmt.Errorf("iterate messages: %w", err)
	}
	return buildPage(items, limit), nil
}

func buildPage(items []Message, limit int) MessagePage {
	result := MessagePage{IsDone: len(items) <= limit}
	if !result.IsDone {
		items = items[:limit]
	}
	result.Items = items
	if len(items) > 0 {
		last := items[len(items)-1]
		result.ContinueCursor = EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return result
}

func (s *PostgresStore) ThreadSummary(ctx context.Context, messageID string) (ThreadSummary, error) {
	var summary ThreadSummary
	if err := s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE parent_message_id=$1`, messageID).Scan(&summary.Count); err != nil {
		return ThreadSummary{}, fmt.Errorf("count replies: %w", err)
	}
	if summary.Count == 0 {
		return summary, nil
	}
	last, err := scanMessage(s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE parent_message_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return summary, nil
	}
	if err != nil {
		return ThreadSummary{}, fmt.Errorf("latest reply: %w", err)
	}
	summary.LastReply = &last
	return summary, nil
}

// Reactions

func (s *PostgresStore) ListReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, workspace_id, message_id, member_id, value, created_at
		FROM reactions
		WHERE message_id=$1
		ORDER BY created_at ASC, id ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	items := make([]Reaction, 0)
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.MessageID, &r.MemberID, &r.Value, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) FindReaction(ctx context.Context, messageID, memberID, value string) (*Reaction, error) {
	var r Reaction
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, workspace_id, message_id, member_id, value, created_at
		FROM reactions
		WHERE message_id=$1 AND member_id=$2 AND value=$3
	`, messageID, memberID, value).Scan(&r.ID, &r.WorkspaceID, &r.MessageID, &r.MemberID, &r.Value, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reaction: %w", err)
	}
	return &r, nil
}

// InsertReaction stores r unless the member already reacted with the same
// value, and returns the row that ends up stored.
func (s *PostgresStore) InsertReaction(ctx context.Context, r Reaction) (Reaction, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO reactions (id, workspace_id, message_id, member_id, value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id, member_id, value) DO NOTHING
	`, r.ID, r.WorkspaceID, r.MessageID, r.MemberID, r.Value, r.CreatedAt)
	if err != nil {
		return Reaction{}, fmt.Errorf("insert reaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Reaction{}, fmt.Errorf("insert reaction rows: %w", err)
	}
	if affected == 1 {
		return r, nil
	}
	existing, err := s.FindReaction(ctx, r.MessageID, r.MemberID, r.Value)
	if err != nil {
		return Reaction{}, err
	}
	if existing == nil {
		return Reaction{}, fmt.Errorf("insert reaction: conflicting row vanished")
	}
	return *existing, nil
}

func (s *PostgresStore) DeleteReaction(ctx context.Context, reactionID string) error {
	return s.execOne(ctx, "delete reaction", `DELETE FROM reactions WHERE id=$1`, reactionID)
}

// execOne runs a single-row write and reports sql.ErrNoRows when nothing matched.
func (s *PostgresStore) execOne(ctx context.Context, label, query string, args ...any) error {
	result, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", label, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
