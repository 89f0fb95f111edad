package app

import (
	"context"
	"database/sql"
	"maps"
	"sort"
	"sync"
	"time"

	"huddle/api/internal/store"
)

// memStore is an in-memory dataStore. Atomic restores a snapshot when fn
// fails, which is enough to observe all-or-nothing writes in tests.
type memStore struct {
	mu            sync.Mutex
	users         map[string]store.User
	workspaces    map[string]store.Workspace
	members       map[string]store.Member
	channels      map[string]store.Channel
	conversations map[string]store.Conversation
	messages      map[string]store.Message
	reactions     map[string]store.Reaction

	pingFn          func(context.Context) error
	insertChannelFn func(context.Context, store.Channel) error
	upsertUserFn    func(context.Context, store.User) error

	// insertReactionFn runs before the insert; a non-nil row wins as if a
	// concurrent toggle had stored it first.
	insertReactionFn func(context.Context, store.Reaction) *store.Reaction
}

func newMemStore() *memStore {
	return &memStore{
		users:         map[string]store.User{},
		workspaces:    map[string]store.Workspace{},
		members:       map[string]store.Member{},
		channels:      map[string]store.Channel{},
		conversations: map[string]store.Conversation{},
		messages:      map[string]store.Message{},
		reactions:     map[string]store.Reaction{},
	}
}

type memSnapshot struct {
	users         map[string]store.User
	workspaces    map[string]store.Workspace
	members       map[string]store.Member
	channels      map[string]store.Channel
	conversations map[string]store.Conversation
	messages      map[string]store.Message
	reactions     map[string]store.Reaction
}

type memTxKey struct{}

func (m *memStore) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	snap := memSnapshot{
		users:         maps.Clone(m.users),
		workspaces:    maps.Clone(m.workspaces),
		members:       maps.Clone(m.members),
		channels:      maps.Clone(m.channels),
		conversations: maps.Clone(m.conversations),
		messages:      maps.Clone(m.messages),
		reactions:     maps.Clone(m.reactions),
	}
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.users, m.workspaces, m.members = snap.users, snap.workspaces, snap.members
		m.channels, m.conversations = snap.channels, snap.conversations
		m.messages, m.reactions = snap.messages, snap.reactions
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *memStore) UpsertUser(ctx context.Context, user store.User) error {
	if m.upsertUserFn != nil {
		return m.upsertUserFn(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUser(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) deleteUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
}

func (m *memStore) InsertWorkspace(_ context.Context, ws store.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaces[ws.ID] = ws
	return nil
}

func (m *memStore) GetWorkspace(_ context.Context, workspaceID string) (store.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return store.Workspace{}, sql.ErrNoRows
	}
	return ws, nil
}

func (m *memStore) ListWorkspacesForUser(_ context.Context, userID string) ([]store.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Workspace, 0)
	for _, member := range m.members {
		if member.UserID != userID {
			continue
		}
		if ws, ok := m.workspaces[member.WorkspaceID]; ok {
			items = append(items, ws)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) UpdateWorkspaceName(_ context.Context, workspaceID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return sql.ErrNoRows
	}
	ws.Name = name
	m.workspaces[workspaceID] = ws
	return nil
}

func (m *memStore) UpdateJoinCode(_ context.Context, workspaceID, joinCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return sql.ErrNoRows
	}
	ws.JoinCode = joinCode
	m.workspaces[workspaceID] = ws
	return nil
}

func (m *memStore) DeleteWorkspace(_ context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[workspaceID]; !ok {
		return sql.ErrNoRows
	}
	maps.DeleteFunc(m.reactions, func(_ string, r store.Reaction) bool { return r.WorkspaceID == workspaceID })
	maps.DeleteFunc(m.messages, func(_ string, msg store.Message) bool { return msg.WorkspaceID == workspaceID })
	maps.DeleteFunc(m.conversations, func(_ string, c store.Conversation) bool { return c.WorkspaceID == workspaceID })
	maps.DeleteFunc(m.channels, func(_ string, ch store.Channel) bool { return ch.WorkspaceID == workspaceID })
	maps.DeleteFunc(m.members, func(_ string, mem store.Member) bool { return mem.WorkspaceID == workspaceID })
	delete(m.workspaces, workspaceID)
	return nil
}

func (m *memStore) GetMember(_ context.Context, workspaceID, userID string) (*store.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range m.members {
		if member.WorkspaceID == workspaceID && member.UserID == userID {
			found := member
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetMemberByID(_ context.Context, memberID string) (store.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[memberID]
	if !ok {
		return store.Member{}, sql.ErrNoRows
	}
	return member, nil
}

func (m *memStore) InsertMember(_ context.Context, member store.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.ID] = member
	return nil
}

func (m *memStore) ListMembers(_ context.Context, workspaceID string) ([]store.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Member, 0)
	for _, member := range m.members {
		if member.WorkspaceID == workspaceID {
			items = append(items, member)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) UpdateMemberRole(_ context.Context, memberID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[memberID]
	if !ok {
		return sql.ErrNoRows
	}
	member.Role = role
	m.members[memberID] = member
	return nil
}

func (m *memStore) DeleteMember(_ context.Context, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[memberID]; !ok {
		return sql.ErrNoRows
	}
	maps.DeleteFunc(m.reactions, func(_ string, r store.Reaction) bool { return r.MemberID == memberID })
	delete(m.members, memberID)
	return nil
}

func (m *memStore) InsertChannel(ctx context.Context, ch store.Channel) error {
	if m.insertChannelFn != nil {
		if err := m.insertChannelFn(ctx, ch); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ID] = ch
	return nil
}

func (m *memStore) GetChannel(_ context.Context, channelID string) (store.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return store.Channel{}, sql.ErrNoRows
	}
	return ch, nil
}

func (m *memStore) ListChannels(_ context.Context, workspaceID string) ([]store.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Channel, 0)
	for _, ch := range m.channels {
		if ch.WorkspaceID == workspaceID {
			items = append(items, ch)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) UpdateChannelName(_ context.Context, channelID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return sql.ErrNoRows
	}
	ch.Name = name
	m.channels[channelID] = ch
	return nil
}

func (m *memStore) DeleteChannel(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[channelID]; !ok {
		return sql.ErrNoRows
	}
	for id, msg := range m.messages {
		if msg.Container.ChannelID() == channelID {
			m.deleteMessageLocked(id)
		}
	}
	delete(m.channels, channelID)
	return nil
}

func (m *memStore) GetConversation(_ context.Context, conversationID string) (store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return store.Conversation{}, sql.ErrNoRows
	}
	return c, nil
}

func (m *memStore) FindConversation(_ context.Context, workspaceID, memberA, memberB string) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if c.WorkspaceID != workspaceID {
			continue
		}
		if (c.MemberOneID == memberA && c.MemberTwoID == memberB) || (c.MemberOneID == memberB && c.MemberTwoID == memberA) {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertConversation(_ context.Context, c store.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	return nil
}

func (m *memStore) InsertMessage(_ context.Context, msg store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
	return nil
}

func (m *memStore) GetMessage(_ context.Context, messageID string) (store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return store.Message{}, sql.ErrNoRows
	}
	return msg, nil
}

func (m *memStore) UpdateMessageBody(_ context.Context, messageID, body string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return sql.ErrNoRows
	}
	msg.Body = body
	msg.UpdatedAt = updatedAt
	m.messages[messageID] = msg
	return nil
}

func (m *memStore) DeleteMessage(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[messageID]; !ok {
		return sql.ErrNoRows
	}
	m.deleteMessageLocked(messageID)
	return nil
}

// deleteMessageLocked mirrors the schema's ON DELETE CASCADE on replies and reactions.
func (m *memStore) deleteMessageLocked(messageID string) {
	for id, msg := range m.messages {
		if msg.ParentMessageID == messageID {
			m.deleteMessageLocked(id)
		}
	}
	maps.DeleteFunc(m.reactions, func(_ string, r store.Reaction) bool { return r.MessageID == messageID })
	delete(m.messages, messageID)
}

func (m *memStore) ListMessages(_ context.Context, filter store.MessageFilter, page store.PageRequest) (store.MessagePage, error) {
	cursor, err := store.DecodeCursor(page.Cursor)
	if err != nil {
		return store.MessagePage{}, err
	}
	limit := store.ClampPageSize(page.Limit)

	m.mu.Lock()
	matched := make([]store.Message, 0)
	for _, msg := range m.messages {
		if msg.Container != filter.Container || msg.ParentMessageID != filter.ParentMessageID {
			continue
		}
		if cursor != nil && !afterCursor(*cursor, msg) {
			continue
		}
		matched = append(matched, msg)
	}
	m.mu.Unlock()

	sortNewestFirst(matched)
	if len(matched) > limit+1 {
		matched = matched[:limit+1]
	}
	result := store.MessagePage{IsDone: len(matched) <= limit}
	if !result.IsDone {
		matched = matched[:limit]
	}
	result.Items = matched
	if len(matched) > 0 {
		last := matched[len(matched)-1]
		result.ContinueCursor = store.EncodeCursor(store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return result, nil
}

func sortNewestFirst(items []store.Message) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

func (m *memStore) ThreadSummary(_ context.Context, messageID string) (store.ThreadSummary, error) {
	m.mu.Lock()
	replies := make([]store.Message, 0)
	for _, msg := range m.messages {
		if msg.ParentMessageID == messageID {
			replies = append(replies, msg)
		}
	}
	m.mu.Unlock()

	summary := store.ThreadSummary{Count: len(replies)}
	if len(replies) > 0 {
		sortNewestFirst(replies)
		summary.LastReply = &replies[0]
	}
	return summary, nil
}

func (m *memStore) ListReactions(_ context.Context, messageID string) ([]store.Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Reaction, 0)
	for _, r := range m.reactions {
		if r.MessageID == messageID {
			items = append(items, r)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (m *memStore) FindReaction(_ context.Context, messageID, memberID, value string) (*store.Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reactions {
		if r.MessageID == messageID && r.MemberID == memberID && r.Value == value {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertReaction(ctx context.Context, r store.Reaction) (store.Reaction, error) {
	if m.insertReactionFn != nil {
		if winner := m.insertReactionFn(ctx, r); winner != nil {
			m.mu.Lock()
			m.reactions[winner.ID] = *winner
			m.mu.Unlock()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reactions {
		if existing.MessageID == r.MessageID && existing.MemberID == r.MemberID && existing.Value == r.Value {
			return existing, nil
		}
	}
	m.reactions[r.ID] = r
	return r, nil
}

func (m *memStore) DeleteReaction(_ context.Context, reactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reactions[reactionID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.reactions, reactionID)
	return nil
}

func (m *memStore) count(fn func(*memStore) int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

// afterCursor reports whether msg sorts after c in newest-first order.
func afterCursor(c store.Cursor, msg store.Message) bool {
	if msg.CreatedAt.Equal(c.CreatedAt) {
		return msg.ID < c.ID
	}
	return msg.CreatedAt.Before(c.CreatedAt)
}
