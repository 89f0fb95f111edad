package store

import "time"

// User is owned by the identity provider; rows are synced from token claims.
type User struct {
	ID    string
	Name  string
	Email string
	Image string
}

type Workspace struct {
	ID          string
	Name        string
	OwnerUserID string
	JoinCode    string
	CreatedAt   time.Time
}

// Member is a user's identity inside one workspace.
type Member struct {
	ID          string
	UserID      string
	WorkspaceID string
	Role        string
	CreatedAt   time.Time
}

type Channel struct {
	ID          string
	WorkspaceID string
	Name        string
	CreatedAt   time.Time
}

// Conversation is a direct thread between two members of a workspace.
type Conversation struct {
	ID          string
	WorkspaceID string
	MemberOneID string
	MemberTwoID string
	CreatedAt   time.Time
}

type ContainerKind string

const (
	ContainerChannel      ContainerKind = "channel"
	ContainerConversation ContainerKind = "conversation"
)

// Container is the channel or conversation a message lives in. The zero
// value means no container.
type Container struct {
	Kind ContainerKind
	ID   string
}

func ChannelContainer(id string) Container {
	if id == "" {
		return Container{}
	}
	return Container{Kind: ContainerChannel, ID: id}
}

func ConversationContainer(id string) Container {
	if id == "" {
		return Container{}
	}
	return Container{Kind: ContainerConversation, ID: id}
}

func (c Container) IsZero() bool {
	return c.ID == ""
}

func (c Container) ChannelID() string {
	if c.Kind == ContainerChannel {
		return c.ID
	}
	return ""
}

func (c Container) ConversationID() string {
	if c.Kind == ContainerConversation {
		return c.ID
	}
	return ""
}

type Message struct {
	ID              string
	WorkspaceID     string
	MemberID        string
	Body            string
	Image           string // object storage key, empty when there is no attachment
	Container       Container
	ParentMessageID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Reaction struct {
	ID          string
	WorkspaceID string
	MessageID   string
	MemberID    string
	Value       string
	CreatedAt   time.Time
}

// MessageFilter selects one feed: a container's top level, or one thread.
type MessageFilter struct {
	Container       Container
	ParentMessageID string
}

type PageRequest struct {
	Cursor string
	Limit  int
}

type MessagePage struct {
	Items          []Message
	ContinueCursor string
	IsDone         bool
}

type ThreadSummary struct {
	Count     int
	LastReply *Message
}
