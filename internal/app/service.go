package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"huddle/api/internal/auth"
	"huddle/api/internal/config"
	"huddle/api/internal/events"
	"huddle/api/internal/rbac"
	"huddle/api/internal/store"
)

const maxNameLength = 80

// Caller is the authenticated identity behind a request. The zero value is
// an anonymous caller.
type Caller struct {
	UserID string
	Name   string
	Email  string
	Image  string
}

func (c Caller) Authenticated() bool {
	return c.UserID != ""
}

type dataStore interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error

	UpsertUser(context.Context, store.User) error
	GetUser(context.Context, string) (store.User, error)

	InsertWorkspace(context.Context, store.Workspace) error
	GetWorkspace(context.Context, string) (store.Workspace, error)
	ListWorkspacesForUser(context.Context, string) ([]store.Workspace, error)
	UpdateWorkspaceName(context.Context, string, string) error
	UpdateJoinCode(context.Context, string, string) error
	DeleteWorkspace(context.Context, string) error

	GetMember(ctx context.Context, workspaceID, userID string) (*store.Member, error)
	GetMemberByID(context.Context, string) (store.Member, error)
	InsertMember(context.Context, store.Member) error
	ListMembers(context.Context, string) ([]store.Member, error)
	UpdateMemberRole(context.Context, string, string) error
	DeleteMember(context.Context, string) error

	InsertChannel(context.Context, store.Channel) error
	GetChannel(context.Context, string) (store.Channel, error)
	ListChannels(context.Context, string) ([]store.Channel, error)
	UpdateChannelName(context.Context, string, string) error
	DeleteChannel(context.Context, string) error

	GetConversation(context.Context, string) (store.Conversation, error)
	FindConversation(ctx context.Context, workspaceID, memberA, memberB string) (*store.Conversation, error)
	InsertConversation(context.Context, store.Conversation) error

	InsertMessage(context.Context, store.Message) error
	GetMessage(context.Context, string) (store.Message, error)
	UpdateMessageBody(ctx context.Context, messageID, body string, updatedAt time.Time) error
	DeleteMessage(context.Context, string) error
	ListMessages(context.Context, store.MessageFilter, store.PageRequest) (store.MessagePage, error)
	ThreadSummary(context.Context, string) (store.ThreadSummary, error)

	ListReactions(context.Context, string) ([]store.Reaction, error)
	FindReaction(ctx context.Context, messageID, memberID, value string) (*store.Reaction, error)
	InsertReaction(context.Context, store.Reaction) (store.Reaction, error)
	DeleteReaction(context.Context, string) error
}

// AttachmentURLs turns a stored image key into a URL a client can fetch.
type AttachmentURLs interface {
	URL(ctx context.Context, key string) (string, error)
}

// UploadSigner reserves a storage key and a URL the client uploads to.
type UploadSigner interface {
	UploadURL(ctx context.Context) (key string, url string, err error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the optional collaborators beside the database.
type Dependencies struct {
	Attachments AttachmentURLs
	Uploads     UploadSigner
	Events      events.Publisher
	// Checks are reported by the readiness probe next to the database.
	Checks map[string]Pinger
}

type Service struct {
	cfg             config.Config
	store           dataStore
	verifier        *auth.Verifier
	attachments     AttachmentURLs
	uploads         UploadSigner
	events          events.Publisher
	checks          map[string]Pinger
	feedConcurrency int
	now             func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Dependencies) *Service {
	return newService(cfg, dataStore, deps)
}

func newService(cfg config.Config, ds dataStore, deps Dependencies) *Service {
	publisher := deps.Events
	if publisher == nil {
		publisher = events.Noop{}
	}
	concurrency := cfg.FeedConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Service{
		cfg:             cfg,
		store:           ds,
		verifier:        auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		attachments:     deps.Attachments,
		uploads:         deps.Uploads,
		events:          events.Logged{Next: publisher},
		checks:          deps.Checks,
		feedConcurrency: concurrency,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SessionFromToken resolves a bearer token to a caller and syncs the user
// row from the token claims.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Caller, error) {
	claims, err := s.verifier.Parse(token)
	if err != nil {
		return Caller{}, err
	}
	caller := Caller{
		UserID: claims.Subject,
		Name:   claims.Name,
		Email:  claims.Email,
		Image:  claims.Picture,
	}
	if err := s.store.UpsertUser(ctx, store.User{
		ID:    caller.UserID,
		Name:  caller.Name,
		Email: caller.Email,
		Image: caller.Image,
	}); err != nil {
		return Caller{}, err
	}
	return caller, nil
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// timestamp returns the current time at the precision the database keeps.
func (s *Service) timestamp() time.Time {
	return s.now().Truncate(time.Microsecond)
}

func (s *Service) publish(ctx context.Context, eventType, workspaceID, id string) {
	_ = s.events.Publish(ctx, events.Event{
		Type:        eventType,
		WorkspaceID: workspaceID,
		ID:          id,
		At:          s.now(),
	})
}

// getMember returns the caller's member record in a workspace, or nil.
func (s *Service) getMember(ctx context.Context, caller Caller, workspaceID string) (*store.Member, error) {
	if !caller.Authenticated() || workspaceID == "" {
		return nil, nil
	}
	return s.store.GetMember(ctx, workspaceID, caller.UserID)
}

func (s *Service) requireMember(ctx context.Context, caller Caller, workspaceID string) (store.Member, error) {
	if !caller.Authenticated() {
		return store.Member{}, unauthorized()
	}
	member, err := s.getMember(ctx, caller, workspaceID)
	if err != nil {
		return store.Member{}, err
	}
	if member == nil {
		return store.Member{}, forbidden()
	}
	return *member, nil
}

func (s *Service) requireAdmin(ctx context.Context, caller Caller, workspaceID string) (store.Member, error) {
	member, err := s.requireMember(ctx, caller, workspaceID)
	if err != nil {
		return store.Member{}, err
	}
	if !rbac.IsAdmin(member.Role) {
		return store.Member{}, forbidden()
	}
	return member, nil
}

func validateName(field, value string) (string, error) {
	name := strings.TrimSpace(value)
	if name == "" {
		return "", invalidInput(field + " is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", invalidInput(field + " is too long")
	}
	return name, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
