package app

import (
	"context"
	"strings"

	"huddle/api/internal/blob"
	"huddle/api/internal/rbac"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

type CreateMessageInput struct {
	WorkspaceID     string `json:"workspaceId"`
	Body            string `json:"body"`
	Image           string `json:"image"`
	ChannelID       string `json:"channelId"`
	ConversationID  string `json:"conversationId"`
	ParentMessageID string `json:"parentMessageId"`
}

// MessageQuery selects a feed: a channel, a conversation, or a thread.
type MessageQuery struct {
	ChannelID       string
	ConversationID  string
	ParentMessageID string
	Cursor          string
	Limit           int
}

// MessageFeed is one page of enriched messages, newest first.
type MessageFeed struct {
	Page           []MessageView `json:"page"`
	IsDone         bool          `json:"isDone"`
	ContinueCursor string        `json:"continueCursor"`
}

func containerOf(channelID, conversationID string) (store.Container, error) {
	channelID = strings.TrimSpace(channelID)
	conversationID = strings.TrimSpace(conversationID)
	if channelID != "" && conversationID != "" {
		return store.Container{}, invalidInput("a message belongs to a channel or a conversation, not both")
	}
	if channelID != "" {
		return store.ChannelContainer(channelID), nil
	}
	return store.ConversationContainer(conversationID), nil
}

// containerWorkspace returns the workspace owning the container, or "" when
// the container does not exist.
func (s *Service) containerWorkspace(ctx context.Context, container store.Container) (string, error) {
	switch container.Kind {
	case store.ContainerChannel:
		channel, err := s.store.GetChannel(ctx, container.ID)
		if isNotFound(err) {
			return "", nil
		}
		return channel.WorkspaceID, err
	case store.ContainerConversation:
		conversation, err := s.store.GetConversation(ctx, container.ID)
		if isNotFound(err) {
			return "", nil
		}
		return conversation.WorkspaceID, err
	}
	return "", nil
}

func checkContent(body, image string) error {
	if strings.TrimSpace(body) == "" && image == "" {
		return invalidInput("body is required")
	}
	if image != "" && !blob.ValidKey(image) {
		return invalidInput("image is not a valid storage id")
	}
	return nil
}

// CreateMessage posts a message as the caller's member. A reply that names
// no channel or conversation lands in its parent's.
func (s *Service) CreateMessage(ctx context.Context, caller Caller, input CreateMessageInput) (string, error) {
	if !caller.Authenticated() {
		return "", unauthorized()
	}
	image := strings.TrimSpace(input.Image)
	if err := checkContent(input.Body, image); err != nil {
		return "", err
	}
	container, err := containerOf(input.ChannelID, input.ConversationID)
	if err != nil {
		return "", err
	}
	parentID := strings.TrimSpace(input.ParentMessageID)
	if container.IsZero() && parentID == "" {
		return "", invalidInput("channelId, conversationId or parentMessageId is required")
	}

	var message store.Message
	err = s.store.Atomic(ctx, func(ctx context.Context) error {
		member, err := s.requireMember(ctx, caller, input.WorkspaceID)
		if err != nil {
			return err
		}
		if !container.IsZero() {
			workspaceID, err := s.containerWorkspace(ctx, container)
			if err != nil {
				return err
			}
			if workspaceID != input.WorkspaceID {
				return notFound(containerLabel(container))
			}
		}
		if parentID != "" {
			parent, err := s.store.GetMessage(ctx, parentID)
			if isNotFound(err) {
				return notFound("Parent message")
			}
			if err != nil {
				return err
			}
			if parent.WorkspaceID != input.WorkspaceID {
				return notFound("Parent message")
			}
			if container.IsZero() {
				container = parent.Container
			} else if container != parent.Container {
				return invalidInput("a reply must stay in its parent's channel or conversation")
			}
		}

		now := s.timestamp()
		message = store.Message{
			ID:              util.NewID("msg"),
			WorkspaceID:     input.WorkspaceID,
			MemberID:        member.ID,
			Body:            input.Body,
			Image:           image,
			Container:       container,
			ParentMessageID: parentID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return s.store.InsertMessage(ctx, message)
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, "message.created", message.WorkspaceID, message.ID)
	return message.ID, nil
}

func containerLabel(c store.Container) string {
	if c.Kind == store.ContainerConversation {
		return "Conversation"
	}
	return "Channel"
}

// authorizeEdit loads a message and checks the caller may change it.
func (s *Service) authorizeEdit(ctx context.Context, caller Caller, messageID string) (store.Message, error) {
	if !caller.Authenticated() {
		return store.Message{}, unauthorized()
	}
	message, err := s.store.GetMessage(ctx, messageID)
	if isNotFound(err) {
		return store.Message{}, notFound("Message")
	}
	if err != nil {
		return store.Message{}, err
	}
	member, err := s.requireMember(ctx, caller, message.WorkspaceID)
	if err != nil {
		return store.Message{}, err
	}
	if !rbac.CanEditMessage(member.ID, member.Role, message.MemberID) {
		return store.Message{}, forbidden()
	}
	return message, nil
}

func (s *Service) UpdateMessage(ctx context.Context, caller Caller, messageID, body string) (string, error) {
	var workspaceID string
	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		message, err := s.authorizeEdit(ctx, caller, messageID)
		if err != nil {
			return err
		}
		if err := checkContent(body, message.Image); err != nil {
			return err
		}
		workspaceID = message.WorkspaceID
		return s.store.UpdateMessageBody(ctx, messageID, body, s.timestamp())
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, "message.updated", workspaceID, messageID)
	return messageID, nil
}

// RemoveMessage deletes the message with its reactions and replies.
func (s *Service) RemoveMessage(ctx context.Context, caller Caller, messageID string) (string, error) {
	var workspaceID string
	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		message, err := s.authorizeEdit(ctx, caller, messageID)
		if err != nil {
			return err
		}
		workspaceID = message.WorkspaceID
		return s.store.DeleteMessage(ctx, messageID)
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, "message.deleted", workspaceID, messageID)
	return messageID, nil
}

// GetMessage returns one enriched message, or nil when it does not exist,
// the caller is not a member of its workspace, or its author is gone.
func (s *Service) GetMessage(ctx context.Context, caller Caller, messageID string) (*MessageView, error) {
	message, err := s.store.GetMessage(ctx, messageID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	member, err := s.getMember(ctx, caller, message.WorkspaceID)
	if err != nil || member == nil {
		return nil, err
	}
	return s.enrichMessage(ctx, message)
}

// ListMessages returns one page of a channel, conversation or thread feed.
func (s *Service) ListMessages(ctx context.Context, caller Caller, query MessageQuery) (MessageFeed, error) {
	empty := MessageFeed{Page: make([]MessageView, 0), IsDone: true}
	if !caller.Authenticated() {
		return MessageFeed{}, unauthorized()
	}
	container, err := containerOf(query.ChannelID, query.ConversationID)
	if err != nil {
		return MessageFeed{}, err
	}
	parentID := strings.TrimSpace(query.ParentMessageID)
	if container.IsZero() && parentID == "" {
		return MessageFeed{}, invalidInput("channelId, conversationId or parentMessageId is required")
	}

	var workspaceID string
	if parentID != "" {
		parent, err := s.store.GetMessage(ctx, parentID)
		if isNotFound(err) {
			return empty, nil
		}
		if err != nil {
			return MessageFeed{}, err
		}
		workspaceID = parent.WorkspaceID
		if container.IsZero() {
			container = parent.Container
		}
	}
	if !container.IsZero() {
		owner, err := s.containerWorkspace(ctx, container)
		if err != nil {
			return MessageFeed{}, err
		}
		if owner == "" || (workspaceID != "" && owner != workspaceID) {
			return empty, nil
		}
		workspaceID = owner
	}
	if _, err := s.requireMember(ctx, caller, workspaceID); err != nil {
		return MessageFeed{}, err
	}

	page, err := s.store.ListMessages(ctx, store.MessageFilter{
		Container:       container,
		ParentMessageID: parentID,
	}, store.PageRequest{Cursor: query.Cursor, Limit: query.Limit})
	if err != nil {
		return MessageFeed{}, err
	}
	items, err := s.enrichPage(ctx, page.Items)
	if err != nil {
		return MessageFeed{}, err
	}
	return MessageFeed{
		Page:           items,
		IsDone:         page.IsDone,
		ContinueCursor: page.ContinueCursor,
	}, nil
}
