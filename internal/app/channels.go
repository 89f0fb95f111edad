package app

import (
	"context"
	"strings"
	"time"

	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

type ChannelView struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"createdAt"`
}

func channelView(ch store.Channel) ChannelView {
	return ChannelView{ID: ch.ID, WorkspaceID: ch.WorkspaceID, Name: ch.Name, CreatedAt: ch.CreatedAt}
}

// normalizeChannelName lower-cases the name and joins words with hyphens.
func normalizeChannelName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "-"))
}

func (s *Service) channelName(name string) (string, error) {
	name, err := validateName("name", name)
	if err != nil {
		return "", err
	}
	return normalizeChannelName(name), nil
}

// ListChannels returns every channel of the workspace, or nothing for non-members.
func (s *Service) ListChannels(ctx context.Context, caller Caller, workspaceID string) ([]ChannelView, error) {
	items := make([]ChannelView, 0)
	member, err := s.getMember(ctx, caller, workspaceID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return items, nil
	}
	channels, err := s.store.ListChannels(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		items = append(items, channelView(ch))
	}
	return items, nil
}

func (s *Service) CreateChannel(ctx context.Context, caller Caller, workspaceID, name string) (string, error) {
	name, err := s.channelName(name)
	if err != nil {
		return "", err
	}
	channel := store.Channel{
		ID:          util.NewID("chn"),
		WorkspaceID: workspaceID,
		Name:        name,
		CreatedAt:   s.timestamp(),
	}
	err = s.store.Atomic(ctx, func(ctx context.Context) error {
		if _, err := s.requireAdmin(ctx, caller, workspaceID); err != nil {
			return err
		}
		return s.store.InsertChannel(ctx, channel)
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, "channel.created", workspaceID, channel.ID)
	return channel.ID, nil
}

// loadChannel fetches a channel for a write path.
func (s *Service) loadChannel(ctx context.Context, channelID string) (store.Channel, error) {
	channel, err := s.store.GetChannel(ctx, channelID)
	if isNotFound(err) {
		return store.Channel{}, notFound("Channel")
	}
	return channel, err
}

func (s *Service) UpdateChannel(ctx context.Context, caller Caller, channelID, name string) (string, error) {
	name, err := s.channelName(name)
	if err != nil {
		return "", err
	}
	var workspaceID string
	err = s.store.Atomic(ctx, func(ctx context.Context) error {
		channel, err := s.loadChannel(ctx, channelID)
		if err != nil {
			return err
		}
		if _, err := s.requireAdmin(ctx, caller, channel.WorkspaceID); err != nil {
			return err
		}
		workspaceID = channel.WorkspaceID
		return s.store.UpdateChannelName(ctx, channelID, name)
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, "channel.updated", workspaceID, channelID)
	return channelID, nil
}

// RemoveChannel deletes the channel together with its messages.
func (s *Service) RemoveChannel(ctx context.Context, caller Caller, channelID string) (string, error) {
	var workspaceID string
	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		channel, err := s.loadChannel(ctx, channelID)
		if err != nil {
			return err
		}
		if _, err := s.requireAdmin(ctx, caller, channel.WorkspaceID); err != nil {
			return err
		}
		workspaceID = channel.WorkspaceID
		return s.store.DeleteChannel(ctx, channelID)
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, "channel.deleted", workspaceID, channelID)
	return channelID, nil
}

func (s *Service) GetChannel(ctx context.Context, caller Caller, channelID string) (*ChannelView, error) {
	channel, err := s.store.GetChannel(ctx, channelID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	member, err := s.getMember(ctx, caller, channel.WorkspaceID)
	if err != nil || member == nil {
		return nil, err
	}
	view := channelView(channel)
	return &view, nil
}
