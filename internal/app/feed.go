package app

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"huddle/api/internal/store"
)

type ReactionGroup struct {
	Value     string   `json:"value"`
	Count     int      `json:"count"`
	MemberIDs []string `json:"memberIds"`
}

// MessageView is a message joined with its author, reactions and thread.
type MessageView struct {
	ID              string          `json:"id"`
	WorkspaceID     string          `json:"workspaceId"`
	MemberID        string          `json:"memberId"`
	Body            string          `json:"body"`
	Image           string          `json:"image,omitempty"`
	ChannelID       string          `json:"channelId,omitempty"`
	ConversationID  string          `json:"conversationId,omitempty"`
	ParentMessageID string          `json:"parentMessageId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Member          MemberView      `json:"member"`
	User            UserView        `json:"user"`
	Reactions       []ReactionGroup `json:"reactions"`
	ThreadCount     int             `json:"threadCount"`
	ThreadImage     string          `json:"threadImage,omitempty"`
	ThreadName      string          `json:"threadName,omitempty"`
	ThreadTimestamp int64           `json:"threadTimestamp"`
}

type threadPreview struct {
	Count     int
	Image     string
	Name      string
	Timestamp int64
}

// enrichPage enriches messages concurrently and drops those whose author no
// longer resolves. Order is preserved.
func (s *Service) enrichPage(ctx context.Context, messages []store.Message) ([]MessageView, error) {
	results := make([]*MessageView, len(messages))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.feedConcurrency)
	for i, message := range messages {
		group.Go(func() error {
			view, err := s.enrichMessage(groupCtx, message)
			if err != nil {
				return err
			}
			results[i] = view
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	items := make([]MessageView, 0, len(messages))
	for _, view := range results {
		if view != nil {
			items = append(items, *view)
		}
	}
	return items, nil
}

// enrichMessage returns nil when the author member or user is missing.
func (s *Service) enrichMessage(ctx context.Context, message store.Message) (*MessageView, error) {
	member, err := s.store.GetMemberByID(ctx, message.MemberID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, member.UserID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	reactions, err := s.store.ListReactions(ctx, message.ID)
	if err != nil {
		return nil, err
	}
	thread, err := s.threadPreview(ctx, message.ID)
	if err != nil {
		return nil, err
	}

	return &MessageView{
		ID:              message.ID,
		WorkspaceID:     message.WorkspaceID,
		MemberID:        message.MemberID,
		Body:            message.Body,
		Image:           s.attachmentURL(ctx, message.Image),
		ChannelID:       message.Container.ChannelID(),
		ConversationID:  message.Container.ConversationID(),
		ParentMessageID: message.ParentMessageID,
		CreatedAt:       message.CreatedAt,
		UpdatedAt:       message.UpdatedAt,
		Member:          memberView(member),
		User:            userView(user),
		Reactions:       groupReactions(reactions),
		ThreadCount:     thread.Count,
		ThreadImage:     thread.Image,
		ThreadName:      thread.Name,
		ThreadTimestamp: thread.Timestamp,
	}, nil
}

// threadPreview summarizes direct replies. When the latest replier's member
// is gone the count stays and image/timestamp fall back to empty/zero.
func (s *Service) threadPreview(ctx context.Context, messageID string) (threadPreview, error) {
	summary, err := s.store.ThreadSummary(ctx, messageID)
	if err != nil {
		return threadPreview{}, err
	}
	preview := threadPreview{Count: summary.Count}
	if summary.LastReply == nil {
		return preview, nil
	}
	member, err := s.store.GetMemberByID(ctx, summary.LastReply.MemberID)
	if isNotFound(err) {
		return preview, nil
	}
	if err != nil {
		return threadPreview{}, err
	}
	preview.Timestamp = summary.LastReply.CreatedAt.UnixMilli()
	user, err := s.store.GetUser(ctx, member.UserID)
	if isNotFound(err) {
		return preview, nil
	}
	if err != nil {
		return threadPreview{}, err
	}
	preview.Image = user.Image
	preview.Name = user.Name
	return preview, nil
}

// groupReactions folds reaction rows into one group per value, in order of
// each value's first appearance.
func groupReactions(reactions []store.Reaction) []ReactionGroup {
	groups := make([]ReactionGroup, 0)
	index := make(map[string]int)
	seen := make(map[string]map[string]struct{})
	for _, reaction := range reactions {
		i, ok := index[reaction.Value]
		if !ok {
			i = len(groups)
			index[reaction.Value] = i
			groups = append(groups, ReactionGroup{Value: reaction.Value, MemberIDs: make([]string, 0, 1)})
			seen[reaction.Value] = make(map[string]struct{})
		}
		groups[i].Count++
		if _, dup := seen[reaction.Value][reaction.MemberID]; !dup {
			seen[reaction.Value][reaction.MemberID] = struct{}{}
			groups[i].MemberIDs = append(groups[i].MemberIDs, reaction.MemberID)
		}
	}
	return groups
}

// attachmentURL resolves a storage key; failures leave the image out.
func (s *Service) attachmentURL(ctx context.Context, key string) string {
	if key == "" || s.attachments == nil {
		return ""
	}
	url, err := s.attachments.URL(ctx, key)
	if err != nil {
		log.Printf("resolve attachment %s: %v", key, err)
		return ""
	}
	return url
}
