package app

import (
	"context"

	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

// CreateOrGetConversation returns the direct conversation between the caller
// and another member, creating it on first use.
func (s *Service) CreateOrGetConversation(ctx context.Context, caller Caller, workspaceID, memberID string) (string, error) {
	var (
		conversationID string
		created        bool
	)
	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		current, err := s.requireMember(ctx, caller, workspaceID)
		if err != nil {
			return err
		}
		other, err := s.loadMember(ctx, memberID)
		if err != nil {
			return err
		}
		if other.WorkspaceID != workspaceID {
			return notFound("Member")
		}
		existing, err := s.store.FindConversation(ctx, workspaceID, current.ID, other.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			conversationID = existing.ID
			return nil
		}
		conversationID = util.NewID("dm")
		created = true
		return s.store.InsertConversation(ctx, store.Conversation{
			ID:          conversationID,
			WorkspaceID: workspaceID,
			MemberOneID: current.ID,
			MemberTwoID: other.ID,
			CreatedAt:   s.timestamp(),
		})
	})
	if err != nil {
		return "", err
	}
	if created {
		s.publish(ctx, "conversation.created", workspaceID, conversationID)
	}
	return conversationID, nil
}
