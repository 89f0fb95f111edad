package app

import (
	"context"
	"strings"

	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

// ToggleReaction adds the caller's reaction with this value, or removes it if
// present. Returns the id of the row that was inserted or deleted.
func (s *Service) ToggleReaction(ctx context.Context, caller Caller, messageID, value string) (string, error) {
	if !caller.Authenticated() {
		return "", unauthorized()
	}
	if strings.TrimSpace(value) == "" {
		return "", invalidInput("value is required")
	}

	var (
		reactionID  string
		workspaceID string
		eventType   string
	)
	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		message, err := s.store.GetMessage(ctx, messageID)
		if isNotFound(err) {
			return notFound("Message")
		}
		if err != nil {
			return err
		}
		member, err := s.requireMember(ctx, caller, message.WorkspaceID)
		if err != nil {
			return err
		}
		workspaceID = message.WorkspaceID

		existing, err := s.store.FindReaction(ctx, message.ID, member.ID, value)
		if err != nil {
			return err
		}
		if existing != nil {
			reactionID = existing.ID
			eventType = "reaction.deleted"
			return s.store.DeleteReaction(ctx, existing.ID)
		}
		eventType = "reaction.created"
		stored, err := s.store.InsertReaction(ctx, store.Reaction{
			ID:          util.NewID("rxn"),
			WorkspaceID: message.WorkspaceID,
			MessageID:   message.ID,
			MemberID:    member.ID,
			Value:       value,
			CreatedAt:   s.timestamp(),
		})
		if err != nil {
			return err
		}
		reactionID = stored.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, eventType, workspaceID, reactionID)
	return reactionID, nil
}
