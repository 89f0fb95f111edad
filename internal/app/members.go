package app

import (
	"context"
	"strings"
	"time"

	"huddle/api/internal/rbac"
	"huddle/api/internal/store"
)

type UserView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

type MemberView struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	WorkspaceID string    `json:"workspaceId"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

type MemberWithUser struct {
	MemberView
	User UserView `json:"user"`
}

func memberView(m store.Member) MemberView {
	return MemberView{
		ID:          m.ID,
		UserID:      m.UserID,
		WorkspaceID: m.WorkspaceID,
		Role:        m.Role,
		CreatedAt:   m.CreatedAt,
	}
}

func userView(u store.User) UserView {
	return UserView{ID: u.ID, Name: u.Name, Email: u.Email, Image: u.Image}
}

// withUser attaches the member's user; nil when the user no longer resolves.
func (s *Service) withUser(ctx context.Context, m store.Member) (*MemberWithUser, error) {
	user, err := s.store.GetUser(ctx, m.UserID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &MemberWithUser{MemberView: memberView(m), User: userView(user)}, nil
}

// CurrentMember returns the caller's own member record, or nil.
func (s *Service) CurrentMember(ctx context.Context, caller Caller, workspaceID string) (*MemberView, error) {
	member, err := s.getMember(ctx, caller, workspaceID)
	if err != nil || member == nil {
		return nil, err
	}
	view := memberView(*member)
	return &view, nil
}

func (s *Service) ListMembers(ctx context.Context, caller Caller, workspaceID string) ([]MemberWithUser, error) {
	items := make([]MemberWithUser, 0)
	member, err := s.getMember(ctx, caller, workspaceID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return items, nil
	}
	members, err := s.store.ListMembers(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		item, err := s.withUser(ctx, m)
		if err != nil {
			return nil, err
		}
		if item != nil {
			items = append(items, *item)
		}
	}
	return items, nil
}

// GetMember returns nil unless the caller belongs to the same workspace.
func (s *Service) GetMember(ctx context.Context, caller Caller, memberID string) (*MemberWithUser, error) {
	target, err := s.store.GetMemberByID(ctx, memberID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	member, err := s.getMember(ctx, caller, target.WorkspaceID)
	if err != nil || member == nil {
		return nil, err
	}
	return s.withUser(ctx, target)
}

func (s *Service) loadMember(ctx context.Context, memberID string) (store.Member, error) {
	member, err := s.store.GetMemberByID(ctx, memberID)
	if isNotFound(err) {
		return store.Member{}, notFound("Member")
	}
	return member, err
}

// UpdateMember changes a member's role. Admin only.
func (s *Service) UpdateMember(ctx context.Context, caller Caller, memberID, role string) (string, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if !rbac.Valid(role) {
		return "", invalidInput("role must be admin or member")
	}
	var workspaceID string
	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		target, err := s.loadMember(ctx, memberID)
		if err != nil {
			return err
		}
		if _, err := s.requireAdmin(ctx, caller, target.WorkspaceID); err != nil {
			return err
		}
		workspaceID = target.WorkspaceID
		return s.store.UpdateMemberRole(ctx, memberID, role)
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, "member.updated", workspaceID, memberID)
	return memberID, nil
}

// RemoveMember lets admins remove others and members leave on their own.
// Admin members are never removed; demote them first.
func (s *Service) RemoveMember(ctx context.Context, caller Caller, memberID string) (string, error) {
	var workspaceID string
	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		target, err := s.loadMember(ctx, memberID)
		if err != nil {
			return err
		}
		current, err := s.requireMember(ctx, caller, target.WorkspaceID)
		if err != nil {
			return err
		}
		isSelf := current.ID == target.ID
		if !isSelf && !rbac.IsAdmin(current.Role) {
			return forbidden()
		}
		if rbac.IsAdmin(target.Role) {
			if isSelf {
				return invalidInput("Cannot leave a workspace as its admin")
			}
			return invalidInput("Admin cannot be removed")
		}
		workspaceID = target.WorkspaceID
		return s.store.DeleteMember(ctx, memberID)
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, "member.deleted", workspaceID, memberID)
	return memberID, nil
}
