package app

import (
	"context"
	"strings"
	"time"

	"huddle/api/internal/rbac"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

const (
	joinCodeLength     = 6
	defaultChannelName = "general"
)

type WorkspaceView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerUserID string    `json:"ownerUserId"`
	JoinCode    string    `json:"joinCode"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WorkspaceInfo is the shape shown on join pages to anyone holding a link.
type WorkspaceInfo struct {
	Name     string `json:"name"`
	IsMember bool   `json:"isMember"`
}

func workspaceView(ws store.Workspace) WorkspaceView {
	return WorkspaceView{
		ID:          ws.ID,
		Name:        ws.Name,
		OwnerUserID: ws.OwnerUserID,
		JoinCode:    ws.JoinCode,
		CreatedAt:   ws.CreatedAt,
	}
}

// CreateWorkspace creates the workspace with the caller as its admin and a
// "general" channel.
func (s *Service) CreateWorkspace(ctx context.Context, caller Caller, name string) (string, error) {
	if !caller.Authenticated() {
		return "", unauthorized()
	}
	name, err := validateName("name", name)
	if err != nil {
		return "", err
	}

	now := s.timestamp()
	workspace := store.Workspace{
		ID:          util.NewID("ws"),
		Name:        name,
		OwnerUserID: caller.UserID,
		JoinCode:    util.NewJoinCode(joinCodeLength),
		CreatedAt:   now,
	}
	err = s.store.Atomic(ctx, func(ctx context.Context) error {
		if err := s.store.InsertWorkspace(ctx, workspace); err != nil {
			return err
		}
		if err := s.store.InsertMember(ctx, store.Member{
			ID:          util.NewID("mem"),
			UserID:      caller.UserID,
			WorkspaceID: workspace.ID,
			Role:        string(rbac.RoleAdmin),
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		return s.store.InsertChannel(ctx, store.Channel{
			ID:          util.NewID("chn"),
			WorkspaceID: workspace.ID,
			Name:        defaultChannelName,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, "workspace.created", workspace.ID, workspace.ID)
	return workspace.ID, nil
}

// ListWorkspaces returns the workspaces the caller belongs to. Anonymous
// callers get an empty list.
func (s *Service) ListWorkspaces(ctx context.Context, caller Caller) ([]WorkspaceView, error) {
	items := make([]WorkspaceView, 0)
	if !caller.Authenticated() {
		return items, nil
	}
	workspaces, err := s.store.ListWorkspacesForUser(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	for _, ws := range workspaces {
		items = append(items, workspaceView(ws))
	}
	return items, nil
}

func (s *Service) GetWorkspaceInfo(ctx context.Context, caller Caller, workspaceID string) (*WorkspaceInfo, error) {
	workspace, err := s.store.GetWorkspace(ctx, workspaceID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	member, err := s.getMember(ctx, caller, workspaceID)
	if err != nil {
		return nil, err
	}
	return &WorkspaceInfo{Name: workspace.Name, IsMember: member != nil}, nil
}

// GetWorkspace returns nil unless the caller is a member.
func (s *Service) GetWorkspace(ctx context.Context, caller Caller, workspaceID string) (*WorkspaceView, error) {
	member, err := s.getMember(ctx, caller, workspaceID)
	if err != nil || member == nil {
		return nil, err
	}
	workspace, err := s.store.GetWorkspace(ctx, workspaceID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	view := workspaceView(workspace)
	return &view, nil
}

func (s *Service) UpdateWorkspace(ctx context.Context, caller Caller, workspaceID, name string) (string, error) {
	name, err := validateName("name", name)
	if err != nil {
		return "", err
	}
	err = s.store.Atomic(ctx, func(ctx context.Context) error {
		if _, err := s.requireAdmin(ctx, caller, workspaceID); err != nil {
			return err
		}
		return s.store.UpdateWorkspaceName(ctx, workspaceID, name)
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, "workspace.updated", workspaceID, workspaceID)
	return workspaceID, nil
}

// RemoveWorkspace deletes the workspace with its members, channels,
// conversations, messages and reactions.
func (s *Service) RemoveWorkspace(ctx context.Context, caller Caller, workspaceID string) (string, error) {
	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		if _, err := s.requireAdmin(ctx, caller, workspaceID); err != nil {
			return err
		}
		return s.store.DeleteWorkspace(ctx, workspaceID)
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, "workspace.deleted", workspaceID, workspaceID)
	return workspaceID, nil
}

// RegenerateJoinCode replaces the join code; previously shared codes stop working.
func (s *Service) RegenerateJoinCode(ctx context.Context, caller Caller, workspaceID string) (WorkspaceView, error) {
	var view WorkspaceView
	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		if _, err := s.requireAdmin(ctx, caller, workspaceID); err != nil {
			return err
		}
		if err := s.store.UpdateJoinCode(ctx, workspaceID, util.NewJoinCode(joinCodeLength)); err != nil {
			return err
		}
		workspace, err := s.store.GetWorkspace(ctx, workspaceID)
		if err != nil {
			return err
		}
		view = workspaceView(workspace)
		return nil
	})
	if err != nil {
		return WorkspaceView{}, err
	}
	s.publish(ctx, "workspace.updated", workspaceID, workspaceID)
	return view, nil
}

// JoinWorkspace adds the caller as a plain member when the code matches.
func (s *Service) JoinWorkspace(ctx context.Context, caller Caller, workspaceID, joinCode string) (string, error) {
	if !caller.Authenticated() {
		return "", unauthorized()
	}
	var memberID string
	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		workspace, err := s.store.GetWorkspace(ctx, workspaceID)
		if isNotFound(err) {
			return notFound("Workspace")
		}
		if err != nil {
			return err
		}
		if !strings.EqualFold(strings.TrimSpace(joinCode), workspace.JoinCode) {
			return invalidInput("Invalid join code")
		}
		existing, err := s.getMember(ctx, caller, workspaceID)
		if err != nil {
			return err
		}
		if existing != nil {
			return invalidInput("Already a member of this workspace")
		}
		memberID = util.NewID("mem")
		return s.store.InsertMember(ctx, store.Member{
			ID:          memberID,
			UserID:      caller.UserID,
			WorkspaceID: workspaceID,
			Role:        string(rbac.RoleMember),
			CreatedAt:   s.timestamp(),
		})
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, "member.created", workspaceID, memberID)
	return workspaceID, nil
}
