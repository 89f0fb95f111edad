package app

import (
	"context"
	"net/http"
)

type UploadTicket struct {
	UploadURL string `json:"uploadUrl"`
	StorageID string `json:"storageId"`
}

// GenerateUploadURL hands an authenticated caller a one-off upload target.
func (s *Service) GenerateUploadURL(ctx context.Context, caller Caller) (UploadTicket, error) {
	if !caller.Authenticated() {
		return UploadTicket{}, unauthorized()
	}
	if s.uploads == nil {
		return UploadTicket{}, domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "Uploads are not configured", nil)
	}
	key, url, err := s.uploads.UploadURL(ctx)
	if err != nil {
		return UploadTicket{}, err
	}
	return UploadTicket{UploadURL: url, StorageID: key}, nil
}
