package dto

import "github.com/glebrm/inspect-backend/internal/records"

type CaptureResponse struct {
	Draft    records.Record `json:"draft"`
	Errors   []string       `json:"errors"`
	Warnings []string       `json:"warnings"`
}

// ListResponse carries the record collection. SyncError is set once,
// on the first read after a background save failed, so the client can
// surface the lost edit.
type ListResponse struct {
	Records   []records.Record `json:"records"`
	Total     int              `json:"total"`
	SyncError *string          `json:"sync_error,omitempty"`
}

type CommentRequest struct {
	Text string `json:"text"`
}

type CreatedResponse struct {
	ID string `json:"id"`
}

type CalendarDay struct {
	Date    string           `json:"date"`
	Records []records.Record `json:"records"`
}

type CalendarResponse struct {
	Month string        `json:"month"`
	Days  []CalendarDay `json:"days"`
}
