package api

import (
	"msg_client/client/chat/domain"
	"msg_client/client/common/transport/httpresp"
)

type ErrorResponse = httpresp.ErrorResponse
type OKResponse = httpresp.OKResponse

type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

type StateResponse struct {
	State   string                  `json:"state"`
	Subject string                  `json:"subject,omitempty"`
	Stats   any                     `json:"stats"`
	Online  domain.PresenceSnapshot `json:"presence"`
}

type SendMessageRequest struct {
	Body        string              `json:"body"`
	Attachments []domain.Attachment `json:"attachments"`
}

type TypingRequest struct {
	IsTyping *bool `json:"is_typing"`
}

type MarkReadRequest struct {
	MessageID string `json:"message_id"`
}

type CreateChannelRequest struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	MemberIDs []string `json:"member_ids"`
}

func NewErrorResponse(message string) ErrorResponse {
	return httpresp.NewErrorResponse(message)
}

func NewOKResponse() OKResponse {
	return httpresp.NewOKResponse()
}

func NewHealthResponse(status string, state domain.ConnectionState) HealthResponse {
	return HealthResponse{Status: status, State: state.String()}
}
