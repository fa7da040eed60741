package api

import (
	"encoding/json"
	"time"

	"github.com/TimurManjosov/flagship-go/internal/engine"
)

// UserDTO is the API-layer evaluation context.
type UserDTO struct {
	Identifier string         `json:"identifier"`
	Email      string         `json:"email,omitempty"`
	Country    string         `json:"country,omitempty"`
	Custom     map[string]any `json:"custom,omitempty"`
}

func (u *UserDTO) toUser() *engine.User {
	if u == nil {
		return nil
	}
	return &engine.User{Identifier: u.Identifier, Email: u.Email, Country: u.Country, Custom: u.Custom}
}

// EvaluateRequest is the request payload for POST /v1/evaluate.
type EvaluateRequest struct {
	Key          string          `json:"key"`
	DefaultValue json.RawMessage `json:"defaultValue,omitempty"`
	User         *UserDTO        `json:"user,omitempty"`
}

// EvaluateAllRequest is the request payload for POST /v1/evaluate/all.
type EvaluateAllRequest struct {
	User *UserDTO `json:"user,omitempty"`
}

// EvaluateAllResponse is the response payload for POST /v1/evaluate/all.
type EvaluateAllResponse struct {
	Flags []engine.Details `json:"flags"`
}

// FlagsResponse is the response payload for GET /v1/flags.
type FlagsResponse struct {
	Keys      []string   `json:"keys"`
	ETag      string     `json:"etag,omitempty"`
	FetchTime *time.Time `json:"fetchTime,omitempty"`
}

// RefreshResponse is the response payload for POST /v1/refresh.
type RefreshResponse struct {
	Success bool `json:"success"`
}
