package model

import (
	"time"
)

const (
	// DefaultPageLimit matches the catalog API's default page size.
	DefaultPageLimit = 10

	// MaxPageLimit caps a single catalog page.
	MaxPageLimit = 100
)

// Thread is an assistant conversation thread known to the catalog. The ID is
// issued by the assistant engine.
type Thread struct {
	ID        string    `json:"openaiThreadId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Assistant is an assistant known to the catalog. The ID is issued by the
// assistant engine.
type Assistant struct {
	ID        string    `json:"openaiAssistantId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Page is a limit/offset window over a catalog listing.
type Page struct {
	Limit  int
	Offset int
}

// Normalize applies the default limit and clamps out-of-range values.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// CreateAssistantRequest registers an existing assistant id, or asks the
// engine to create one when AssistantID is empty.
type CreateAssistantRequest struct {
	AssistantID  string `json:"assistantId"`
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
	Model        string `json:"model"`
}
