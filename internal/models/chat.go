package models

import (
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	ModeDiscrete Mode = "discrete"
	ModeHybrid   Mode = "hybrid"
)

// ParseMode is case-insensitive and defaults to discrete for an empty value.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeDiscrete):
		return ModeDiscrete, nil
	case string(ModeHybrid):
		return ModeHybrid, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ConversationTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type CollectionStatus string

const (
	StatusPending   CollectionStatus = "pending"
	StatusCompleted CollectionStatus = "completed"
	StatusFailed    CollectionStatus = "failed"
)

// Collection is the registry record of one uploaded document.
type Collection struct {
	ID         int64            `json:"id"`
	UserID     int64            `json:"user_id"`
	Filename   string           `json:"filename"`
	StoredPath string           `json:"-"`
	Status     CollectionStatus `json:"processing_status"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Name is the vector index collection for this document.
func (c Collection) Name() string {
	return CollectionName(c.UserID, c.Filename)
}

type Chat struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Name         string    `json:"name"`
	CollectionID *int64    `json:"collection_id"`
	Mode         Mode      `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
}

// PDFSource is the client-facing citation for one retrieved chunk.
type PDFSource struct {
	Type    string `json:"type"`
	Page    int    `json:"page"`
	Snippet string `json:"snippet"`
}

type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Date    string `json:"date"`
}

// SourceBundle is sent to the client before any answer tokens.
type SourceBundle struct {
	PDF []PDFSource `json:"pdf"`
	Web []WebResult `json:"web"`
}
