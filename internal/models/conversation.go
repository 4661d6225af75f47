package models

import "time"

// Conversation is a direct (2-party) or group (3+ party) messaging thread.
// Name is set for groups and nil for direct conversations.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	Name      *string   `db:"name" json:"name"`
	IsGroup   bool      `db:"is_group" json:"is_group"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Participant is the membership of one actor in one conversation.
type Participant struct {
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	UserID         string    `db:"user_id" json:"user_id"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
}

// ConversationSummary is the API-friendly view of one conversation for a
// user: the conversation row plus the other participants' ids.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Name         *string   `json:"name"`
	IsGroup      bool      `json:"is_group"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConversationView is the display shape of a conversation relative to a
// viewer. Exactly one of the two concrete cases implements it.
type ConversationView interface {
	ConversationID() string
}

// DirectView is a 1:1 conversation seen from one side.
type DirectView struct {
	ID         string `json:"id"`
	OtherActor string `json:"other_actor"`
}

func (v DirectView) ConversationID() string { return v.ID }

// GroupView is a named group conversation.
type GroupView struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ParticipantCount int    `json:"participant_count"`
}

func (v GroupView) ConversationID() string { return v.ID }
