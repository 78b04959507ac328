package model

import "time"

// Friend edge states.
const (
	FriendStatusPending  = "pending"
	FriendStatusAccepted = "accepted"
)

// FriendEdge is an ordered (requester, recipient) pair. A friendship is one
// edge regardless of which side queries it; lookups union both directions.
type FriendEdge struct {
	Requester string    `json:"requester"`
	Recipient string    `json:"recipient"`
	Status    string    `json:"status"`
	SentAt    time.Time `json:"sent_at"`
}

// Counterpart returns the other side of the edge relative to username.
func (e FriendEdge) Counterpart(username string) string {
	if e.Requester == username {
		return e.Recipient
	}
	return e.Requester
}
