package domain

import "time"

type UserID string

type User struct {
	ID        UserID
	Username  string
	CreatedAt time.Time
}

// Participant returns the call-facing view of the user.
func (u User) Participant() Participant {
	return Participant{ID: u.ID, Description: u.Username}
}
