package domain

import "time"

type CallID string

type CallStatus string

const (
	CallStatusActive CallStatus = "active"
	CallStatusEnded  CallStatus = "ended"
)

type Participant struct {
	ID          UserID `json:"id"`
	Description string `json:"description"`
	Avatar      string `json:"avatar,omitempty"`
}

type Call struct {
	ID           CallID        `json:"id"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	Status       CallStatus    `json:"status"`
}

// End marks the call ended. An ended call is never modified again.
func (c *Call) End(at time.Time) bool {
	if c.Status == CallStatusEnded {
		return false
	}
	c.Status = CallStatusEnded
	c.EndedAt = &at
	return true
}

func (c *Call) IsActive() bool {
	return c.Status == CallStatusActive
}

// HasParticipant reports whether id takes part in the call.
func (c *Call) HasParticipant(id UserID) bool {
	for _, p := range c.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Peers returns every participant except self.
func (c *Call) Peers(self UserID) []Participant {
	peers := make([]Participant, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.ID != self {
			peers = append(peers, p)
		}
	}
	return peers
}

// PeerIDs returns the ids of every participant except self.
func (c *Call) PeerIDs(self UserID) []UserID {
	ids := make([]UserID, 0, len(c.Participants))
	for _, p := range c.Peers(self) {
		ids = append(ids, p.ID)
	}
	return ids
}

func (c *Call) Clone() *Call {
	out := *c
	out.Participants = append([]Participant(nil), c.Participants...)
	if c.EndedAt != nil {
		at := *c.EndedAt
		out.EndedAt = &at
	}
	return &out
}

type TranscriptEntry struct {
	User      UserID    `json:"user"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type CallWithTranscript struct {
	Call       Call              `json:"call"`
	Transcript []TranscriptEntry `json:"transcript"`
}
