package domain

// Participant represents a remote user's presence in a room.
// No transport or negotiation logic here.
type Participant struct {
	User  *User
	Muted bool // as last broadcast via mic_status; true until told otherwise
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
// A participant starts muted: nothing is heard before a mic_status arrives.
func NewParticipant(user *User) *Participant {
	return &Participant{User: user, Muted: true}
}
