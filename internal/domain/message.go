package domain

import "time"

// Role indicates which audience a participant belongs to.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleStaff   Role = "STAFF"
)

// Roles lists every audience the read-state map tracks.
var Roles = []Role{RoleStudent, RoleStaff}

// ReadState marks whether an audience has observed a message.
type ReadState string

const (
	ReadStateUnread ReadState = "UNREAD"
	ReadStateRead   ReadState = "READ"
)

// Message is one entry in a ticket thread. Seq is strictly increasing and
// gapless per ticket in delivered order. Messages are never edited or
// deleted once accepted.
type Message struct {
	ID          string
	TicketID    string
	Seq         int64
	SenderRole  Role
	SenderID    string
	Body        string
	Attachments []AttachmentReference
	SentAt      time.Time

	// ReadStates holds one independent cell per audience role. The sender's
	// own role starts Read, every other role starts Unread.
	ReadStates map[Role]ReadState
}

// ReadBy reports whether the given audience has observed the message.
func (m *Message) ReadBy(role Role) bool {
	return m.ReadStates[role] == ReadStateRead
}

// NewReadStates builds the initial read-state map for a message sent by
// senderRole.
func NewReadStates(senderRole Role) map[Role]ReadState {
	states := make(map[Role]ReadState, len(Roles))
	for _, role := range Roles {
		if role == senderRole {
			states[role] = ReadStateRead
		} else {
			states[role] = ReadStateUnread
		}
	}
	return states
}
