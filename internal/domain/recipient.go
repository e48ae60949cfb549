package domain

import "fmt"

// Recipient keys a notification feed. Client refs and staff actor refs are
// separate id spaces, so each kind carries its own prefix.
type Recipient string

// ClientRecipient is the feed of every user acting for clientRef.
func ClientRecipient(clientRef int64) Recipient {
	return Recipient(fmt.Sprintf("client:%d", clientRef))
}

// StaffRecipient is the feed of one agent or administrator.
func StaffRecipient(actorRef int64) Recipient {
	return Recipient(fmt.Sprintf("staff:%d", actorRef))
}
