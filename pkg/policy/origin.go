package policy

import "net/mail"

// Origin represents the sender of an incoming message.
type Origin struct {
	mail.Address
	// LocalPart is the part of the address before @, including +extension.
	LocalPart string
	// Domain is the part of the address after @.
	Domain string
}
