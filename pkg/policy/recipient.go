package policy

import "net/mail"

// Recipient represents a potential email recipient, allows policies for it to
// be queried.
type Recipient struct {
	mail.Address
	addrPolicy *Addressing
	// LocalPart is the part of the address before @, including +extension.
	LocalPart string
	// Domain is the part of the address after @.
	Domain string
	// Mailbox is the canonical mailbox name for this recipient.
	Mailbox string
}

// ShouldAccept returns true if this deployment accepts mail for the recipient.
func (r *Recipient) ShouldAccept() bool {
	return r.addrPolicy.AcceptsDomain(r.Domain)
}
