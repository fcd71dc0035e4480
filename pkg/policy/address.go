// Package policy implements email address parsing and acceptance rules.
package policy

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"

	"github.com/tempmaild/tempmaild/pkg/config"
)

// Addressing handles email address policy for the deployment's domain.
type Addressing struct {
	Config *config.Root
}

// AcceptsDomain indicates whether mail destined for the specified domain is
// accepted by this deployment.  Exactly one domain is accepted.
func (a *Addressing) AcceptsDomain(domain string) bool {
	return strings.EqualFold(domain, a.Config.SMTP.Domain)
}

// NewRecipient parses an address into a Recipient.
func (a *Addressing) NewRecipient(address string) (*Recipient, error) {
	local, domain, err := ParseEmailAddress(address)
	if err != nil {
		return nil, err
	}
	mailbox, err := ParseMailboxName(local)
	if err != nil {
		return nil, err
	}
	ar, err := mail.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return &Recipient{
		Address:    *ar,
		addrPolicy: a,
		LocalPart:  local,
		Domain:     domain,
		Mailbox:    mailbox,
	}, nil
}

// ParseOrigin parses a sender address into an Origin.  Origins are not
// subject to domain policy; any syntactically valid address is allowed.
func (a *Addressing) ParseOrigin(address string) (*Origin, error) {
	local, domain, err := parseEmailAddress(address)
	if err != nil {
		return nil, err
	}
	ar, err := mail.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return &Origin{
		Address:   *ar,
		LocalPart: local,
		Domain:    domain,
	}, nil
}

// ParseEmailAddress unescapes an email address, and splits the local part
// from the domain part.  An error is returned if the local or domain parts
// fail validation following the guidelines in RFC 3696.
func ParseEmailAddress(address string) (local string, domain string, err error) {
	local, domain, err = parseEmailAddress(address)
	if err != nil {
		return "", "", err
	}
	if !ValidateDomainPart(domain) {
		return "", "", fmt.Errorf("domain part validation failed")
	}
	return local, domain, nil
}

// ParseMailboxName takes a local part (ex: "user+ext" without "@domain") and
// returns the canonical mailbox name (ex: "user"): lowercased, +extension
// stripped.  Returns an error when the local part contains characters that a
// mailbox name may not.
func ParseMailboxName(localPart string) (string, error) {
	if localPart == "" {
		return "", fmt.Errorf("mailbox name cannot be empty")
	}
	result := strings.ToLower(localPart)
	invalid := make([]byte, 0, 10)
	for i := 0; i < len(result); i++ {
		c := result[i]
		switch {
		case 'a' <= c && c <= 'z':
		case '0' <= c && c <= '9':
		case c == '.' || c == '-' || c == '_' || c == '+':
		default:
			invalid = append(invalid, c)
		}
	}
	if len(invalid) > 0 {
		return "", fmt.Errorf("mailbox name contained invalid character(s): %q", invalid)
	}
	if idx := strings.IndexByte(result, '+'); idx > -1 {
		result = result[:idx]
	}
	if result == "" {
		return "", fmt.Errorf("mailbox name cannot be empty")
	}
	return result, nil
}

// ValidateDomainPart returns true if the domain part complies with RFC 3696
// and RFC 1035.
func ValidateDomainPart(domain string) bool {
	if len(domain) == 0 || len(domain) > 255 {
		return false
	}
	if domain[len(domain)-1] != '.' {
		domain += "."
	}
	prev := '.'
	labelLen := 0
	hasAlphaNum := false
	for _, c := range domain {
		switch {
		case ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') ||
			('0' <= c && c <= '9') || c == '_':
			hasAlphaNum = true
			labelLen++
		case c == '-':
			if prev == '.' {
				// Cannot lead with hyphen.
				return false
			}
		case c == '.':
			if prev == '.' || prev == '-' {
				// Cannot end with hyphen or double-dot.
				return false
			}
			if labelLen > 63 || !hasAlphaNum {
				return false
			}
			labelLen = 0
			hasAlphaNum = false
		default:
			return false
		}
		prev = c
	}
	return true
}

// parseEmailAddress unescapes an email address, and splits the local part
// from the domain part.  An error is returned if the local part fails
// validation per RFC 3696; the domain part is optional and not validated.
func parseEmailAddress(address string) (local string, domain string, err error) {
	if address == "" {
		return "", "", fmt.Errorf("empty address")
	}
	if len(address) > 320 {
		return "", "", fmt.Errorf("address exceeds 320 characters")
	}
	if address[0] == '@' {
		return "", "", fmt.Errorf("address cannot start with @ symbol")
	}
	if address[0] == '.' {
		return "", "", fmt.Errorf("address cannot start with a period")
	}
	// Walk the address accumulating the unescaped local part.
	buf := new(bytes.Buffer)
	prev := byte('.')
	inCharQuote := false
	inStringQuote := false
LOOP:
	for i := 0; i < len(address); i++ {
		c := address[i]
		switch {
		case ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9'):
			buf.WriteByte(c)
			inCharQuote = false
		case bytes.IndexByte([]byte("!#$%&'*+-/=?^_`{|}~"), c) >= 0:
			// These specials can be used unquoted.
			buf.WriteByte(c)
			inCharQuote = false
		case c == '.':
			if prev == '.' {
				return "", "", fmt.Errorf("sequence of periods is not permitted")
			}
			buf.WriteByte(c)
			inCharQuote = false
		case c == '\\':
			inCharQuote = true
		case c == '"':
			switch {
			case inCharQuote:
				buf.WriteByte(c)
				inCharQuote = false
			case inStringQuote:
				inStringQuote = false
			case i == 0:
				inStringQuote = true
			default:
				return "", "", fmt.Errorf("quoted string can only begin at start of address")
			}
		case c == '@':
			if inCharQuote || inStringQuote {
				buf.WriteByte(c)
				inCharQuote = false
			} else {
				// End of local part.
				if i > 128 {
					return "", "", fmt.Errorf("local part must not exceed 128 characters")
				}
				if prev == '.' {
					return "", "", fmt.Errorf("local part cannot end with a period")
				}
				domain = address[i+1:]
				break LOOP
			}
		case c > 127:
			return "", "", fmt.Errorf("characters outside of US-ASCII range not permitted")
		default:
			if inCharQuote || inStringQuote {
				buf.WriteByte(c)
				inCharQuote = false
			} else {
				return "", "", fmt.Errorf("character %q must be quoted", c)
			}
		}
		prev = c
	}
	if inCharQuote {
		return "", "", fmt.Errorf("cannot end address with unterminated quoted-pair")
	}
	if inStringQuote {
		return "", "", fmt.Errorf("cannot end address with unterminated string quote")
	}
	return buf.String(), domain, nil
}
