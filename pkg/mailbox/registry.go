// Package mailbox manages the mailbox namespace on top of a storage.Store.
package mailbox

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tempmaild/tempmaild/pkg/config"
	"github.com/tempmaild/tempmaild/pkg/policy"
	"github.com/tempmaild/tempmaild/pkg/storage"
)

// ErrExhausted indicates random name generation ran out of attempts.
var ErrExhausted = errors.New("failed to generate an unused mailbox name")

// nameAlphabet is the character set for generated mailbox names; all members
// are already canonical under policy.ParseMailboxName.
const nameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Registry owns mailbox creation and lookup.  All names pass through
// policy.ParseMailboxName, so storage only ever sees canonical names.
type Registry struct {
	store      storage.Store
	nameLength int
	maxLength  int
	attempts   int
	clock      func() time.Time // Overridden in tests.
}

// NewRegistry creates a Registry backed by store.
func NewRegistry(cfg config.Mailbox, store storage.Store) *Registry {
	return &Registry{
		store:      store,
		nameLength: cfg.NameLength,
		maxLength:  cfg.NameMaxLength,
		attempts:   cfg.NameAttempts,
		clock:      time.Now,
	}
}

// Create claims the named mailbox.  The name is canonicalized first; claiming
// a name that is already taken fails with storage.ErrConflict.
func (r *Registry) Create(name string) (*storage.Mailbox, error) {
	canonical, err := policy.ParseMailboxName(name)
	if err != nil {
		return nil, err
	}
	if r.maxLength > 0 && len(canonical) > r.maxLength {
		return nil, fmt.Errorf("mailbox name exceeds %v characters", r.maxLength)
	}
	mb, err := r.store.AddMailbox(canonical, r.clock())
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "mailbox").Str("mailbox", mb.Name).Msg("Mailbox created")
	return mb, nil
}

// CreateRandom claims a mailbox under a randomly generated name, retrying on
// collision.  Fails with ErrExhausted once the attempt budget is spent.
func (r *Registry) CreateRandom() (*storage.Mailbox, error) {
	for i := 0; i < r.attempts; i++ {
		name, err := randomName(r.nameLength)
		if err != nil {
			return nil, err
		}
		mb, err := r.store.AddMailbox(name, r.clock())
		if err == nil {
			log.Info().Str("module", "mailbox").Str("mailbox", mb.Name).Msg("Mailbox created")
			return mb, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %v attempts", ErrExhausted, r.attempts)
}

// Lookup fetches the mailbox record for name, canonicalizing first.
func (r *Registry) Lookup(name string) (*storage.Mailbox, error) {
	canonical, err := policy.ParseMailboxName(name)
	if err != nil {
		return nil, err
	}
	return r.store.GetMailbox(canonical)
}

// Resolve maps an inbound recipient mailbox name to a mailbox record.  When
// autoCreate is set, an unknown name is claimed on the spot; a concurrent
// claim of the same name is treated as success for both callers.
func (r *Registry) Resolve(name string, autoCreate bool) (*storage.Mailbox, error) {
	canonical, err := policy.ParseMailboxName(name)
	if err != nil {
		return nil, err
	}
	mb, err := r.store.GetMailbox(canonical)
	if err == nil {
		return mb, nil
	}
	if !errors.Is(err, storage.ErrNotExist) || !autoCreate {
		return nil, err
	}
	mb, err = r.store.AddMailbox(canonical, r.clock())
	if err == nil {
		log.Info().Str("module", "mailbox").Str("mailbox", mb.Name).Msg("Mailbox auto-created")
		return mb, nil
	}
	if errors.Is(err, storage.ErrConflict) {
		// Lost the race to another arrival; the mailbox exists now.
		return r.store.GetMailbox(canonical)
	}
	return nil, err
}

// Remove deletes the mailbox and its contents.
func (r *Registry) Remove(name string) error {
	canonical, err := policy.ParseMailboxName(name)
	if err != nil {
		return err
	}
	return r.store.RemoveMailbox(canonical)
}

// randomName generates a random lowercase alphanumeric name.
func randomName(length int) (string, error) {
	max := big.NewInt(int64(len(nameAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating mailbox name: %w", err)
		}
		b[i] = nameAlphabet[n.Int64()]
	}
	return string(b), nil
}
