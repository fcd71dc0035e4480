package mailbox

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tempmaild/tempmaild/pkg/config"
	"github.com/tempmaild/tempmaild/pkg/storage"
	"github.com/tempmaild/tempmaild/pkg/storage/mem"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := mem.New(config.Storage{})
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Mailbox{NameLength: 10, NameAttempts: 8, NameMaxLength: 64}
	return NewRegistry(cfg, store)
}

func TestCreateCanonicalizes(t *testing.T) {
	r := testRegistry(t)
	mb, err := r.Create("First.Last+Extension")
	if err != nil {
		t.Fatal(err)
	}
	if mb.Name != "first.last" {
		t.Errorf("got name %q, want %q", mb.Name, "first.last")
	}
	// Lookup under any alias of the same mailbox succeeds.
	for _, alias := range []string{"first.last", "FIRST.LAST", "first.last+other"} {
		if _, err := r.Lookup(alias); err != nil {
			t.Errorf("Lookup(%q) failed: %v", alias, err)
		}
	}
}

func TestCreateConflict(t *testing.T) {
	r := testRegistry(t)
	if _, err := r.Create("popular"); err != nil {
		t.Fatal(err)
	}
	_, err := r.Create("Popular")
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("got err %v, want ErrConflict", err)
	}
}

func TestCreateInvalidName(t *testing.T) {
	r := testRegistry(t)
	for _, name := range []string{"", "has space", "non#sense", "+ext.only"} {
		if _, err := r.Create(name); err == nil {
			t.Errorf("Create(%q) did not fail", name)
		}
	}
}

func TestCreateNameTooLong(t *testing.T) {
	r := testRegistry(t)
	if _, err := r.Create(strings.Repeat("a", 64)); err != nil {
		t.Errorf("Create of 64 character name failed: %v", err)
	}
	if _, err := r.Create(strings.Repeat("b", 65)); err == nil {
		t.Error("Create of 65 character name did not fail")
	}
}

func TestCreateRandom(t *testing.T) {
	r := testRegistry(t)
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		mb, err := r.CreateRandom()
		if err != nil {
			t.Fatal(err)
		}
		if len(mb.Name) != 10 {
			t.Errorf("got name %q of length %v, want 10", mb.Name, len(mb.Name))
		}
		if strings.Trim(mb.Name, nameAlphabet) != "" {
			t.Errorf("name %q contains characters outside the alphabet", mb.Name)
		}
		if _, ok := seen[mb.Name]; ok {
			t.Errorf("name %q generated twice", mb.Name)
		}
		seen[mb.Name] = struct{}{}
		// The name must be immediately resolvable.
		if _, err := r.Lookup(mb.Name); err != nil {
			t.Errorf("Lookup(%q) failed: %v", mb.Name, err)
		}
	}
}

// conflictStore always reports a name collision.
type conflictStore struct {
	storage.Store
	attempts int
}

func (c *conflictStore) AddMailbox(name string, _ time.Time) (*storage.Mailbox, error) {
	c.attempts++
	return nil, storage.ErrConflict
}

func TestCreateRandomExhausted(t *testing.T) {
	cs := &conflictStore{}
	r := NewRegistry(config.Mailbox{NameLength: 10, NameAttempts: 8}, cs)
	_, err := r.CreateRandom()
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("got err %v, want ErrExhausted", err)
	}
	if cs.attempts != 8 {
		t.Errorf("got %v attempts, want 8", cs.attempts)
	}
}

func TestResolveAutoCreate(t *testing.T) {
	r := testRegistry(t)
	mb, err := r.Resolve("Walk.In+tag", true)
	if err != nil {
		t.Fatal(err)
	}
	if mb.Name != "walk.in" {
		t.Errorf("got name %q, want %q", mb.Name, "walk.in")
	}
	// Second resolve returns the existing record.
	again, err := r.Resolve("walk.in", true)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Created.Equal(mb.Created) {
		t.Errorf("second resolve created a new record")
	}
}

func TestResolveNoAutoCreate(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Resolve("stranger", false)
	if !errors.Is(err, storage.ErrNotExist) {
		t.Errorf("got err %v, want ErrNotExist", err)
	}
}

func TestConcurrentCreate(t *testing.T) {
	r := testRegistry(t)
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	conflicts := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create("contested")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, storage.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Errorf("got %v successful creates, want exactly 1", successes)
	}
	if conflicts != 15 {
		t.Errorf("got %v conflicts, want 15", conflicts)
	}
}

func TestConcurrentResolveAutoCreate(t *testing.T) {
	r := testRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve("contested", true); err != nil {
				t.Errorf("Resolve failed: %v", err)
			}
		}()
	}
	wg.Wait()
}
