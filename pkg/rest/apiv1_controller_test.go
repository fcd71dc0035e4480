package rest

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tempmaild/tempmaild/pkg/config"
	"github.com/tempmaild/tempmaild/pkg/message"
	"github.com/tempmaild/tempmaild/pkg/policy"
	"github.com/tempmaild/tempmaild/pkg/storage"
	"github.com/tempmaild/tempmaild/pkg/storage/mem"
	"github.com/tempmaild/tempmaild/pkg/test"
)

const baseURL = "http://localhost/api/v1"

func testStorageConfig() config.Storage {
	return config.Storage{
		Type:          "memory",
		MailboxMsgCap: 100,
	}
}

// deliverMessage stores source into the named mailbox, creating it first.
func deliverMessage(t *testing.T, ds storage.Store, mailbox string, source string) {
	t.Helper()
	apolicy := &policy.Addressing{
		Config: &config.Root{SMTP: config.SMTP{Domain: "tempmail.local"}},
	}
	recip, err := apolicy.NewRecipient(mailbox + "@tempmail.local")
	if err != nil {
		t.Fatal(err)
	}
	origin, err := apolicy.ParseOrigin("sender@example.org")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ds.AddMailbox(recip.Mailbox, time.Now()); err != nil &&
		!errors.Is(err, storage.ErrConflict) {
		t.Fatal(err)
	}
	mm := message.NewStoreManager(ds, nil)
	if err := mm.Deliver(origin, []*policy.Recipient{recip}, []byte(source)); err != nil {
		t.Fatal(err)
	}
}

func dumpLogs(t *testing.T, logbuf io.Reader) {
	t.Helper()
	if t.Failed() {
		_, _ = io.Copy(os.Stderr, logbuf)
	}
}

func TestRestMailboxCreate(t *testing.T) {
	ds, err := mem.New(testStorageConfig())
	if err != nil {
		t.Fatal(err)
	}
	logbuf := setupWebServer(ds)
	defer dumpLogs(t, logbuf)

	// Requested names are canonicalized before the claim.
	w, err := testRestPost(baseURL+"/mailbox", `{"name": "Fred.Jones+spam"}`)
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 201 {
		t.Fatalf("Expected code 201, got %v: %s", w.Code, w.Body.String())
	}
	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	decodedStringEquals(t, result, "name", "fred.jones")
	if _, err := ds.GetMailbox("fred.jones"); err != nil {
		t.Errorf("Expected mailbox to exist, got %v", err)
	}

	// Claiming the same name again conflicts.
	w, err = testRestPost(baseURL+"/mailbox", `{"name": "FRED.JONES"}`)
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 409 {
		t.Errorf("Expected code 409, got %v", w.Code)
	}

	// Invalid names are rejected.
	w, err = testRestPost(baseURL+"/mailbox", `{"name": "not valid!"}`)
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 400 {
		t.Errorf("Expected code 400, got %v", w.Code)
	}

	// Malformed JSON is rejected.
	w, err = testRestPost(baseURL+"/mailbox", `{"name": `)
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 400 {
		t.Errorf("Expected code 400, got %v", w.Code)
	}
}

func TestRestMailboxCreateRandom(t *testing.T) {
	ds, err := mem.New(testStorageConfig())
	if err != nil {
		t.Fatal(err)
	}
	logbuf := setupWebServer(ds)
	defer dumpLogs(t, logbuf)

	// An empty body requests a generated name.
	w, err := testRestPost(baseURL+"/mailbox", "")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 201 {
		t.Fatalf("Expected code 201, got %v: %s", w.Code, w.Body.String())
	}
	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	name, ok := result["name"].(string)
	if !ok || len(name) != 10 {
		t.Fatalf("Expected 10 character name, got %q", result["name"])
	}
	for _, c := range name {
		if !(('a' <= c && c <= 'z') || ('0' <= c && c <= '9')) {
			t.Errorf("Name %q contains character %q outside generation alphabet", name, c)
		}
	}
	if _, err := ds.GetMailbox(name); err != nil {
		t.Errorf("Expected mailbox %q to exist, got %v", name, err)
	}
}

func TestRestMailboxList(t *testing.T) {
	ds, err := mem.New(testStorageConfig())
	if err != nil {
		t.Fatal(err)
	}
	logbuf := setupWebServer(ds)
	defer dumpLogs(t, logbuf)

	// Unknown mailbox.
	w, err := testRestGet(baseURL + "/mailbox/unknown")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 404 {
		t.Errorf("Expected code 404, got %v", w.Code)
	}

	deliverMessage(t, ds, "good", "Subject: subject 1\r\n\r\nbody 1\r\n")
	deliverMessage(t, ds, "good", "Subject: subject 2\r\n\r\nbody 2\r\n")

	// Empty mailboxes list successfully.
	if _, err := ds.AddMailbox("empty", time.Now()); err != nil {
		t.Fatal(err)
	}
	w, err = testRestGet(baseURL + "/mailbox/empty")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 200 {
		t.Errorf("Expected code 200, got %v", w.Code)
	}

	// Full listing in arrival order.
	w, err = testRestGet(baseURL + "/mailbox/good")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 200 {
		t.Fatalf("Expected code 200, got %v", w.Code)
	}
	var result []interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 results, got %v", len(result))
	}
	decodedStringEquals(t, result, "[0]/mailbox", "good")
	decodedStringEquals(t, result, "[0]/id", "1")
	decodedStringEquals(t, result, "[0]/subject", "subject 1")
	decodedStringEquals(t, result, "[0]/from", "<sender@example.org>")
	decodedStringEquals(t, result, "[1]/id", "2")
	decodedStringEquals(t, result, "[1]/subject", "subject 2")

	// Cursor returns only messages after it.
	w, err = testRestGet(baseURL + "/mailbox/good?since=1")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 200 {
		t.Fatalf("Expected code 200, got %v", w.Code)
	}
	result = nil
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result) != 1 {
		t.Fatalf("Expected 1 result, got %v", len(result))
	}
	decodedStringEquals(t, result, "[0]/id", "2")

	// A cursor past the newest message yields an empty list.
	w, err = testRestGet(baseURL + "/mailbox/good?since=2")
	if err != nil {
		t.Fatal(err)
	}
	result = nil
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result) != 0 {
		t.Errorf("Expected 0 results, got %v", len(result))
	}

	// Malformed cursor.
	w, err = testRestGet(baseURL + "/mailbox/good?since=bogus")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 400 {
		t.Errorf("Expected code 400, got %v", w.Code)
	}
}

func TestRestMailboxListErrors(t *testing.T) {
	ds := test.NewStore()
	logbuf := setupWebServer(ds)
	defer dumpLogs(t, logbuf)

	// Mailbox lookup failure.
	w, err := testRestGet(baseURL + "/mailbox/lookuperr")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 500 {
		t.Errorf("Expected code 500, got %v", w.Code)
	}

	// Message listing failure.
	if _, err := ds.AddMailbox("messageserr", time.Now()); err != nil {
		t.Fatal(err)
	}
	w, err = testRestGet(baseURL + "/mailbox/messageserr")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 500 {
		t.Errorf("Expected code 500, got %v", w.Code)
	}
}

func TestRestMessageShow(t *testing.T) {
	ds, err := mem.New(testStorageConfig())
	if err != nil {
		t.Fatal(err)
	}
	logbuf := setupWebServer(ds)
	defer dumpLogs(t, logbuf)

	source := "From: sender@example.org\r\n" +
		"To: good@tempmail.local\r\n" +
		"Subject: hello\r\n" +
		"Content-Type: multipart/alternative; boundary=\"abc\"\r\n" +
		"\r\n" +
		"--abc\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"plain body\r\n" +
		"--abc\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>html <script>evil()</script>body</p>\r\n" +
		"--abc--\r\n"
	deliverMessage(t, ds, "good", source)

	// Unknown message ID.
	w, err := testRestGet(baseURL + "/mailbox/good/99")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 404 {
		t.Errorf("Expected code 404, got %v", w.Code)
	}

	w, err = testRestGet(baseURL + "/mailbox/good/1")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 200 {
		t.Fatalf("Expected code 200, got %v: %s", w.Code, w.Body.String())
	}
	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	decodedStringEquals(t, result, "mailbox", "good")
	decodedStringEquals(t, result, "id", "1")
	decodedStringEquals(t, result, "subject", "hello")
	decodedStringEquals(t, result, "from", "<sender@example.org>")
	decodedStringEquals(t, result, "body/text", "plain body")
	decodedNumberEquals(t, result, "size", float64(len(source)))

	// Script content must not survive sanitization.
	html, msg := getDecodedPath(result, "body", "html")
	if msg != "" {
		t.Fatalf("JSON result%s", msg)
	}
	if s, ok := html.(string); !ok || strings.Contains(s, "script") {
		t.Errorf("Expected sanitized HTML, got %q", html)
	}
}

func TestRestMessageShowAttachments(t *testing.T) {
	ds, err := mem.New(testStorageConfig())
	if err != nil {
		t.Fatal(err)
	}
	logbuf := setupWebServer(ds)
	defer dumpLogs(t, logbuf)

	source := "Subject: attached\r\n" +
		"Content-Type: multipart/mixed; boundary=\"abc\"\r\n" +
		"\r\n" +
		"--abc\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"see attachment\r\n" +
		"--abc\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Content-Disposition: attachment; filename=\"data.bin\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"AQIDBA==\r\n" +
		"--abc--\r\n"
	deliverMessage(t, ds, "good", source)

	w, err := testRestGet(baseURL + "/mailbox/good/1")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 200 {
		t.Fatalf("Expected code 200, got %v: %s", w.Code, w.Body.String())
	}
	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	decodedStringEquals(t, result, "attachments/[0]/filename", "data.bin")
	decodedStringEquals(t, result, "attachments/[0]/content-type", "application/octet-stream")
	// MD5 of bytes 01 02 03 04.
	decodedStringEquals(t, result, "attachments/[0]/md5", "08d6c05a21512a79a1dfeb9d2a8f262f")
}

func TestRestMessageSource(t *testing.T) {
	ds, err := mem.New(testStorageConfig())
	if err != nil {
		t.Fatal(err)
	}
	logbuf := setupWebServer(ds)
	defer dumpLogs(t, logbuf)

	source := "Subject: raw\r\n\r\noriginal bytes\r\n"
	deliverMessage(t, ds, "good", source)

	w, err := testRestGet(baseURL + "/mailbox/good/1/source")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 200 {
		t.Fatalf("Expected code 200, got %v", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Expected Content-Type text/plain, got %q", ct)
	}
	if got := w.Body.String(); got != source {
		t.Errorf("Got source:\n%q\nwant:\n%q", got, source)
	}

	// Unknown message ID.
	w, err = testRestGet(baseURL + "/mailbox/good/99/source")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 404 {
		t.Errorf("Expected code 404, got %v", w.Code)
	}
}

func TestRestMessageDelete(t *testing.T) {
	ds, err := mem.New(testStorageConfig())
	if err != nil {
		t.Fatal(err)
	}
	logbuf := setupWebServer(ds)
	defer dumpLogs(t, logbuf)

	deliverMessage(t, ds, "good", "Subject: one\r\n\r\nbody\r\n")
	deliverMessage(t, ds, "good", "Subject: two\r\n\r\nbody\r\n")

	w, err := testRestDelete(baseURL + "/mailbox/good/1")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 200 {
		t.Fatalf("Expected code 200, got %v", w.Code)
	}

	// Deleted message is gone, the other survives.
	w, err = testRestGet(baseURL + "/mailbox/good/1")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 404 {
		t.Errorf("Expected code 404, got %v", w.Code)
	}
	w, err = testRestGet(baseURL + "/mailbox/good/2")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 200 {
		t.Errorf("Expected code 200, got %v", w.Code)
	}

	// Repeat delete fails.
	w, err = testRestDelete(baseURL + "/mailbox/good/1")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 404 {
		t.Errorf("Expected code 404, got %v", w.Code)
	}
}

func TestRestMailboxPurge(t *testing.T) {
	ds, err := mem.New(testStorageConfig())
	if err != nil {
		t.Fatal(err)
	}
	logbuf := setupWebServer(ds)
	defer dumpLogs(t, logbuf)

	deliverMessage(t, ds, "good", "Subject: one\r\n\r\nbody\r\n")
	deliverMessage(t, ds, "good", "Subject: two\r\n\r\nbody\r\n")

	w, err := testRestDelete(baseURL + "/mailbox/good/messages")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 200 {
		t.Fatalf("Expected code 200, got %v", w.Code)
	}

	// Mailbox still exists but is empty.
	w, err = testRestGet(baseURL + "/mailbox/good")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 200 {
		t.Fatalf("Expected code 200, got %v", w.Code)
	}
	var result []interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result) != 0 {
		t.Errorf("Expected 0 results, got %v", len(result))
	}

	// Unknown mailbox.
	w, err = testRestDelete(baseURL + "/mailbox/unknown/messages")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 404 {
		t.Errorf("Expected code 404, got %v", w.Code)
	}
}

func TestRestMailboxDelete(t *testing.T) {
	ds, err := mem.New(testStorageConfig())
	if err != nil {
		t.Fatal(err)
	}
	logbuf := setupWebServer(ds)
	defer dumpLogs(t, logbuf)

	deliverMessage(t, ds, "good", "Subject: one\r\n\r\nbody\r\n")

	w, err := testRestDelete(baseURL + "/mailbox/good")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 200 {
		t.Fatalf("Expected code 200, got %v", w.Code)
	}

	// Mailbox record and contents are gone.
	w, err = testRestGet(baseURL + "/mailbox/good")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 404 {
		t.Errorf("Expected code 404, got %v", w.Code)
	}
	w, err = testRestDelete(baseURL + "/mailbox/good")
	if err != nil {
		t.Fatal(err)
	}
	if w.Code != 404 {
		t.Errorf("Expected code 404, got %v", w.Code)
	}
}
