package rest

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tempmaild/tempmaild/pkg/config"
	"github.com/tempmaild/tempmaild/pkg/mailbox"
	"github.com/tempmaild/tempmaild/pkg/message"
	"github.com/tempmaild/tempmaild/pkg/msghub"
	"github.com/tempmaild/tempmaild/pkg/server/web"
	"github.com/tempmaild/tempmaild/pkg/storage"
)

// Routes may only be installed on the shared router once.
var routesOnce sync.Once

func testRestGet(url string) (*httptest.ResponseRecorder, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "application/json")
	w := httptest.NewRecorder()
	web.Router.ServeHTTP(w, req)
	return w, nil
}

func testRestPost(url string, body string) (*httptest.ResponseRecorder, error) {
	req, err := http.NewRequest("POST", url, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/json")
	w := httptest.NewRecorder()
	web.Router.ServeHTTP(w, req)
	return w, nil
}

func testRestDelete(url string) (*httptest.ResponseRecorder, error) {
	req, err := http.NewRequest("DELETE", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "application/json")
	w := httptest.NewRecorder()
	web.Router.ServeHTTP(w, req)
	return w, nil
}

// setupWebServer wires the shared router to a Manager and Registry backed by
// ds, capturing log output for failed tests.
func setupWebServer(ds storage.Store) *bytes.Buffer {
	buf := new(bytes.Buffer)
	log.Logger = zerolog.New(buf)

	cfg := &config.Root{
		Web: config.Web{
			Addr:           "127.0.0.1:8025",
			MonitorHistory: 30,
		},
		Mailbox: config.Mailbox{
			NameLength:    10,
			NameAttempts:  8,
			NameMaxLength: 64,
		},
	}
	mm := message.NewStoreManager(ds, nil)
	reg := mailbox.NewRegistry(cfg.Mailbox, ds)
	routesOnce.Do(func() {
		SetupRoutes(web.Router.PathPrefix("/api/").Subrouter())
	})
	web.Initialize(cfg, make(chan bool), mm, reg, &msghub.Hub{})

	return buf
}

func decodedStringEquals(t *testing.T, json interface{}, path string, want string) {
	t.Helper()
	els := strings.Split(path, "/")
	val, msg := getDecodedPath(json, els...)
	if msg != "" {
		t.Errorf("JSON result%s", msg)
		return
	}
	if got, ok := val.(string); ok {
		if got == want {
			return
		}
	}
	t.Errorf("JSON result/%s == %v (%T), want: %v", path, val, val, want)
}

func decodedNumberEquals(t *testing.T, json interface{}, path string, want float64) {
	t.Helper()
	els := strings.Split(path, "/")
	val, msg := getDecodedPath(json, els...)
	if msg != "" {
		t.Errorf("JSON result%s", msg)
		return
	}
	if got, ok := val.(float64); ok {
		if got == want {
			return
		}
	}
	t.Errorf("JSON result/%s == %v (%T), want: %v", path, val, val, want)
}

// getDecodedPath recursively navigates the specified path, returning the
// requested element.  If something goes wrong, the returned string will
// contain an explanation.
//
// Named path elements require the parent element to be a
// map[string]interface{}, numbers in square brackets require the parent
// element to be a []interface{}.
//
//	getDecodedPath(o, "users", "[1]", "name")
//
// is equivalent to the JavaScript:
//
//	o.users[1].name
func getDecodedPath(o interface{}, path ...string) (interface{}, string) {
	if len(path) == 0 {
		return o, ""
	}
	if o == nil {
		return nil, " is nil"
	}
	key := path[0]
	present := false
	var val interface{}
	if key[0] == '[' {
		// Expecting slice.
		index, err := strconv.Atoi(strings.Trim(key, "[]"))
		if err != nil {
			return nil, "/" + key + " is not a slice index"
		}
		oslice, ok := o.([]interface{})
		if !ok {
			return nil, " is not a slice"
		}
		if index >= len(oslice) {
			return nil, "/" + key + " is out of bounds"
		}
		val, present = oslice[index], true
	} else {
		// Expecting map.
		omap, ok := o.(map[string]interface{})
		if !ok {
			return nil, " is not a map"
		}
		val, present = omap[key]
	}
	if !present {
		return nil, "/" + key + " is missing"
	}
	result, msg := getDecodedPath(val, path[1:]...)
	if msg != "" {
		return nil, "/" + key + msg
	}
	return result, ""
}
