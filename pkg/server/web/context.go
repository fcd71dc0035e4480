package web

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tempmaild/tempmaild/pkg/config"
	"github.com/tempmaild/tempmaild/pkg/mailbox"
	"github.com/tempmaild/tempmaild/pkg/message"
	"github.com/tempmaild/tempmaild/pkg/msghub"
)

// Context is passed into every request handler function.
type Context struct {
	Vars       map[string]string
	MsgHub     *msghub.Hub
	Manager    message.Manager
	Registry   *mailbox.Registry
	RootConfig *config.Root
}

// NewContext returns a Context for the given HTTP Request.
func NewContext(req *http.Request) *Context {
	return &Context{
		Vars:       mux.Vars(req),
		MsgHub:     msgHub,
		Manager:    manager,
		Registry:   registry,
		RootConfig: rootConfig,
	}
}
