// Package web provides the HTTP plumbing for the REST API.
package web

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/tempmaild/tempmaild/pkg/config"
	"github.com/tempmaild/tempmaild/pkg/mailbox"
	"github.com/tempmaild/tempmaild/pkg/message"
	"github.com/tempmaild/tempmaild/pkg/msghub"
)

// Handler is a function type that handles an HTTP request with a Context.
type Handler func(http.ResponseWriter, *http.Request, *Context) error

var (
	// Router is shared with the rest package; it sends incoming requests to
	// the correct handler function.
	Router = mux.NewRouter()

	rootConfig     *config.Root
	msgHub         *msghub.Hub
	manager        message.Manager
	registry       *mailbox.Registry
	server         *http.Server
	listener       net.Listener
	globalShutdown chan bool

	// ExpWebSocketConnectsCurrent tracks the number of open WebSockets.
	ExpWebSocketConnectsCurrent = new(expvar.Int)
)

func init() {
	m := expvar.NewMap("http")
	m.Set("WebSocketConnectsCurrent", ExpWebSocketConnectsCurrent)
}

// Initialize sets up things for unit tests or the Start() method.
func Initialize(
	cfg *config.Root,
	shutdownChan chan bool,
	mm message.Manager,
	reg *mailbox.Registry,
	mh *msghub.Hub,
) {
	rootConfig = cfg
	globalShutdown = shutdownChan
	msgHub = mh
	manager = mm
	registry = reg
}

// Start begins listening for HTTP requests.
func Start(ctx context.Context) {
	slog := log.With().Str("module", "web").Logger()
	addr := rootConfig.Web.Addr
	server = &http.Server{
		Addr:         addr,
		Handler:      Router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	// We don't use ListenAndServe because it lacks a way to close the listener.
	slog.Info().Str("addr", addr).Msg("HTTP listening on tcp4")
	var err error
	listener, err = net.Listen("tcp", addr)
	if err != nil {
		slog.Error().Err(err).Msg("HTTP failed to start tcp4 listener")
		emergencyShutdown()
		return
	}

	// Listener go routine.
	go serve(ctx)

	// Wait for shutdown.
	<-ctx.Done()
	slog.Debug().Msg("HTTP server shutting down on request")

	// Closing the listener will cause the serve() go routine to exit.
	if err := listener.Close(); err != nil {
		slog.Error().Err(err).Msg("Failed to close HTTP listener")
	}
}

// serve begins serving HTTP requests.
func serve(ctx context.Context) {
	// server.Serve blocks until we close the listener.
	err := server.Serve(listener)

	select {
	case <-ctx.Done():
		// Nop
	default:
		log.Error().Str("module", "web").Err(err).Msg("HTTP server failed")
		emergencyShutdown()
	}
}

// ServeHTTP builds the context and passes onto the real handler.
func (h Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Create the context.
	ctx := NewContext(req)

	// Run the handler, grab the error, and report it.
	log.Debug().Str("module", "web").Str("remote", req.RemoteAddr).
		Str("method", req.Method).Str("uri", req.RequestURI).Msg("HTTP request")
	err := h(w, req, ctx)
	if err != nil {
		log.Error().Str("module", "web").Str("uri", req.RequestURI).Err(err).
			Msg("Error handling request")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func emergencyShutdown() {
	select {
	case <-globalShutdown:
	default:
		close(globalShutdown)
	}
}
