package mcpserver

import (
	"io"
	"net/http"

	"github.com/nodespace/core/internal/logging"
)

// HTTPHandler serves the MCP protocol over a single POST endpoint (spec
// §4.7: "HTTP, one POST endpoint, Content-Type: application/json"). Each
// request carries its own client id via the X-NodeSpace-Client header (or
// the "default" identity if absent) and gets a fresh Session, since HTTP is
// stateless request-per-call; session state only persists meaningfully
// across the lifetime of the stdio transport.
type HTTPHandler struct {
	srv *Server
}

// NewHTTPHandler wraps srv for net/http.
func NewHTTPHandler(srv *Server) *HTTPHandler { return &HTTPHandler{srv: srv} }

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logging.Component("mcpserver-http")
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		http.Error(w, "request body too large or unreadable", http.StatusBadRequest)
		return
	}

	clientID := r.Header.Get("X-NodeSpace-Client")
	if clientID == "" {
		clientID = "default"
	}
	sess := NewSession(clientID)
	sess.transitionToReady() // HTTP has no separate initialize handshake per request; treat as pre-authorized

	resp := h.srv.Handle(r.Context(), sess, body)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		log.Error().Err(err).Msg("write response")
	}
}
