package httpserver

import (
	"net/http"

	"github.com/screenlink/signaling/internal/config"
)

type iceServersResponse struct {
	ICEServers []config.ICEServer `json:"iceServers"`

	// TTLSeconds is set only when a TURN REST entry was minted; clients should
	// refetch before it lapses.
	TTLSeconds int64 `json:"ttl,omitempty"`
}

// handleICEServers returns the static STUN/TURN configuration, with a freshly
// minted TURN REST entry appended when a credential generator is configured.
func (s *Server) handleICEServers(w http.ResponseWriter, r *http.Request) {
	resp := iceServersResponse{
		// Non-nil so the response encodes as [] rather than null.
		ICEServers: make([]config.ICEServer, 0, len(s.cfg.ICEServers)+1),
	}
	resp.ICEServers = append(resp.ICEServers, s.cfg.ICEServers...)

	if s.deps.TURN != nil {
		creds := s.deps.TURN.Generate()
		resp.ICEServers = append(resp.ICEServers, config.ICEServer{
			URLs:       s.cfg.TURNREST.URLs,
			Username:   creds.Username,
			Credential: creds.Credential,
		})
		resp.TTLSeconds = creds.TTLSeconds
	}

	WriteJSON(w, http.StatusOK, resp)
}
