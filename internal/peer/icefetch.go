package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"
)

// DefaultICEServers is the STUN-only fallback used when the server's ICE
// endpoint cannot be reached.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
}

type iceServerEntry struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceServersPayload struct {
	ICEServers []iceServerEntry `json:"iceServers"`
	TTLSeconds int64            `json:"ttl,omitempty"`
}

// FetchICEServers asks the signaling server for its ICE configuration,
// including any freshly minted TURN credentials. baseURL is the http(s)
// origin of the signaling server.
func FetchICEServers(ctx context.Context, client *http.Client, baseURL string) ([]webrtc.ICEServer, error) {
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(baseURL, "/") + "/api/ice-servers"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ice servers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ice servers: unexpected status %d", resp.StatusCode)
	}

	var payload iceServersPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode ice servers: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(payload.ICEServers))
	for _, entry := range payload.ICEServers {
		server := webrtc.ICEServer{URLs: entry.URLs}
		if entry.Username != "" {
			server.Username = entry.Username
			server.Credential = entry.Credential
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// HasTURN reports whether any entry is a turn:/turns: server, which enables
// the relay-unreachable failure diagnostic.
func HasTURN(servers []webrtc.ICEServer) bool {
	for _, server := range servers {
		for _, raw := range server.URLs {
			url := strings.ToLower(strings.TrimSpace(raw))
			if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
				return true
			}
		}
	}
	return false
}
