// Package ice produces the relay configuration handed to every peer link.
package ice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BioHazard786/huddle/internal/auth"
	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/version"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Source yields the ICE servers to use for the next connection.
type Source interface {
	Servers(ctx context.Context) ([]webrtc.ICEServer, error)
}

// StaticSource serves the STUN/TURN servers from configuration.
type StaticSource struct {
	Config *config.Config
}

func (s StaticSource) Servers(context.Context) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer
	if stun := s.Config.GetSTUNServers(); len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if turn := s.Config.GetTURNServers(); turn != nil {
		username, password := s.Config.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}
	return servers, nil
}

// HTTPSource fetches relay configuration from the room API and falls back
// to another source when the endpoint is unavailable.
type HTTPSource struct {
	URL         string
	Credentials auth.Source
	Client      *http.Client
	Fallback    Source
}

// NewHTTPSource builds an HTTPSource with a short request timeout.
func NewHTTPSource(url string, creds auth.Source, fallback Source) *HTTPSource {
	return &HTTPSource{
		URL:         url,
		Credentials: creds,
		Client:      &http.Client{Timeout: 5 * time.Second},
		Fallback:    fallback,
	}
}

func (s *HTTPSource) Servers(ctx context.Context) ([]webrtc.ICEServer, error) {
	servers, err := s.fetch(ctx)
	if err == nil && len(servers) > 0 {
		return servers, nil
	}
	if s.Fallback == nil {
		if err == nil {
			err = fmt.Errorf("ice-config returned no servers")
		}
		return nil, err
	}
	log.Warn().Str("module", "ice").Err(err).Msg("relay configuration unavailable, using static servers")
	return s.Fallback.Servers(ctx)
}

type iceConfigResponse struct {
	ICEServers []iceServer `json:"iceServers"`
}

type iceServer struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

// urlList accepts both "urls": "stun:..." and "urls": ["stun:..."].
type urlList []string

func (u *urlList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*u = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("urls must be a string or a list: %w", err)
	}
	*u = many
	return nil
}

func (s *HTTPSource) fetch(ctx context.Context) ([]webrtc.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ice-config request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if s.Credentials != nil {
		if tok, err := s.Credentials.Token(ctx); err == nil {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ice-config request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ice-config returned %s", resp.Status)
	}

	var body iceConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse ice-config: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(body.ICEServers))
	for _, srv := range body.ICEServers {
		if len(srv.URLs) == 0 {
			continue
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		})
	}
	return servers, nil
}

// Configuration builds the peer-link configuration. Relay-only policy is
// only applied when at least one TURN server is available.
func Configuration(servers []webrtc.ICEServer, forceRelay bool) webrtc.Configuration {
	policy := webrtc.ICETransportPolicyAll
	if forceRelay && hasTURN(servers) {
		policy = webrtc.ICETransportPolicyRelay
	}
	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}

func hasTURN(servers []webrtc.ICEServer) bool {
	for _, srv := range servers {
		for _, u := range srv.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}
