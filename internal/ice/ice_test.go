package ice

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BioHazard786/huddle/internal/auth"
	"github.com/BioHazard786/huddle/internal/config"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSource(t *testing.T) {
	cfg := &config.Config{
		STUNServer: "stun:stun.example:19302",
		TURNServer: "turn:relay.example",
		TURNUser:   "u",
		TURNPass:   "p",
	}
	servers, err := StaticSource{Config: cfg}.Servers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:stun.example:19302"}, servers[0].URLs)
	assert.Len(t, servers[1].URLs, 3)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "p", servers[1].Credential)
}

func TestHTTPSourceParsesBothURLShapes(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"iceServers":[
			{"urls":"stun:a.example"},
			{"urls":["turn:b.example?transport=udp","turns:b.example"],"username":"x","credential":"y"}
		]}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, auth.Static("tok"), nil)
	servers, err := src.Servers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:a.example"}, servers[0].URLs)
	assert.Equal(t, []string{"turn:b.example?transport=udp", "turns:b.example"}, servers[1].URLs)
	assert.Equal(t, "x", servers[1].Username)
}

func TestHTTPSourceFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	fallback := StaticSource{Config: &config.Config{STUNServer: "stun:fallback.example"}}
	servers, err := NewHTTPSource(srv.URL, nil, fallback).Servers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"stun:fallback.example"}, servers[0].URLs)

	_, err = NewHTTPSource(srv.URL, nil, nil).Servers(context.Background())
	assert.ErrorContains(t, err, "500")
}

func TestConfigurationRelayPolicy(t *testing.T) {
	stunOnly := []webrtc.ICEServer{{URLs: []string{"stun:a"}}}
	withTURN := append(stunOnly, webrtc.ICEServer{URLs: []string{"turn:b"}})

	assert.Equal(t, webrtc.ICETransportPolicyAll, Configuration(withTURN, false).ICETransportPolicy)
	assert.Equal(t, webrtc.ICETransportPolicyRelay, Configuration(withTURN, true).ICETransportPolicy)
	assert.Equal(t, webrtc.ICETransportPolicyAll, Configuration(stunOnly, true).ICETransportPolicy)
}

func TestBehindRestrictiveNAT(t *testing.T) {
	lan := Interface{Name: "eth0", Up: true, IPs: []net.IP{net.ParseIP("192.168.1.4")}}
	assert.False(t, behindRestrictiveNAT([]Interface{lan}))

	wg := Interface{Name: "wg0", Up: true}
	assert.True(t, behindRestrictiveNAT([]Interface{lan, wg}))

	down := Interface{Name: "tun0", Up: false}
	assert.False(t, behindRestrictiveNAT([]Interface{down}))

	cg := Interface{Name: "en0", Up: true, IPs: []net.IP{net.ParseIP("100.96.3.2")}}
	assert.True(t, behindRestrictiveNAT([]Interface{cg}))

	lo := Interface{Name: "lo", Up: true, Loopback: true, IPs: []net.IP{net.ParseIP("100.64.0.1")}}
	assert.False(t, behindRestrictiveNAT([]Interface{lo}))
}
