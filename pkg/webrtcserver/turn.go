package webrtcserver

import (
	"net"

	"github.com/go-logr/logr"
	pionturn "github.com/pion/turn/v2"

	"github.com/ionworker/worker/pkg/portmgr"
)

// TurnConfig configures the optional TURN relay the WebRtcServer can run
// alongside its plain ICE-lite UDP socket, for restrictive-NAT deployments
// where host/srflx candidates alone won't reach the peer. spec.md §4.10 doesn't
// mention TURN and doesn't exclude it either; original_source's worker gathers
// relay candidates through one for exactly this reason, grounded here on the
// teacher's own `SFU.turn *turn.Server` field and `Config.Turn TurnConfig` tag.
type TurnConfig struct {
	Realm string
	// PublicIP is advertised to TURN clients as the relay candidate's address;
	// must be externally reachable, unlike the worker's bind address.
	PublicIP net.IP
	// Credentials maps TURN username to its long-term-credential key, computed
	// by the controller the same way mediasoup derives per-session TURN creds.
	Credentials map[string][]byte
}

// StartTurnServer binds one UDP port from pm and runs a pion/turn relay server
// on it. The returned *turn.Server should be closed alongside the WebRtcServer.
func StartTurnServer(pm *portmgr.Manager, listenIP net.IP, cfg TurnConfig, log logr.Logger) (*pionturn.Server, error) {
	conn, port, err := pm.BindUDP(listenIP)
	if err != nil {
		return nil, err
	}

	authHandler := func(username, realm string, srcAddr net.Addr) ([]byte, bool) {
		key, ok := cfg.Credentials[username]
		return key, ok
	}

	server, err := pionturn.NewServer(pionturn.ServerConfig{
		Realm:       cfg.Realm,
		AuthHandler: authHandler,
		PacketConnConfigs: []pionturn.PacketConnConfig{
			{
				PacketConn: conn,
				RelayAddressGenerator: &pionturn.RelayAddressGeneratorStatic{
					RelayAddress: cfg.PublicIP,
					Address:      listenIP.String(),
				},
			},
		},
	})
	if err != nil {
		pm.Release(portmgr.UDP, listenIP, port)
		_ = conn.Close()
		return nil, err
	}

	log.V(0).Info("turn relay server started", "ip", listenIP.String(), "port", port)
	return server, nil
}
