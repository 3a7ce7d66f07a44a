package webrtcserver

import (
	"net"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/ionworker/worker/pkg/portmgr"
)

func TestStartTurnServerBindsAndCloses(t *testing.T) {
	pm := portmgr.New(31000, 31100)
	cfg := TurnConfig{
		Realm:       "ionworker.test",
		PublicIP:    net.IPv4(127, 0, 0, 1),
		Credentials: map[string][]byte{"user1": []byte("secret-key")},
	}

	server, err := StartTurnServer(pm, net.IPv4(127, 0, 0, 1), cfg, logr.Discard())
	require.NoError(t, err)
	require.NotNil(t, server)
	require.NoError(t, server.Close())
}
