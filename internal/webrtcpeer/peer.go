package webrtcpeer

import (
	"github.com/pion/webrtc/v4"
)

// NewPeerConnection constructs a PeerConnection for one room visit. The caller
// owns its event handlers; pion keeps only one handler per event.
//
// Only STUN servers are expected in iceServers; peers that cannot reach each
// other through server-reflexive candidates will not connect.
func NewPeerConnection(api *webrtc.API, iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers,
	})
}
