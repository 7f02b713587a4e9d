package directory

// NotificationPeerJoined is queued for every existing member when a peer
// joins their room.
const NotificationPeerJoined = "peer_joined"

type roomRequest struct {
	RoomCode string `json:"roomCode"`
	PeerID   string `json:"peerId"`
}

type peersResponse struct {
	Peers []string `json:"peers"`
}

type Notification struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}

type notificationsResponse struct {
	Notifications []Notification `json:"notifications"`
}

type errorResponse struct {
	Error string `json:"error"`
}
