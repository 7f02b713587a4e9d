package directory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

const maxRequestBody = 4 * 1024

// Server serves the room directory over HTTP.
type Server struct {
	store  *Store
	logger *slog.Logger
}

func NewServer(store *Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, logger: logger}
}

// Register adds the directory routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /room/create", s.handleCreate)
	mux.HandleFunc("POST /room/join", s.handleJoin)
	mux.HandleFunc("POST /room/leave", s.handleLeave)
	mux.HandleFunc("GET /room/{roomCode}/peers", s.handlePeers)
	mux.HandleFunc("GET /notifications/{peerId}", s.handleNotifications)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	peers, err := s.store.Create(req.RoomCode, req.PeerID)
	if errors.Is(err, ErrRoomExists) {
		s.logger.Info("Room code taken", "room", req.RoomCode)
		writeError(w, http.StatusConflict, err)
		return
	}

	s.logger.Info("Room created", "room", req.RoomCode, "peer", req.PeerID)
	writeJSON(w, http.StatusOK, peersResponse{Peers: peers})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	peers, err := s.store.Join(req.RoomCode, req.PeerID)
	if errors.Is(err, ErrRoomNotFound) {
		s.logger.Info("Join for unknown room", "room", req.RoomCode, "peer", req.PeerID)
		writeError(w, http.StatusNotFound, err)
		return
	}

	s.logger.Info("Peer joined room", "room", req.RoomCode, "peer", req.PeerID, "members", len(peers))
	writeJSON(w, http.StatusOK, peersResponse{Peers: peers})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	s.store.Leave(req.RoomCode, req.PeerID)
	s.logger.Info("Peer left room", "room", req.RoomCode, "peer", req.PeerID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.store.Members(r.PathValue("roomCode"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, peersResponse{Peers: peers})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	queued := s.store.Drain(r.PathValue("peerId"))
	if queued == nil {
		queued = []Notification{}
	}
	writeJSON(w, http.StatusOK, notificationsResponse{Notifications: queued})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (roomRequest, bool) {
	var req roomRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.logger.Debug("Invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, ErrBadRequest)
		return req, false
	}
	if req.RoomCode == "" || req.PeerID == "" {
		writeError(w, http.StatusBadRequest, ErrBadRequest)
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
