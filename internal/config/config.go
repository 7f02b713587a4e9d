package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/BioHazard786/warpmesh/internal/filetransfer"
)

// Default configuration values
const (
	DefaultServerURL = "http://localhost:8080"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
	DefaultChunkSize = filetransfer.DefaultChunkSize
	DefaultDir       = "."

	MinChunkSize = 1024
	MaxChunkSize = 32 * 1024
)

// Config holds application configuration
type Config struct {
	// ServerURL is the base URL of the directory server
	ServerURL string

	// WebSocketURL is the signaling endpoint derived from ServerURL
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN candidates
	ForceRelay bool

	ChunkSize   int
	DownloadDir string
}

// Options for loading config with CLI flag overrides
type Options struct {
	ServerURL   string
	STUNServer  string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	ChunkSize   int
	DownloadDir string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	serverURL := firstNonEmpty(opts.ServerURL, os.Getenv("WARPMESH_SERVER"), DefaultServerURL)
	serverURL = strings.TrimRight(serverURL, "/")

	wsURL, err := webSocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		if env := os.Getenv("WARPMESH_CHUNK_SIZE"); env != "" {
			chunkSize, err = strconv.Atoi(env)
			if err != nil {
				return nil, fmt.Errorf("invalid WARPMESH_CHUNK_SIZE %q: %w", env, err)
			}
		}
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize {
		return nil, fmt.Errorf("chunk size %d out of range [%d, %d]", chunkSize, MinChunkSize, MaxChunkSize)
	}

	forceRelay := opts.ForceRelay
	if !forceRelay {
		forceRelay, _ = strconv.ParseBool(os.Getenv("FORCE_RELAY"))
	}

	return &Config{
		ServerURL:    serverURL,
		WebSocketURL: wsURL,
		STUNServer:   firstNonEmpty(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN),
		TURNServer:   firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER")),
		TURNUser:     firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME")),
		TURNPass:     firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD")),
		ForceRelay:   forceRelay,
		ChunkSize:    chunkSize,
		DownloadDir:  firstNonEmpty(opts.DownloadDir, os.Getenv("WARPMESH_DIR"), DefaultDir),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func webSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL %q: scheme must be http or https", serverURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", serverURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// GetRoomLink returns a shareable link for a room code
func (c *Config) GetRoomLink(roomCode string) string {
	return fmt.Sprintf("%s/r/%s", c.ServerURL, roomCode)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured. TURNServer is a
// host name; a value already carrying a turn: or turns: scheme is used as is.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	if strings.HasPrefix(c.TURNServer, "turn:") || strings.HasPrefix(c.TURNServer, "turns:") {
		return []string{c.TURNServer}
	}
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("turn:%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// RoomCodeFromArg accepts either a bare room code or a room link produced
// by GetRoomLink and returns the code.
func RoomCodeFromArg(arg string) string {
	arg = strings.TrimSpace(arg)
	if !strings.Contains(arg, "://") {
		return arg
	}
	u, err := url.Parse(arg)
	if err != nil {
		return arg
	}
	path := strings.Trim(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return path
}
