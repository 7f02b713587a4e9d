// Package directory implements the room directory: a small HTTP service
// mapping room codes to member peer ids, and the client peers use to
// create, join, leave and poll rooms.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BioHazard786/warpmesh/internal/dns"
)

const (
	DefaultPollTimeout = 5 * time.Second
	createAttempts     = 3
)

type ClientConfig struct {
	BaseURL     string
	PollTimeout time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
	// NewCode overrides GenerateRoomCode.
	NewCode func() string
}

// Client talks to a directory Server.
type Client struct {
	baseURL     string
	pollTimeout time.Duration
	http        *http.Client
	logger      *slog.Logger
	newCode     func() string
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		pollTimeout: cfg.PollTimeout,
		http:        cfg.HTTPClient,
		logger:      cfg.Logger,
		newCode:     cfg.NewCode,
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = DefaultPollTimeout
	}
	if c.http == nil {
		c.http = &http.Client{
			Transport: &http.Transport{
				DialContext:         dns.DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: 30 * time.Second,
		}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.newCode == nil {
		c.newCode = GenerateRoomCode
	}
	return c
}

// Create opens a new room with a generated code, retrying with a fresh
// code when the directory reports the code as taken.
func (c *Client) Create(ctx context.Context, selfID string) (string, []string, error) {
	for attempt := 1; attempt <= createAttempts; attempt++ {
		code := c.newCode()

		var resp peersResponse
		status, err := c.post(ctx, "/room/create", roomRequest{RoomCode: code, PeerID: selfID}, &resp)
		if err != nil {
			return "", nil, &Error{Op: "create", Room: code, Err: ErrDirectoryUnavailable, Details: err.Error()}
		}

		switch status {
		case http.StatusOK:
			return code, withoutSelf(resp.Peers, selfID), nil
		case http.StatusConflict:
			c.logger.Debug("Room code taken, retrying", "room", code, "attempt", attempt)
			continue
		default:
			return "", nil, &Error{Op: "create", Room: code, Err: ErrDirectoryUnavailable, Details: http.StatusText(status)}
		}
	}
	return "", nil, &Error{Op: "create", Err: ErrRoomExists, Details: fmt.Sprintf("%d attempts", createAttempts)}
}

// Join adds selfID to an existing room and returns the other members.
func (c *Client) Join(ctx context.Context, roomCode, selfID string) ([]string, error) {
	var resp peersResponse
	status, err := c.post(ctx, "/room/join", roomRequest{RoomCode: roomCode, PeerID: selfID}, &resp)
	if err != nil {
		return nil, &Error{Op: "join", Room: roomCode, Err: ErrDirectoryUnavailable, Details: err.Error()}
	}
	if status != http.StatusOK {
		return nil, &Error{Op: "join", Room: roomCode, Err: ErrRoomNotFound}
	}
	return withoutSelf(resp.Peers, selfID), nil
}

func (c *Client) Leave(ctx context.Context, roomCode, selfID string) error {
	status, err := c.post(ctx, "/room/leave", roomRequest{RoomCode: roomCode, PeerID: selfID}, nil)
	if err != nil {
		return &Error{Op: "leave", Room: roomCode, Err: ErrDirectoryUnavailable, Details: err.Error()}
	}
	if status != http.StatusOK {
		return &Error{Op: "leave", Room: roomCode, Err: ErrDirectoryUnavailable, Details: http.StatusText(status)}
	}
	return nil
}

// ListMembers returns the room's members other than selfID. ok is false
// when the poll timed out, meaning there is no update this cycle.
func (c *Client) ListMembers(ctx context.Context, roomCode, selfID string) (peers []string, ok bool, err error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	var resp peersResponse
	status, err := c.get(pollCtx, "/room/"+url.PathEscape(roomCode)+"/peers", &resp)
	if err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			return nil, false, nil
		}
		return nil, false, &Error{Op: "list members", Room: roomCode, Err: ErrDirectoryUnavailable, Details: err.Error()}
	}
	switch status {
	case http.StatusOK:
		return withoutSelf(resp.Peers, selfID), true, nil
	case http.StatusNotFound:
		return nil, false, &Error{Op: "list members", Room: roomCode, Err: ErrRoomNotFound}
	default:
		return nil, false, &Error{Op: "list members", Room: roomCode, Err: ErrDirectoryUnavailable, Details: http.StatusText(status)}
	}
}

// PollNotifications drains the notifications queued for selfID. A timed
// out poll yields an empty list.
func (c *Client) PollNotifications(ctx context.Context, selfID string) ([]Notification, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	var resp notificationsResponse
	status, err := c.get(pollCtx, "/notifications/"+url.PathEscape(selfID), &resp)
	if err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			return []Notification{}, nil
		}
		return nil, &Error{Op: "poll notifications", Err: ErrDirectoryUnavailable, Details: err.Error()}
	}
	if status != http.StatusOK {
		return nil, &Error{Op: "poll notifications", Err: ErrDirectoryUnavailable, Details: http.StatusText(status)}
	}

	out := make([]Notification, 0, len(resp.Notifications))
	for _, n := range resp.Notifications {
		if n.PeerID != selfID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	return c.do(req, out)
}

// do executes req and decodes a 200 body into out.
func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return resp.StatusCode, nil
}

func withoutSelf(peers []string, selfID string) []string {
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		if p != selfID {
			out = append(out, p)
		}
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
