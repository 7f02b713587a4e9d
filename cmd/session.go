package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/warpmesh/internal/config"
	"github.com/BioHazard786/warpmesh/internal/directory"
	"github.com/BioHazard786/warpmesh/internal/discovery"
	"github.com/BioHazard786/warpmesh/internal/files"
	"github.com/BioHazard786/warpmesh/internal/filetransfer"
	"github.com/BioHazard786/warpmesh/internal/protocol"
	"github.com/BioHazard786/warpmesh/internal/session"
	"github.com/BioHazard786/warpmesh/internal/transport/webrtc"
	"github.com/BioHazard786/warpmesh/internal/ui"
	"github.com/BioHazard786/warpmesh/internal/utils"
)

// roomSession ties the transport, the session registry and discovery
// together for one CLI run, and serves as the chat screen's backend.
type roomSession struct {
	cfg       *config.Config
	provider  *webrtc.Provider
	registry  *session.Registry
	scheduler *discovery.Scheduler

	program *tea.Program
	started chan struct{}
	done    chan struct{}
	once    sync.Once
}

func openSession(ctx context.Context, cfg *config.Config) (*roomSession, error) {
	logger := slog.Default()

	stop := ui.RunConnectionSpinner("Connecting to server...")
	provider, err := webrtc.Dial(ctx, cfg, logger)
	stop()
	if err != nil {
		return nil, fmt.Errorf("connect to server: %w", err)
	}

	s := &roomSession{
		cfg:      cfg,
		provider: provider,
		started:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.registry = session.New(session.Config{
		Provider:  provider,
		Handler:   s.handle,
		ChunkSize: cfg.ChunkSize,
		Logger:    logger,
	})
	s.scheduler = discovery.New(discovery.Config{
		Directory: directory.NewClient(directory.ClientConfig{
			BaseURL: cfg.ServerURL,
			Logger:  logger,
		}),
		Connector: s.registry,
		SelfID:    provider.ID(),
		Logger:    logger,
	})
	return s, nil
}

// run shows the room box and blocks in the chat screen until the user
// leaves or ctx is cancelled.
func (s *roomSession) run(ctx context.Context, room ui.RoomInfo) error {
	fmt.Println(room.View())
	fmt.Println()

	model := ui.NewChatModel(ctx, s, room)
	s.program = tea.NewProgram(model, tea.WithContext(ctx))
	close(s.started)

	if _, err := s.program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	err := model.Err()
	if ctx.Err() != nil {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err = s.Leave(leaveCtx)
	}
	if err != nil {
		return fmt.Errorf("leave room %s: %w", room.RoomCode, err)
	}
	ui.PrintSuccessf("Left room %s", room.RoomCode)
	return nil
}

// handle forwards registry events to the chat screen once it is running.
func (s *roomSession) handle(ev session.Event) {
	select {
	case <-s.started:
		s.program.Send(ui.EventMsg(ev))
	case <-s.done:
	}
}

func (s *roomSession) Close() {
	s.once.Do(func() {
		close(s.done)
		s.registry.Close()
		s.provider.Close()
	})
}

func (s *roomSession) LocalID() string {
	return s.registry.LocalID()
}

func (s *roomSession) Broadcast(ctx context.Context, text string) error {
	return s.registry.SendMessage(ctx, session.Broadcast, protocol.Message{
		Text:      text,
		Timestamp: time.Now(),
	})
}

func (s *roomSession) SendFile(ctx context.Context, path string) (filetransfer.File, error) {
	file, err := files.Load(path)
	if err != nil {
		return filetransfer.File{}, err
	}
	return file, s.registry.SendFile(ctx, file, session.Broadcast)
}

func (s *roomSession) SaveFile(file filetransfer.File) (string, error) {
	return files.Save(s.cfg.DownloadDir, file, utils.UniquePath)
}

func (s *roomSession) Peers() []session.PeerInfo {
	return s.registry.Peers()
}

func (s *roomSession) Leave(ctx context.Context) error {
	err := s.scheduler.Leave(ctx)
	if errors.Is(err, discovery.ErrNotInRoom) {
		return nil
	}
	return err
}
