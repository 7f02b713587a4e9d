package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/warpmesh/internal/config"
	"github.com/BioHazard786/warpmesh/internal/ui"
)

var errRelayWithoutTURN = errors.New("cannot force relay mode without TURN server configured")

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c"},
	Short:   "Create a room and start chatting",
	Long: `Create a new room and wait for peers to join it.

Examples:
  warpmesh create
  warpmesh create --server https://mesh.example.com --dir ~/Downloads`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		stop := ui.RunConnectionSpinner("Creating room...")
		code, err := s.scheduler.Create(cmd.Context())
		stop()
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}

		return s.run(cmd.Context(), ui.RoomInfo{
			RoomCode: code,
			RoomLink: cfg.GetRoomLink(code),
			Created:  true,
		})
	},
}

var joinCmd = &cobra.Command{
	Use:     "join <room-code|room-link>",
	Aliases: []string{"j"},
	Short:   "Join an existing room",
	Long: `Join a room by its code or shared link.

Examples:
  warpmesh join calm-otter-7
  warpmesh join https://mesh.example.com/r/calm-otter-7`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := config.RoomCodeFromArg(args[0])
		if code == "" {
			return fmt.Errorf("invalid room code %q", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		stop := ui.RunConnectionSpinner("Joining room...")
		err = s.scheduler.Join(cmd.Context(), code)
		stop()
		if err != nil {
			return fmt.Errorf("join room %s: %w", code, err)
		}

		return s.run(cmd.Context(), ui.RoomInfo{
			RoomCode: code,
			RoomLink: cfg.GetRoomLink(code),
		})
	},
}
