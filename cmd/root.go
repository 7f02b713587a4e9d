package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/warpmesh/internal/config"
	"github.com/BioHazard786/warpmesh/internal/ui"
	"github.com/BioHazard786/warpmesh/internal/version"
)

var (
	flagServer    string
	flagSTUN      string
	flagTURN      string
	flagTURNUser  string
	flagTURNPass  string
	flagRelay     bool
	flagChunkSize int
	flagDir       string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warpmesh",
	Short: "Peer-to-peer encrypted chat and file sharing in rooms",
	Long: `warpmesh connects everyone who shares a room code directly over WebRTC.
Messages and files travel peer to peer, encrypted per pair of peers, and are
never stored by the server, which only introduces peers to each other.`,
	Version: version.Version,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagServer, "server", "s", "", "Directory server URL (env: WARPMESH_SERVER)")
	flags.StringVar(&flagSTUN, "stun", "", "STUN server URL (env: STUN_SERVER)")
	flags.StringVar(&flagTURN, "turn", "", "TURN server host (env: TURN_SERVER)")
	flags.StringVar(&flagTURNUser, "turn-user", "", "TURN username (env: TURN_USERNAME)")
	flags.StringVar(&flagTURNPass, "turn-pass", "", "TURN password (env: TURN_PASSWORD)")
	flags.BoolVar(&flagRelay, "relay", false, "Force all traffic through the TURN relay (env: FORCE_RELAY)")
	flags.IntVar(&flagChunkSize, "chunk-size", 0, "File chunk size in bytes (env: WARPMESH_CHUNK_SIZE)")
	flags.StringVarP(&flagDir, "dir", "d", "", "Directory for received files (env: WARPMESH_DIR)")

	rootCmd.AddCommand(createCmd, joinCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ServerURL:   flagServer,
		STUNServer:  flagSTUN,
		TURNServer:  flagTURN,
		TURNUser:    flagTURNUser,
		TURNPass:    flagTURNPass,
		ForceRelay:  flagRelay,
		ChunkSize:   flagChunkSize,
		DownloadDir: flagDir,
	})
	if err != nil {
		return nil, err
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, errRelayWithoutTURN
	}
	return cfg, nil
}
