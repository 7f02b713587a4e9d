package main

import (
	"log/slog"

	"github.com/BioHazard786/warpmesh/cmd"
	"github.com/BioHazard786/warpmesh/internal/logging"
)

func main() {
	closeLog := logging.Init(slog.LevelError)
	defer closeLog()
	cmd.Execute()
}
