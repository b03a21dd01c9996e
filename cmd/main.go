package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Capitan-Parrot/theft-detection/internal/commands"
)

func main() {
	app := &cli.App{
		Name:     "theft-detection",
		Usage:    "Detect shoplifting in video streams and raise alerts",
		Version:  commands.Version,
		Flags:    commands.GlobalFlags(),
		Commands: commands.GetCommands(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}
