package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/Capitan-Parrot/theft-detection/internal/model"
)

func newModelTool(cctx *CommandContext, c *cli.Context) *model.Tool {
	runner := model.ExecRunner{Stdout: c.App.Writer, Stderr: c.App.ErrWriter}
	return model.New(cctx.Config.Model.Binary, runner, cctx.Logger)
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// GetExportCommand экспортирует чекпоинт в OpenVINO с INT8 квантизацией
func GetExportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export and quantize a trained checkpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "checkpoint",
				Usage: "Checkpoint to export, overrides model.export.checkpoint",
			},
		},
		Action: func(c *cli.Context) error {
			cctx, err := NewCommandContext(c)
			if err != nil {
				return err
			}
			defer cctx.Logger.Sync()

			opts := cctx.Config.Model.Export
			if c.IsSet("checkpoint") {
				opts.Checkpoint = c.String("checkpoint")
			}

			ctx, stop := signalContext(c)
			defer stop()

			artifact, err := newModelTool(cctx, c).Export(ctx, opts)
			if err != nil {
				return err
			}
			cctx.Logger.Infof("Export: done, point detector serving at %s", artifact)
			return nil
		},
	}
}

// GetTrainCommand запускает обучение
func GetTrainCommand() *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "Launch a training run",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "epochs",
				Usage: "Overrides model.train.epochs",
			},
		},
		Action: func(c *cli.Context) error {
			cctx, err := NewCommandContext(c)
			if err != nil {
				return err
			}
			defer cctx.Logger.Sync()

			opts := cctx.Config.Model.Train
			if c.IsSet("epochs") {
				opts.Epochs = c.Int("epochs")
			}

			ctx, stop := signalContext(c)
			defer stop()

			return newModelTool(cctx, c).Train(ctx, opts)
		},
	}
}

// GetResumeCommand продолжает прерванное обучение
func GetResumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume training from a partial checkpoint",
		ArgsUsage: "[last.pt]",
		Action: func(c *cli.Context) error {
			cctx, err := NewCommandContext(c)
			if err != nil {
				return err
			}
			defer cctx.Logger.Sync()

			checkpoint := cctx.Config.Model.Train.ResumeModel
			if c.Args().Present() {
				checkpoint = c.Args().First()
			}

			ctx, stop := signalContext(c)
			defer stop()

			return newModelTool(cctx, c).Resume(ctx, checkpoint)
		},
	}
}
