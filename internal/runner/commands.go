package runner

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Capitan-Parrot/theft-detection/internal/kafka"
	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

// ListenForCommands cancels the run when a stop command for runID arrives.
// It returns when ctx is done, the channel is closed or the run was stopped.
func ListenForCommands(ctx context.Context, messages <-chan kafka.Message, runID string, stop context.CancelFunc, logger *zap.SugaredLogger) {
	logger.Infof("Runner %s: listening for Kafka commands", runID)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			var cmd models.RunCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				logger.Warnf("Invalid message format: %v", err)
				markMessage(msg)
				continue
			}

			// команды других запусков подтверждаем и пропускаем
			if cmd.RunID != runID {
				markMessage(msg)
				continue
			}

			switch cmd.Action {
			case models.CommandStop:
				logger.Infof("Runner %s: received stop command", runID)
				markMessage(msg)
				stop()
				return
			default:
				logger.Warnf("Runner %s: ignoring command %q", runID, cmd.Action)
				markMessage(msg)
			}
		}
	}
}

func markMessage(msg kafka.Message) {
	if msg.Session != nil && msg.Message != nil {
		msg.Session.MarkMessage(msg.Message, "")
	}
}
