package adapters

import (
	"fmt"
	"time"

	"github.com/james-bug/DMS-Client/application"

	"github.com/rs/zerolog"
)

// CommandHandler executes one class of device command. The trigger value is
// the raw desired-state value that requested it.
type CommandHandler func(cmd application.Command) error

type CommandDispatcherParams struct {
	// Handlers for the three known command types. A missing handler
	// degrades to the logged no-op, matching an agent built without the
	// corresponding subsystem.
	ControlConfigHandler CommandHandler
	UploadLogsHandler    CommandHandler
	FirmwareHandler      CommandHandler

	Log zerolog.Logger

	NowFunc func() time.Time
}

func (p *CommandDispatcherParams) EnsureDefaults() {
	if p.NowFunc == nil {
		p.NowFunc = time.Now
	}
}

// CommandDispatcher turns delta payloads into executed device commands. The
// agent core hands it every update/delta message unmodified; parsing and
// execution both live here.
type CommandDispatcher struct {
	params CommandDispatcherParams

	log zerolog.Logger
}

func NewCommandDispatcher(params CommandDispatcherParams) *CommandDispatcher {
	params.EnsureDefaults()
	return &CommandDispatcher{params: params, log: params.Log}
}

// Process parses one delta payload and executes the matched command. The
// returned Command always carries what was matched (CommandNone when
// nothing was); err reports parse or execution failure.
func (d *CommandDispatcher) Process(topic string, payload []byte) (application.Command, error) {
	cmd, err := application.ParseDelta(payload, d.params.NowFunc())
	if err != nil {
		return cmd, err
	}
	if cmd.Type == application.CommandNone {
		d.log.Debug().Str("topic", topic).Msg("no recognized command in delta")
		return cmd, nil
	}

	// A trigger value other than 1 is a cleared or stale key, not a
	// request to execute.
	if cmd.TriggerValue != 1 {
		d.log.Warn().
			Str("key", cmd.Key).
			Int64("value", cmd.TriggerValue).
			Msg("command trigger not armed, skipping")
		return cmd, fmt.Errorf("%w: trigger value %d for %s", application.ErrInvalidParameter, cmd.TriggerValue, cmd.Key)
	}

	d.log.Info().Str("key", cmd.Key).Msg("executing command")
	if execErr := d.execute(cmd); execErr != nil {
		d.log.Error().Err(execErr).Str("key", cmd.Key).Msg("command failed")
		return cmd, execErr
	}
	d.log.Info().Str("key", cmd.Key).Msg("command completed")
	return cmd, nil
}

func (d *CommandDispatcher) execute(cmd application.Command) error {
	switch cmd.Type {
	case application.CommandControlConfigChange:
		return d.run(cmd, d.params.ControlConfigHandler)
	case application.CommandUploadLogs:
		return d.run(cmd, d.params.UploadLogsHandler)
	case application.CommandFirmwareUpgrade:
		return d.run(cmd, d.params.FirmwareHandler)
	default:
		return fmt.Errorf("%w: unknown command type %d", application.ErrInvalidParameter, cmd.Type)
	}
}

func (d *CommandDispatcher) run(cmd application.Command, handler CommandHandler) error {
	if handler == nil {
		d.log.Info().Str("key", cmd.Key).Msg("no handler registered, command acknowledged without effect")
		return nil
	}
	return handler(cmd)
}

var _ application.CommandDispatcher = &CommandDispatcher{}
