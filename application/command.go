package application

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// CommandType identifies the remote operations the backend can request
// through a shadow delta.
type CommandType int

const (
	CommandNone CommandType = iota
	CommandControlConfigChange
	CommandUploadLogs
	CommandFirmwareUpgrade
)

// Desired-state keys the backend writes to trigger commands.
const (
	CommandKeyControlConfig = "control-config-change"
	CommandKeyUploadLogs    = "upload_logs"
	CommandKeyFirmwareUpg   = "fw_upgrade"
)

// Command is one operation extracted from a delta document.
type Command struct {
	Type         CommandType
	TriggerValue int64
	Key          string
	Timestamp    time.Time
}

// commandPaths is the fixed match order: config change wins over log upload
// wins over firmware upgrade; a delta carrying several keys yields only the
// first.
var commandPaths = []struct {
	path string
	typ  CommandType
	key  string
}{
	{"state." + CommandKeyControlConfig, CommandControlConfigChange, CommandKeyControlConfig},
	{"state." + CommandKeyUploadLogs, CommandUploadLogs, CommandKeyUploadLogs},
	{"state." + CommandKeyFirmwareUpg, CommandFirmwareUpgrade, CommandKeyFirmwareUpg},
}

// ParseDelta matches a delta payload against the known command paths and
// returns at most one Command. A delta naming none of them yields
// CommandNone with no error; an unparseable payload is an ErrShadowDocument.
func ParseDelta(payload []byte, now time.Time) (Command, error) {
	cmd := Command{Type: CommandNone, Timestamp: now}

	if len(payload) == 0 {
		return cmd, fmt.Errorf("%w: empty delta payload", ErrInvalidParameter)
	}
	if !gjson.ValidBytes(payload) {
		return cmd, fmt.Errorf("%w: delta is not valid JSON", ErrShadowDocument)
	}

	for _, c := range commandPaths {
		res := gjson.GetBytes(payload, c.path)
		if !res.Exists() {
			// Deltas normally carry keys directly under "state", but a
			// full desired document nests them one level deeper.
			res = gjson.GetBytes(payload, "state.desired."+c.key)
		}
		if res.Exists() {
			cmd.Type = c.typ
			cmd.Key = c.key
			cmd.TriggerValue = res.Int()
			return cmd, nil
		}
	}
	return cmd, nil
}

// CommandDispatcher executes one command per delta message. The returned
// Command carries the matched key so the shadow synchronizer can reset the
// desired state and report the outcome; err is non-nil when execution
// failed.
type CommandDispatcher interface {
	Process(topic string, payload []byte) (Command, error)
}
