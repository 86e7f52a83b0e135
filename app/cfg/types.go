package cfg

import "time"

const (
	CommandDaemon   = "daemon"
	CommandRun      = "run"
	CommandValidate = "validate-config"
)

type Cfg struct {
	// Files and directories
	ConfigPath string
	DataDir    string
	LogDir     string

	// Admin API
	Port         string
	APIAccessKey string

	// Runtime behaviour
	DrainTimeout time.Duration
	EnvPrefix    string
	Timezone     string
	Debug        bool
	Version      string

	// Selected sub-command
	Command string
	JobID   string
}
