package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

// ErrUsage marks command-line errors; the process exits with code 1 on them.
var ErrUsage = errors.New("invalid usage")

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type runCommand struct {
	Args struct {
		JobID string `positional-arg-name:"job_id" description:"Job to trigger, e.g. huya_monitor"`
	} `positional-args:"yes" required:"yes"`
}

type rawCfg struct {
	// Files and directories
	ConfigPath string `long:"config" env:"WEBMONITER_CONFIG" default:"config.yml" description:"Path to the monitoring document"`
	DataDir    string `long:"data-dir" env:"DATA_DIR" default:"data" description:"Directory for the state database and credential cache"`
	LogDir     string `long:"log-dir" env:"LOG_DIR" default:"logs" description:"Directory for the main and per-job log files"`

	// Admin API
	Port         string `long:"port" env:"PORT" description:"Admin API port (empty disables the API)"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Runtime behaviour
	DrainTimeout int    `long:"drain-timeout" env:"DRAIN_TIMEOUT" default:"30" description:"Seconds to wait for in-flight jobs on shutdown"`
	EnvPrefix    string `long:"env-prefix" env:"ENV_PREFIX" default:"WEBMONITER" description:"Prefix of the variables read in headless mode"`
	Timezone     string `long:"timezone" env:"TZ" default:"Asia/Shanghai" description:"Timezone for schedules and quiet hours"`
	Debug        bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`

	Daemon   struct{}   `command:"daemon" description:"Run the scheduler until interrupted (default)"`
	Run      runCommand `command:"run" description:"Run one job immediately, bypassing the once-per-day guard"`
	Validate struct{}   `command:"validate-config" description:"Parse and validate the monitoring document"`
}

var globalCfg *Cfg

// Load parses args (without the program name). It returns nil, nil when help
// was requested.
func Load(args []string) (*Cfg, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)
	parser.SubcommandsOptional = true

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if raw.DrainTimeout < 0 {
		return nil, fmt.Errorf("%w: drain timeout must not be negative", ErrUsage)
	}

	cfg := &Cfg{
		ConfigPath:   raw.ConfigPath,
		DataDir:      raw.DataDir,
		LogDir:       raw.LogDir,
		Port:         raw.Port,
		APIAccessKey: raw.APIAccessKey,
		DrainTimeout: time.Duration(raw.DrainTimeout) * time.Second,
		EnvPrefix:    raw.EnvPrefix,
		Timezone:     raw.Timezone,
		Debug:        raw.Debug,
		Version:      GetVersion(),
		Command:      CommandDaemon,
	}

	if parser.Active != nil {
		cfg.Command = parser.Active.Name
	}
	if cfg.Command == CommandRun {
		cfg.JobID = raw.Run.Args.JobID
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return err
		}
		time.Local = loc
	}
	return nil
}
