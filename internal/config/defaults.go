package config

import (
	"os"
	"path/filepath"
)

const (
	defaultLogDir             = "~/.local/share/rulerunner/logs"
	defaultWorkers            = 4
	defaultProgressInterval   = 10
	defaultItemDelayMillis    = 0
	defaultClaimRetries       = 3
	defaultClaimBackoffMillis = 250
	defaultProcessorTimeout   = 120
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

func defaultStore() string {
	return filepath.Join(os.TempDir(), "rulerunner")
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir: defaultLogDir,
		},
		Queue: Queue{
			Store:            defaultStore(),
			Workers:          defaultWorkers,
			ProgressInterval: defaultProgressInterval,
		},
		Worker: Worker{
			ItemDelayMillis:    defaultItemDelayMillis,
			ClaimRetries:       defaultClaimRetries,
			ClaimBackoffMillis: defaultClaimBackoffMillis,
		},
		Processor: Processor{
			Timeout: defaultProcessorTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
