package engine

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// WorkerBin is the engine worker executable spawned once per project.
	WorkerBin    string `envconfig:"ENGINE_WORKER_BIN" default:"engine-worker"`
	WorkerLogDir string `envconfig:"ENGINE_WORKER_LOG_DIR" default:"/var/log/enginemanager"`

	ScanInterval  time.Duration `envconfig:"ENGINE_SCAN_INTERVAL" default:"10s"`
	InvokeTimeout time.Duration `envconfig:"ENGINE_INVOKE_TIMEOUT" default:"10s"`
	DialTimeout   time.Duration `envconfig:"ENGINE_DIAL_TIMEOUT" default:"10s"`
	SettleDelay   time.Duration `envconfig:"ENGINE_SETTLE_DELAY" default:"5s"`
	StopGrace     time.Duration `envconfig:"ENGINE_STOP_GRACE" default:"4s"`

	// SendAction waits this long for a client that is still bootstrapping.
	InitWaitTimeout  time.Duration `envconfig:"ENGINE_INIT_WAIT_TIMEOUT" default:"10s"`
	InitPollInterval time.Duration `envconfig:"ENGINE_INIT_POLL_INTERVAL" default:"200ms"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
