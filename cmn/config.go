// Package cmn holds the low-level types and utilities shared by every
// component of the placement engine: the lifecycle/runner contract, the
// assert helper, and the global, copy-on-write configuration owner.
package cmn

import (
	"io/ioutil"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
)

var jsonCompat = jsoniter.ConfigCompatibleWithStandardLibrary

// ConfigOwner is the interface for interacting with the process-wide
// Config. Updates happen as a transaction: BeginUpdate returns a private
// copy, the caller mutates it, and either CommitUpdate publishes it and
// notifies listeners or DiscardUpdate throws it away.
type ConfigOwner interface {
	Get() *Config
	BeginUpdate() *Config
	CommitUpdate(config *Config)
	DiscardUpdate()

	Subscribe(cl ConfigListener)

	SetConfigFile(path string)
	GetConfigFile() string
}

// ConfigListener is notified whenever CommitUpdate publishes a new
// Config.
type ConfigListener interface {
	ConfigUpdate(oldConf, newConf *Config)
}

// ConfigCLI holds the command-line overrides accepted by cmd/placementd.
type ConfigCLI struct {
	ConfFile string // config filename
	LogLevel string // takes precedence over config.Log.Level
	MirrorID string // overrides config.Mirror.LocalID
}

type globalConfigOwner struct {
	mtx       sync.Mutex
	c         unsafe.Pointer
	lmtx      sync.Mutex
	listeners []ConfigListener
	confFile  string
}

// GCO is the global config owner: Config is loaded once at startup and
// read via GCO.Get() everywhere else; updates go through
// BeginUpdate/CommitUpdate so listeners always see a fully-formed Config.
var GCO = &globalConfigOwner{}

func init() {
	atomic.StorePointer(&GCO.c, unsafe.Pointer(DefaultConfig()))
}

func (gco *globalConfigOwner) Get() *Config {
	return (*Config)(atomic.LoadPointer(&gco.c))
}

func (gco *globalConfigOwner) BeginUpdate() *Config {
	gco.mtx.Lock()
	config := &Config{}
	*config = *gco.Get()
	return config
}

func (gco *globalConfigOwner) CommitUpdate(config *Config) {
	oldConf := gco.Get()
	atomic.StorePointer(&gco.c, unsafe.Pointer(config))
	gco.notifyListeners(oldConf)
	gco.mtx.Unlock()
}

func (gco *globalConfigOwner) DiscardUpdate() {
	gco.mtx.Unlock()
}

func (gco *globalConfigOwner) SetConfigFile(path string) {
	gco.mtx.Lock()
	gco.confFile = path
	gco.mtx.Unlock()
}

func (gco *globalConfigOwner) GetConfigFile() string {
	gco.mtx.Lock()
	defer gco.mtx.Unlock()
	return gco.confFile
}

func (gco *globalConfigOwner) notifyListeners(oldConf *Config) {
	gco.lmtx.Lock()
	newConf := gco.Get()
	for _, l := range gco.listeners {
		l.ConfigUpdate(oldConf, newConf)
	}
	gco.lmtx.Unlock()
}

func (gco *globalConfigOwner) Subscribe(cl ConfigListener) {
	gco.lmtx.Lock()
	gco.listeners = append(gco.listeners, cl)
	gco.lmtx.Unlock()
}

// Config is the placement engine's full configuration surface: the
// spec's §6 knobs plus the ambient blocks a real daemon needs (logging,
// the peer-RPC listener, OSG retry timeouts).
type Config struct {
	Mirror  MirrorConf  `json:"mirror"`
	Policy  PolicyConf  `json:"policy"`
	OSG     OSGConf     `json:"osg"`
	Net     NetConf     `json:"net"`
	Log     LogConf     `json:"log"`
	Timeout TimeoutConf `json:"timeout"`
}

// MirrorConf identifies this daemon instance within the cluster.
type MirrorConf struct {
	LocalID    string `json:"local_instance_id"`
	MirrorUUID string `json:"mirror_uuid"`
}

// PolicyConf selects and sizes the rebalancing policy.
type PolicyConf struct {
	Name         string `json:"name"`           // enumeration: {simple}
	ListPageSize int    `json:"list_page_size"` // default 1024
}

// OSGConf configures instance-liveness heartbeat tracking and retry
// policy for the object-store gateway adapters.
type OSGConf struct {
	HeartbeatInterval             time.Duration `json:"heartbeat_interval"` // default 5s
	MaxMissedHeartbeats           int           `json:"max_missed_heartbeats"`             // default 2
	MaxAcquireAttemptsBeforeBreak int           `json:"max_acquire_attempts_before_break"` // default 3
	RetryBackoffBase              time.Duration `json:"retry_backoff_base"`
	RetryCeiling                  time.Duration `json:"retry_ceiling"`
}

type NetConf struct {
	Port             int  `json:"port"`
	IntraControlPort int  `json:"port_intra_control"`
	UseH2C           bool `json:"use_h2c"`
}

type LogConf struct {
	Dir   string `json:"dir"`
	Level string `json:"level"`
}

type TimeoutConf struct {
	Default     time.Duration `json:"default_timeout"`
	LongTimeout time.Duration `json:"default_long_timeout"`
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() *Config {
	return &Config{
		Policy: PolicyConf{
			Name:         "simple",
			ListPageSize: 1024,
		},
		OSG: OSGConf{
			HeartbeatInterval:             5 * time.Second,
			MaxMissedHeartbeats:           2,
			MaxAcquireAttemptsBeforeBreak: 3,
			RetryBackoffBase:              100 * time.Millisecond,
			RetryCeiling:                  30 * time.Second,
		},
		Net: NetConf{
			Port:             8700,
			IntraControlPort: 8701,
			UseH2C:           true,
		},
		Log: LogConf{
			Level: "3",
		},
		Timeout: TimeoutConf{
			Default:     10 * time.Second,
			LongTimeout: 30 * time.Second,
		},
	}
}

// HeartbeatGrace implements spec §4.2's removal-timer formula.
func (c *Config) HeartbeatGrace() time.Duration {
	interval := c.OSG.HeartbeatInterval
	if interval < time.Second {
		interval = time.Second
	}
	factor := 1 + c.OSG.MaxMissedHeartbeats + c.OSG.MaxAcquireAttemptsBeforeBreak
	return interval * time.Duration(factor)
}

// LoadConfig reads a JSON config file the way the teacher's daemon reads
// its on-disk config, via jsoniter for speed/compat with encoding/json.
func LoadConfig(path string) (*Config, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := DefaultConfig()
	if err := jsonCompat.Unmarshal(b, config); err != nil {
		return nil, err
	}
	return config, nil
}
