package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Store engines.
const (
	EngineMemory       = "memory"
	EngineBadger       = "badger"
	EngineFoundationDB = "foundationdb"
)

// actorTagLen is the length of the per-actor key tag, see workload.KeySpace.
const actorTagLen = 5

// minKeyDigits is the number of hex digits needed to encode a key index.
const minKeyDigits = 16

type Config struct {
	Log        log.Config `toml:"log" json:"log"`
	StatusAddr string     `toml:"status-addr" json:"status-addr"`
	Workload   Workload   `toml:"workload" json:"workload"`
	Store      Store      `toml:"store" json:"store"`
}

type Workload struct {
	TestDuration    Duration `toml:"test-duration" json:"test-duration"`
	ActorsPerClient int      `toml:"actors-per-client" json:"actors-per-client"`
	// TransactionsPerSecond bounds iterations per second over all actors. 0 is unlimited.
	TransactionsPerSecond float64 `toml:"transactions-per-second" json:"transactions-per-second"`
	KeyPrefix             string  `toml:"key-prefix" json:"key-prefix"`
	KeyBytes              int     `toml:"key-bytes" json:"key-bytes"`
	NodeCount             int     `toml:"node-count" json:"node-count"`

	ReadConflictRangeCountPerTx  int `toml:"read-conflict-range-count-per-tx" json:"read-conflict-range-count-per-tx"`
	WriteConflictRangeCountPerTx int `toml:"write-conflict-range-count-per-tx" json:"write-conflict-range-count-per-tx"`

	Seed int64 `toml:"seed" json:"seed"`
}

type Store struct {
	Engine string `toml:"engine" json:"engine"` // memory, badger or foundationdb.
	DBPath string `toml:"db-path" json:"db-path"`
	// MaxReadVersionLag is how many versions a transaction may fall behind before it is too old. 0 keeps all.
	MaxReadVersionLag uint64 `toml:"max-read-version-lag" json:"max-read-version-lag"`
	MaxTableSize      string `toml:"max-table-size" json:"max-table-size"`           // e.g. "64MB".
	ValueLogFileSize  string `toml:"value-log-file-size" json:"value-log-file-size"` // e.g. "256MB".
	SyncWrites        bool   `toml:"sync-writes" json:"sync-writes"`
	ClusterFile       string `toml:"cluster-file" json:"cluster-file"` // Empty uses the default cluster file.
	APIVersion        int    `toml:"api-version" json:"api-version"`
}

var DefaultConf = Config{
	Log: log.Config{
		Level:  "info",
		Format: "text",
	},
	StatusAddr: "127.0.0.1:9292",
	Workload: Workload{
		TestDuration:                 NewDuration(10 * time.Second),
		ActorsPerClient:              1,
		KeyPrefix:                    "ReportConflictingKeysWorkload",
		KeyBytes:                     64,
		NodeCount:                    100,
		ReadConflictRangeCountPerTx:  1,
		WriteConflictRangeCountPerTx: 1,
	},
	Store: Store{
		Engine:            EngineMemory,
		DBPath:            "/tmp/conflictkv",
		MaxReadVersionLag: 1 << 20,
		MaxTableSize:      "64MB",
		ValueLogFileSize:  "256MB",
		APIVersion:        630,
	},
}

// NewDefaultConfig returns a copy of DefaultConf with the log level taken from LOG_LEVEL when it is set.
func NewDefaultConfig() *Config {
	cfg := DefaultConf
	cfg.Log.Level = getLogLevel(cfg.Log.Level)
	return &cfg
}

// LoadFile overlays the TOML file at path on a default config and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Annotatef(err, "decode config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, errors.Errorf("config %s contains undefined items: %s", path, strings.Join(keys, ", "))
	}
	cfg.Log.Level = getLogLevel(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Workload.Validate(); err != nil {
		return err
	}
	return c.Store.Validate()
}

func (w *Workload) Validate() error {
	if w.TestDuration.Duration <= 0 {
		return errors.Errorf("test-duration must be positive, got %s", w.TestDuration)
	}
	if w.ActorsPerClient < 1 {
		return errors.Errorf("actors-per-client must be at least 1, got %d", w.ActorsPerClient)
	}
	if w.TransactionsPerSecond < 0 {
		return errors.Errorf("transactions-per-second must not be negative, got %v", w.TransactionsPerSecond)
	}
	if w.NodeCount < 1 {
		return errors.Errorf("node-count must be at least 1, got %d", w.NodeCount)
	}
	if w.ReadConflictRangeCountPerTx < 1 || w.WriteConflictRangeCountPerTx < 1 {
		return errors.Errorf("conflict range counts per tx must be at least 1, got read %d write %d",
			w.ReadConflictRangeCountPerTx, w.WriteConflictRangeCountPerTx)
	}
	if need := len(w.KeyPrefix) + actorTagLen + minKeyDigits; need > w.KeyBytes {
		return errors.Errorf("key-bytes %d is too small for key-prefix %q, need at least %d",
			w.KeyBytes, w.KeyPrefix, need)
	}
	if strings.HasPrefix(w.KeyPrefix, "\xff") {
		return errors.Errorf("key-prefix %q is inside the system key space", w.KeyPrefix)
	}
	return nil
}

func (s *Store) Validate() error {
	switch s.Engine {
	case EngineMemory, EngineFoundationDB:
	case EngineBadger:
		if s.DBPath == "" {
			return errors.New("db-path is required by the badger engine")
		}
		if _, err := s.MaxTableSizeBytes(); err != nil {
			return err
		}
		if _, err := s.ValueLogFileSizeBytes(); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown engine %q", s.Engine)
	}
	return nil
}

// MaxTableSizeBytes parses MaxTableSize, e.g. "64MB".
func (s *Store) MaxTableSizeBytes() (int64, error) {
	return parseSize("max-table-size", s.MaxTableSize)
}

// ValueLogFileSizeBytes parses ValueLogFileSize, e.g. "256MB".
func (s *Store) ValueLogFileSizeBytes() (int64, error) {
	return parseSize("value-log-file-size", s.ValueLogFileSize)
}

func parseSize(name, value string) (int64, error) {
	size, err := units.RAMInBytes(value)
	if err != nil {
		return 0, errors.Annotatef(err, "parse %s", name)
	}
	if size <= 0 {
		return 0, errors.Errorf("%s must be positive, got %s", name, value)
	}
	return size, nil
}

// SetupLogger initializes the global pingcap/log logger and returns it.
func (c *Config) SetupLogger() (*zap.Logger, error) {
	lg, p, err := log.InitLogger(&c.Log, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.ReplaceGlobals(lg, p)
	return lg, nil
}

func (c *Config) String() string {
	return fmt.Sprintf("%+v", *c)
}

func getLogLevel(level string) string {
	if l := os.Getenv("LOG_LEVEL"); l != "" {
		return l
	}
	return level
}

// Duration is a time.Duration that decodes from strings such as "10s" in TOML.
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.Annotatef(err, "parse duration %q", text)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
