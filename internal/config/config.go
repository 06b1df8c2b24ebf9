// Package config loads SnelDB's environment knobs (spec.md §6) the way the
// teacher's paramtable does: a struct-of-groups populated by viper, with
// environment-variable overrides and sane defaults baked in.
package config

import (
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"go.uber.org/zap"

	"github.com/sneldb/sneldb/internal/log"
)

// FsyncPolicy is the WAL durability policy from spec.md §4.2.
type FsyncPolicy string

const (
	FsyncOnAppend FsyncPolicy = "fsync_on_append"
	FsyncOnRotate FsyncPolicy = "fsync_on_rotate"
	FsyncNever    FsyncPolicy = "never"
)

// ShardCfg controls shard count and base directory layout.
type ShardCfg struct {
	BaseDir    string `mapstructure:"base_dir"`
	ShardCount uint16 `mapstructure:"shard_count"`
}

// WALCfg controls the write-ahead log.
type WALCfg struct {
	FsyncPolicy   FsyncPolicy `mapstructure:"fsync_policy"`
	RotateAtBytes int64       `mapstructure:"rotate_at_bytes"`
}

// MemtableCfg controls memtable capacity and the passive-buffer pool size.
type MemtableCfg struct {
	Capacity      int `mapstructure:"capacity"`
	PassiveSlots  int `mapstructure:"passive_slots"`
	EventPerZone  int `mapstructure:"event_per_zone"`
	FillFactor    float64 `mapstructure:"fill_factor"`
}

// FlushCfg controls flush verification retries.
type FlushCfg struct {
	VerifyAttempts int           `mapstructure:"verify_attempts"`
	VerifyBackoff  time.Duration `mapstructure:"verify_backoff"`
	ChannelDepth   int           `mapstructure:"channel_depth"`
}

// CompactionCfg controls the k-way merge trigger.
type CompactionCfg struct {
	K         int `mapstructure:"k"`
	LevelSpan uint32 `mapstructure:"level_span"`
}

// QueryCfg controls query execution.
type QueryCfg struct {
	StreamChannelDepth int `mapstructure:"stream_channel_depth"`
}

// Config is SnelDB's top-level configuration, grounded on paramtable's
// ComponentParam struct-of-groups.
type Config struct {
	Shard      ShardCfg
	WAL        WALCfg
	Memtable   MemtableCfg
	Flush      FlushCfg
	Compaction CompactionCfg
	Query      QueryCfg
}

// Default returns SnelDB's baked-in defaults.
func Default() Config {
	return Config{
		Shard: ShardCfg{
			BaseDir:    "./data",
			ShardCount: 4,
		},
		WAL: WALCfg{
			FsyncPolicy:   FsyncOnRotate,
			RotateAtBytes: 64 << 20,
		},
		Memtable: MemtableCfg{
			Capacity:     4096,
			PassiveSlots: 2,
			EventPerZone: 4096,
			FillFactor:   0.5,
		},
		Flush: FlushCfg{
			VerifyAttempts: 5,
			VerifyBackoff:  50 * time.Millisecond,
			ChannelDepth:   4096,
		},
		Compaction: CompactionCfg{
			K:         4,
			LevelSpan: 1 << 16,
		},
		Query: QueryCfg{
			StreamChannelDepth: 256,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, and
// SNELDB_-prefixed environment variables, the same three-tier precedence
// the teacher's BaseTable applies (defaults < file < env).
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("sneldb")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}

	applyOverride(v, "shard.base_dir", &cfg.Shard.BaseDir, cast.ToString)
	applyOverrideUint16(v, "shard.shard_count", &cfg.Shard.ShardCount)
	applyOverrideString(v, "wal.fsync_policy", (*string)(&cfg.WAL.FsyncPolicy))
	applyOverrideInt64(v, "wal.rotate_at_bytes", &cfg.WAL.RotateAtBytes)
	applyOverrideInt(v, "memtable.capacity", &cfg.Memtable.Capacity)
	applyOverrideInt(v, "memtable.passive_slots", &cfg.Memtable.PassiveSlots)
	applyOverrideInt(v, "memtable.event_per_zone", &cfg.Memtable.EventPerZone)
	applyOverrideFloat(v, "memtable.fill_factor", &cfg.Memtable.FillFactor)
	applyOverrideInt(v, "flush.verify_attempts", &cfg.Flush.VerifyAttempts)
	applyOverrideInt(v, "flush.channel_depth", &cfg.Flush.ChannelDepth)
	applyOverrideInt(v, "compaction.k", &cfg.Compaction.K)
	applyOverrideInt(v, "query.stream_channel_depth", &cfg.Query.StreamChannelDepth)

	log.Debug("config loaded", zap.String("base_dir", cfg.Shard.BaseDir))
	return cfg, nil
}

func applyOverride(v *viper.Viper, key string, dst *string, conv func(interface{}) string) {
	if v.IsSet(key) {
		*dst = conv(v.Get(key))
	}
}

func applyOverrideString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = cast.ToString(v.Get(key))
	}
}

func applyOverrideInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = cast.ToInt(v.Get(key))
	}
}

func applyOverrideInt64(v *viper.Viper, key string, dst *int64) {
	if v.IsSet(key) {
		*dst = cast.ToInt64(v.Get(key))
	}
}

func applyOverrideUint16(v *viper.Viper, key string, dst *uint16) {
	if v.IsSet(key) {
		*dst = uint16(cast.ToUint(v.Get(key)))
	}
}

func applyOverrideFloat(v *viper.Viper, key string, dst *float64) {
	if v.IsSet(key) {
		*dst = cast.ToFloat64(v.Get(key))
	}
}
