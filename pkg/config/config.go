package config

import (
	"os"
	"time"

	"github.com/phtran-dev/spax/pkg/errors"
	"github.com/phtran-dev/spax/pkg/logger/conf"
	"github.com/phtran-dev/spax/pkg/sql"
	"gopkg.in/yaml.v2"
)

type Config struct {
	HttpPort   int  `json:"httpPort" yaml:"httpPort"`
	HealthPort int  `json:"healthPort" yaml:"healthPort"`

	Log      *conf.LogConfig    `json:"log" yaml:"log"`
	Database sql.DatabaseConfig `json:"database" yaml:"database"`

	Queue       QueueConfig       `json:"queue" yaml:"queue"`
	Cache       CacheConfig       `json:"cache" yaml:"cache"`
	Ingest      IngestConfig      `json:"ingest" yaml:"ingest"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	DiskMonitor DiskMonitorConfig `json:"diskMonitor" yaml:"diskMonitor"`
	Lifecycle   LifecycleConfig   `json:"lifecycle" yaml:"lifecycle"`
	Partition   PartitionConfig   `json:"partition" yaml:"partition"`
	Correction  CorrectionConfig  `json:"correction" yaml:"correction"`
}

const (
	QueueBackendStream = "stream"
	QueueBackendWal    = "wal"

	CacheBackendLocal  = "local"
	CacheBackendShared = "shared"
)

type QueueConfig struct {
	Backend string      `json:"backend" yaml:"backend"` // stream or wal
	Redis   RedisConfig `json:"redis" yaml:"redis"`
}

func (q QueueConfig) GetBackend() string {
	if q.Backend == "" {
		return QueueBackendStream
	}
	return q.Backend
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type CacheConfig struct {
	Backend string      `json:"backend" yaml:"backend"` // local or shared
	Redis   RedisConfig `json:"redis" yaml:"redis"`
}

func (c CacheConfig) GetBackend() string {
	if c.Backend == "" {
		return CacheBackendLocal
	}
	return c.Backend
}

type IngestConfig struct {
	BatchSize            int    `json:"batch_size" yaml:"batch_size"`
	FlushIntervalSeconds int    `json:"flush_interval_seconds" yaml:"flush_interval_seconds"`
	ConsumerThreads      int    `json:"consumer_threads" yaml:"consumer_threads"`
	IncomingDir          string `json:"incoming_dir" yaml:"incoming_dir"`
	ErrorDir             string `json:"error_dir" yaml:"error_dir"`
}

func (i IngestConfig) GetBatchSize() int {
	if i.BatchSize <= 0 {
		return 200
	}
	return i.BatchSize
}

func (i IngestConfig) GetFlushInterval() time.Duration {
	if i.FlushIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(i.FlushIntervalSeconds) * time.Second
}

func (i IngestConfig) GetConsumerThreads() int {
	if i.ConsumerThreads <= 0 {
		return 4
	}
	return i.ConsumerThreads
}

func (i IngestConfig) GetIncomingDir() string {
	if i.IncomingDir == "" {
		return "/var/spool/spax/incoming"
	}
	return i.IncomingDir
}

func (i IngestConfig) GetErrorDir() string {
	if i.ErrorDir == "" {
		return "/var/spool/spax/error"
	}
	return i.ErrorDir
}

type StorageConfig struct {
	DefaultPathTemplate string `json:"default_path_template" yaml:"default_path_template"`
}

func (s StorageConfig) GetDefaultPathTemplate() string {
	if s.DefaultPathTemplate == "" {
		return "{now,date,yyyy/MM/dd}/{0020000D,hash}/{0020000E,hash}/{00080018,hash}"
	}
	return s.DefaultPathTemplate
}

type DiskMonitorConfig struct {
	ThresholdMB     int64 `json:"threshold_mb" yaml:"threshold_mb"`
	IntervalSeconds int   `json:"interval_seconds" yaml:"interval_seconds"`
}

func (d DiskMonitorConfig) GetThresholdMB() int64 {
	if d.ThresholdMB <= 0 {
		return 5120
	}
	return d.ThresholdMB
}

func (d DiskMonitorConfig) GetInterval() time.Duration {
	if d.IntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(d.IntervalSeconds) * time.Second
}

type LifecycleConfig struct {
	EvaluatorCron         string   `json:"evaluator_cron" yaml:"evaluator_cron"`
	WorkerIntervalSeconds int      `json:"worker_interval_seconds" yaml:"worker_interval_seconds"`
	TaskBatch             int      `json:"task_batch" yaml:"task_batch"`
	EvaluationCap         int      `json:"evaluation_cap" yaml:"evaluation_cap"`
	TranscoderCmd         []string `json:"transcoder_cmd" yaml:"transcoder_cmd"`
}

func (l LifecycleConfig) GetEvaluatorCron() string {
	if l.EvaluatorCron == "" {
		return "0 2 * * *"
	}
	return l.EvaluatorCron
}

func (l LifecycleConfig) GetWorkerInterval() time.Duration {
	if l.WorkerIntervalSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(l.WorkerIntervalSeconds) * time.Second
}

func (l LifecycleConfig) GetTaskBatch() int {
	if l.TaskBatch <= 0 {
		return 100
	}
	return l.TaskBatch
}

func (l LifecycleConfig) GetEvaluationCap() int {
	if l.EvaluationCap <= 0 {
		return 10000
	}
	return l.EvaluationCap
}

// GetTranscoderCmd returns the external transcoder command line, or nil when
// compression is not configured.
func (l LifecycleConfig) GetTranscoderCmd() []string {
	return l.TranscoderCmd
}

type PartitionConfig struct {
	MonthsAhead int    `json:"months_ahead" yaml:"months_ahead"`
	Cron        string `json:"cron" yaml:"cron"`
}

func (p PartitionConfig) GetMonthsAhead() int {
	if p.MonthsAhead <= 0 {
		return 12
	}
	return p.MonthsAhead
}

func (p PartitionConfig) GetCron() string {
	if p.Cron == "" {
		return "30 1 * * *"
	}
	return p.Cron
}

type CorrectionConfig struct {
	IntervalSeconds int `json:"interval_seconds" yaml:"interval_seconds"`
	TaskBatch       int `json:"task_batch" yaml:"task_batch"`
}

func (c CorrectionConfig) GetInterval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c CorrectionConfig) GetTaskBatch() int {
	if c.TaskBatch <= 0 {
		return 50
	}
	return c.TaskBatch
}

func (cfg *Config) GetHttpPort() int {
	if cfg.HttpPort == 0 {
		return 8080
	}
	return cfg.HttpPort
}

func (cfg *Config) GetHealthPort() int {
	if cfg.HealthPort == 0 {
		return cfg.GetHttpPort() + 1
	}
	return cfg.HealthPort
}

var config *Config

func LoadConfig() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	configFile, err := os.Open(configPath)
	if err != nil {
		return nil, errors.NewError().
			WithCode(errors.CodeInitializeError).
			WithMessage("failed to open config file").
			WithError(err)
	}
	defer configFile.Close()
	decoder := yaml.NewDecoder(configFile)
	err = decoder.Decode(&config)
	if err != nil {
		return nil, errors.NewError().
			WithCode(errors.CodeInitializeError).
			WithMessage("failed to parse config file").
			WithError(err)
	}
	return config, nil
}
