package config

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

type Environment string

const (
	Live Environment = "live"
	Beta Environment = "beta"
	Dev  Environment = "dev"
)

type AssetpipeConfig struct {
	Env         Environment
	Addr        string
	PrivateAddr string
	BaseUrl     string
	LogLevel    zerolog.Level `mapstructure:"-"`
	LogFormat   string
	Postgres    PostgresConfig
	Storage     StorageConfig
	Queue       QueueConfig
	Uploads     UploadsConfig
	Reaper      ReaperConfig
	Worker      WorkerConfig
	Render      RenderConfig
}

type PostgresConfig struct {
	User     string
	Password string
	Hostname string
	Port     int
	DbName   string
	LogLevel tracelog.LogLevel `mapstructure:"-"`
	MinConn  int32
	MaxConn  int32
}

func (info PostgresConfig) DSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%d dbname=%s", info.User, info.Password, info.Hostname, info.Port, info.DbName)
}

type StorageBackend string

const (
	StorageS3     StorageBackend = "s3"
	StorageMinio  StorageBackend = "minio"
	StorageMemory StorageBackend = "memory"
)

type StorageConfig struct {
	Backend   StorageBackend
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Public base URL used when the in-memory backend signs URLs.
	DevBaseUrl string
	PresignTTL time.Duration
}

type QueueBackend string

const (
	QueueRedis  QueueBackend = "redis"
	QueueAMQP   QueueBackend = "amqp"
	QueueMemory QueueBackend = "memory"
)

type QueueConfig struct {
	Backend       QueueBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	AMQPUrl       string
	// Names are logical; backends may prefix them.
	WorkQueue       string
	DeadLetterQueue string
}

type UploadsConfig struct {
	PartSize   int64
	MaxParts   int
	SessionTTL time.Duration
}

type ReaperConfig struct {
	Interval time.Duration
	// When false, expired sessions are deleted without cancelling their
	// storage-side multipart uploads.
	AbortRemote bool
}

type UnsupportedMimePolicy string

const (
	UnsupportedSkip       UnsupportedMimePolicy = "skip"
	UnsupportedDeadLetter UnsupportedMimePolicy = "deadletter"
)

type WorkerConfig struct {
	DequeueTimeout  time.Duration
	ErrorBackoffMin time.Duration
	ErrorBackoffMax time.Duration
	ScratchDir      string
	UnsupportedMime UnsupportedMimePolicy
}

type RenderConfig struct {
	PdfInfoPath     string
	PdfToPpmPath    string
	SofficePath     string
	TileConcurrency int
}
