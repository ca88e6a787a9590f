package models

import (
	"fmt"
	"time"
)

// ProjectConfig is the top-level configuration for geochain
type ProjectConfig struct {
	GISDBase         string        `yaml:"gisdbase" json:"gisdbase"` // Root of the persistent locations
	TmpDir           string        `yaml:"tmp_dir" json:"tmp_dir"`   // Parent of ephemeral workspaces
	Grass            GrassConfig   `yaml:"grass" json:"grass"`
	ProtectedMapsets []string      `yaml:"protected_mapsets" json:"protected_mapsets"`
	Export           ExportConfig  `yaml:"export" json:"export"`
	KV               KVConfig      `yaml:"kv" json:"kv"`
	Status           StatusConfig  `yaml:"status" json:"status"`
	Storage          StorageConfig `yaml:"storage" json:"storage"`
	Worker           WorkerConfig  `yaml:"worker" json:"worker"`
	Janitor          JanitorConfig `yaml:"janitor" json:"janitor"`
	Log              LogConfig     `yaml:"log" json:"log"`
}

// GrassConfig controls how module executables are resolved
type GrassConfig struct {
	ModulePath string `yaml:"module_path" json:"module_path"` // Prepended to PATH for module invocations
}

// ExportConfig controls the export pipeline
type ExportConfig struct {
	UseRasterRegion bool `yaml:"use_raster_region" json:"use_raster_region"`
}

// KVConfig selects the shared key/value store holding locks and termination flags
type KVConfig struct {
	Backend   string        `yaml:"backend" json:"backend"` // memory | file | redis | mongo
	Namespace string        `yaml:"namespace" json:"namespace"`
	File      FileKVConfig  `yaml:"file" json:"file"`
	Redis     RedisKVConfig `yaml:"redis" json:"redis"`
	Mongo     MongoKVConfig `yaml:"mongo" json:"mongo"`
}

// FileKVConfig configures the flock based store
type FileKVConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// RedisKVConfig configures the Redis store
type RedisKVConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// MongoKVConfig configures the MongoDB store
type MongoKVConfig struct {
	URI        string        `yaml:"uri" json:"uri"`
	Database   string        `yaml:"database" json:"database"`
	Collection string        `yaml:"collection" json:"collection"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// StatusConfig selects where job status records are published
type StatusConfig struct {
	Backend    string `yaml:"backend" json:"backend"` // memory | file | sqlite
	Dir        string `yaml:"dir" json:"dir"`
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
}

// StorageConfig selects the destination of exported resources
type StorageConfig struct {
	Backend string             `yaml:"backend" json:"backend"` // local | s3 | gcs
	Local   LocalStorageConfig `yaml:"local" json:"local"`
	S3      S3StorageConfig    `yaml:"s3" json:"s3"`
	GCS     GCSStorageConfig   `yaml:"gcs" json:"gcs"`
}

// LocalStorageConfig configures the local filesystem backend
type LocalStorageConfig struct {
	BaseDir string `yaml:"base_dir" json:"base_dir"`
	BaseURL string `yaml:"base_url" json:"base_url"` // Optional; locators are file paths without it
}

// S3StorageConfig configures the S3 compatible backend
type S3StorageConfig struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	Region          string `yaml:"region" json:"region"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"-"`
	UseSSL          bool   `yaml:"use_ssl" json:"use_ssl"`
	Prefix          string `yaml:"prefix" json:"prefix"`
}

// GCSStorageConfig configures the Google Cloud Storage backend
type GCSStorageConfig struct {
	Bucket          string `yaml:"bucket" json:"bucket"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	Prefix          string `yaml:"prefix" json:"prefix"`
}

// WorkerConfig sizes the worker pool
type WorkerConfig struct {
	PoolSize  int `yaml:"pool_size" json:"pool_size"`
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// JanitorConfig controls the sweep of orphaned ephemeral workspaces
type JanitorConfig struct {
	Schedule string        `yaml:"schedule" json:"schedule"`
	MaxAge   time.Duration `yaml:"max_age" json:"max_age"`
}

// LogConfig controls the logger
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // text | json
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() ProjectConfig {
	return ProjectConfig{
		GISDBase:         "./grassdata",
		TmpDir:           "",
		ProtectedMapsets: []string{PermanentMapset},
		Export: ExportConfig{
			UseRasterRegion: false,
		},
		KV: KVConfig{
			Backend:   "file",
			Namespace: "geochain",
			File:      FileKVConfig{Dir: "./geochain-kv"},
			Redis:     RedisKVConfig{Addr: "localhost:6379"},
			Mongo: MongoKVConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "geochain",
				Collection: "kv",
				Timeout:    10 * time.Second,
			},
		},
		Status: StatusConfig{
			Backend:    "file",
			Dir:        "./jobs",
			SQLitePath: "./geochain.db",
		},
		Storage: StorageConfig{
			Backend: "local",
			Local:   LocalStorageConfig{BaseDir: "./resources"},
			S3:      S3StorageConfig{Endpoint: "s3.amazonaws.com", UseSSL: true},
		},
		Worker: WorkerConfig{
			PoolSize:  4,
			QueueSize: 100,
		},
		Janitor: JanitorConfig{
			Schedule: "@every 1h",
			MaxAge:   24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks backend names and the keys each backend requires
func (c *ProjectConfig) Validate() error {
	if c.GISDBase == "" {
		return fmt.Errorf("gisdbase is required")
	}

	switch c.KV.Backend {
	case "memory":
	case "file":
		if c.KV.File.Dir == "" {
			return fmt.Errorf("kv.file.dir is required for the file key/value backend")
		}
	case "redis":
		if c.KV.Redis.Addr == "" {
			return fmt.Errorf("kv.redis.addr is required for the redis key/value backend")
		}
	case "mongo":
		if c.KV.Mongo.URI == "" || c.KV.Mongo.Database == "" || c.KV.Mongo.Collection == "" {
			return fmt.Errorf("kv.mongo.uri, kv.mongo.database and kv.mongo.collection are required for the mongo key/value backend")
		}
	default:
		return fmt.Errorf("unknown kv.backend %q (expected memory, file, redis or mongo)", c.KV.Backend)
	}

	switch c.Status.Backend {
	case "memory":
	case "file":
		if c.Status.Dir == "" {
			return fmt.Errorf("status.dir is required for the file status backend")
		}
	case "sqlite":
		if c.Status.SQLitePath == "" {
			return fmt.Errorf("status.sqlite_path is required for the sqlite status backend")
		}
	default:
		return fmt.Errorf("unknown status.backend %q (expected memory, file or sqlite)", c.Status.Backend)
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Worker.PoolSize <= 0 {
		return fmt.Errorf("worker.pool_size must be > 0, got %d", c.Worker.PoolSize)
	}
	if c.Janitor.MaxAge < 0 {
		return fmt.Errorf("janitor.max_age cannot be negative")
	}

	return nil
}

// Validate checks the storage backend selection.
// Reachability is verified later by the backend's Setup.
func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case "local":
		if c.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local storage backend")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 storage backend")
		}
	case "gcs":
		if c.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs storage backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q (expected local, s3 or gcs)", c.Backend)
	}
	return nil
}

// IsProtected reports whether a mapset may never be a processing target
func (c *ProjectConfig) IsProtected(mapset string) bool {
	if mapset == PermanentMapset {
		return true
	}
	for _, p := range c.ProtectedMapsets {
		if p == mapset {
			return true
		}
	}
	return false
}
