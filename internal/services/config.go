package services

import (
	"strings"

	"github.com/spf13/viper"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
)

// EnvPrefix is the prefix of environment overrides, e.g. GEOCHAIN_KV_BACKEND
const EnvPrefix = "GEOCHAIN"

// NewViper returns a viper instance with every default registered.
// CLI flags are bound onto it by the cmd package.
func NewViper() *viper.Viper {
	v := viper.New()
	d := models.DefaultConfig()

	v.SetDefault("gisdbase", d.GISDBase)
	v.SetDefault("tmp_dir", d.TmpDir)
	v.SetDefault("grass.module_path", d.Grass.ModulePath)
	v.SetDefault("protected_mapsets", d.ProtectedMapsets)
	v.SetDefault("export.use_raster_region", d.Export.UseRasterRegion)

	v.SetDefault("kv.backend", d.KV.Backend)
	v.SetDefault("kv.namespace", d.KV.Namespace)
	v.SetDefault("kv.file.dir", d.KV.File.Dir)
	v.SetDefault("kv.redis.addr", d.KV.Redis.Addr)
	v.SetDefault("kv.redis.password", d.KV.Redis.Password)
	v.SetDefault("kv.redis.db", d.KV.Redis.DB)
	v.SetDefault("kv.mongo.uri", d.KV.Mongo.URI)
	v.SetDefault("kv.mongo.database", d.KV.Mongo.Database)
	v.SetDefault("kv.mongo.collection", d.KV.Mongo.Collection)
	v.SetDefault("kv.mongo.timeout", d.KV.Mongo.Timeout)

	v.SetDefault("status.backend", d.Status.Backend)
	v.SetDefault("status.dir", d.Status.Dir)
	v.SetDefault("status.sqlite_path", d.Status.SQLitePath)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.local.base_dir", d.Storage.Local.BaseDir)
	v.SetDefault("storage.local.base_url", d.Storage.Local.BaseURL)
	v.SetDefault("storage.s3.endpoint", d.Storage.S3.Endpoint)
	v.SetDefault("storage.s3.bucket", d.Storage.S3.Bucket)
	v.SetDefault("storage.s3.region", d.Storage.S3.Region)
	v.SetDefault("storage.s3.access_key_id", d.Storage.S3.AccessKeyID)
	v.SetDefault("storage.s3.secret_access_key", d.Storage.S3.SecretAccessKey)
	v.SetDefault("storage.s3.use_ssl", d.Storage.S3.UseSSL)
	v.SetDefault("storage.s3.prefix", d.Storage.S3.Prefix)
	v.SetDefault("storage.gcs.bucket", d.Storage.GCS.Bucket)
	v.SetDefault("storage.gcs.credentials_file", d.Storage.GCS.CredentialsFile)
	v.SetDefault("storage.gcs.prefix", d.Storage.GCS.Prefix)

	v.SetDefault("worker.pool_size", d.Worker.PoolSize)
	v.SetDefault("worker.queue_size", d.Worker.QueueSize)
	v.SetDefault("janitor.schedule", d.Janitor.Schedule)
	v.SetDefault("janitor.max_age", d.Janitor.MaxAge)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// LoadConfig loads configuration from file into a fresh viper instance
// Priority order (highest to lowest):
//  1. Environment variables
//  2. Configuration file
//  3. Default values
func LoadConfig(configFile string) (*models.ProjectConfig, error) {
	return LoadConfigWith(NewViper(), configFile)
}

// LoadConfigWith loads configuration using v, which may carry bound CLI flags
// (highest priority)
func LoadConfigWith(v *viper.Viper, configFile string) (*models.ProjectConfig, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("geochain")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/geochain")
		v.AddConfigPath("/etc/geochain")
	}

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, lib.ErrInvalidConfig("failed to read config file", err)
		}
	}

	// Build config manually from viper values
	// (Viper.Unmarshal has issues with nested structs in some versions)
	config := models.ProjectConfig{
		GISDBase:         v.GetString("gisdbase"),
		TmpDir:           v.GetString("tmp_dir"),
		Grass:            models.GrassConfig{ModulePath: v.GetString("grass.module_path")},
		ProtectedMapsets: v.GetStringSlice("protected_mapsets"),
		Export:           models.ExportConfig{UseRasterRegion: v.GetBool("export.use_raster_region")},
		KV: models.KVConfig{
			Backend:   v.GetString("kv.backend"),
			Namespace: v.GetString("kv.namespace"),
			File:      models.FileKVConfig{Dir: v.GetString("kv.file.dir")},
			Redis: models.RedisKVConfig{
				Addr:     v.GetString("kv.redis.addr"),
				Password: v.GetString("kv.redis.password"),
				DB:       v.GetInt("kv.redis.db"),
			},
			Mongo: models.MongoKVConfig{
				URI:        v.GetString("kv.mongo.uri"),
				Database:   v.GetString("kv.mongo.database"),
				Collection: v.GetString("kv.mongo.collection"),
				Timeout:    v.GetDuration("kv.mongo.timeout"),
			},
		},
		Status: models.StatusConfig{
			Backend:    v.GetString("status.backend"),
			Dir:        v.GetString("status.dir"),
			SQLitePath: v.GetString("status.sqlite_path"),
		},
		Storage: models.StorageConfig{
			Backend: v.GetString("storage.backend"),
			Local: models.LocalStorageConfig{
				BaseDir: v.GetString("storage.local.base_dir"),
				BaseURL: v.GetString("storage.local.base_url"),
			},
			S3: models.S3StorageConfig{
				Endpoint:        v.GetString("storage.s3.endpoint"),
				Bucket:          v.GetString("storage.s3.bucket"),
				Region:          v.GetString("storage.s3.region"),
				AccessKeyID:     v.GetString("storage.s3.access_key_id"),
				SecretAccessKey: v.GetString("storage.s3.secret_access_key"),
				UseSSL:          v.GetBool("storage.s3.use_ssl"),
				Prefix:          v.GetString("storage.s3.prefix"),
			},
			GCS: models.GCSStorageConfig{
				Bucket:          v.GetString("storage.gcs.bucket"),
				CredentialsFile: v.GetString("storage.gcs.credentials_file"),
				Prefix:          v.GetString("storage.gcs.prefix"),
			},
		},
		Worker: models.WorkerConfig{
			PoolSize:  v.GetInt("worker.pool_size"),
			QueueSize: v.GetInt("worker.queue_size"),
		},
		Janitor: models.JanitorConfig{
			Schedule: v.GetString("janitor.schedule"),
			MaxAge:   v.GetDuration("janitor.max_age"),
		},
		Log: models.LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, lib.ErrInvalidConfig(err.Error(), nil)
	}

	return &config, nil
}
