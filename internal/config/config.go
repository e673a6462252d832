package config

import (
	"fmt"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Mongo     MongoConfig
	Cache     CacheConfig
	Storage   StorageConfig
	Migration MigrationConfig
	Drive     DriveConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	LogLevel       string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the key/value connection string understood by lib/pq.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type MongoConfig struct {
	URI      string
	Database string
}

type CacheConfig struct {
	Enabled             bool
	RedisURL            string
	RedisHost           string
	RedisPort           string
	RedisPassword       string
	RedisDB             int
	AnalyticsTTLSeconds int
	ReportTTLSeconds    int
}

type StorageConfig struct {
	Enabled   bool
	Driver    string // minio or local
	LocalDir  string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
}

// DriveConfig enables importing product sheets from a Google Drive folder
// when CredentialsJSON holds a service-account key.
type DriveConfig struct {
	CredentialsJSON string
	FolderID        string
}

// MigrationConfig controls the bill migration engine and its run guard.
type MigrationConfig struct {
	StoreBackend   string // memory, postgres or mongo
	TotalTolerance float64
	GuardBackend   string // local or redis
	LockKey        string
	LockTTLSeconds int
}

var (
	once     sync.Once
	instance *Config
)

func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		setDefaults()

		// Read from environment variables
		viper.AutomaticEnv()

		instance = build()
	})

	return instance
}

func setDefaults() {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_MODE", "debug")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("SERVER_READ_TIMEOUT", 15)
	viper.SetDefault("SERVER_WRITE_TIMEOUT", 0)
	viper.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "postgres")
	viper.SetDefault("DB_PASSWORD", "postgres")
	viper.SetDefault("DB_NAME", "shopledger")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	viper.SetDefault("MONGO_DATABASE", "shopledger")
	viper.SetDefault("CACHE_ENABLED", false)
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("REDIS_HOST", "127.0.0.1")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("CACHE_ANALYTICS_TTL_SECONDS", 60)
	viper.SetDefault("CACHE_REPORT_TTL_SECONDS", 86400)
	viper.SetDefault("STORAGE_ENABLED", false)
	viper.SetDefault("STORAGE_DRIVER", "minio")
	viper.SetDefault("STORAGE_LOCAL_DIR", "data/archive")
	viper.SetDefault("STORAGE_ENDPOINT", "localhost:9000")
	viper.SetDefault("STORAGE_ACCESS_KEY", "")
	viper.SetDefault("STORAGE_SECRET_KEY", "")
	viper.SetDefault("STORAGE_BUCKET", "shopledger-reports")
	viper.SetDefault("STORAGE_REGION", "us-east-1")
	viper.SetDefault("STORAGE_USE_SSL", false)
	viper.SetDefault("STORAGE_PREFIX", "reports")
	viper.SetDefault("MIGRATION_STORE_BACKEND", "postgres")
	viper.SetDefault("MIGRATION_TOTAL_TOLERANCE", 0.01)
	viper.SetDefault("MIGRATION_GUARD_BACKEND", "local")
	viper.SetDefault("MIGRATION_LOCK_KEY", "shopledger:migration:lock")
	viper.SetDefault("MIGRATION_LOCK_TTL_SECONDS", 30)
	viper.SetDefault("GOOGLE_DRIVE_CREDENTIALS_JSON", "")
	viper.SetDefault("GOOGLE_DRIVE_FOLDER_ID", "")
}

func build() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           viper.GetString("SERVER_PORT"),
			Mode:           viper.GetString("SERVER_MODE"),
			LogLevel:       viper.GetString("LOG_LEVEL"),
			ReadTimeout:    viper.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   viper.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: viper.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			DBName:   viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		Mongo: MongoConfig{
			URI:      viper.GetString("MONGO_URI"),
			Database: viper.GetString("MONGO_DATABASE"),
		},
		Cache: CacheConfig{
			Enabled:             viper.GetBool("CACHE_ENABLED"),
			RedisURL:            viper.GetString("REDIS_URL"),
			RedisHost:           viper.GetString("REDIS_HOST"),
			RedisPort:           viper.GetString("REDIS_PORT"),
			RedisPassword:       viper.GetString("REDIS_PASSWORD"),
			RedisDB:             viper.GetInt("REDIS_DB"),
			AnalyticsTTLSeconds: viper.GetInt("CACHE_ANALYTICS_TTL_SECONDS"),
			ReportTTLSeconds:    viper.GetInt("CACHE_REPORT_TTL_SECONDS"),
		},
		Storage: StorageConfig{
			Enabled:   viper.GetBool("STORAGE_ENABLED"),
			Driver:    viper.GetString("STORAGE_DRIVER"),
			LocalDir:  viper.GetString("STORAGE_LOCAL_DIR"),
			Endpoint:  viper.GetString("STORAGE_ENDPOINT"),
			AccessKey: viper.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: viper.GetString("STORAGE_SECRET_KEY"),
			Bucket:    viper.GetString("STORAGE_BUCKET"),
			Region:    viper.GetString("STORAGE_REGION"),
			UseSSL:    viper.GetBool("STORAGE_USE_SSL"),
			Prefix:    viper.GetString("STORAGE_PREFIX"),
		},
		Migration: MigrationConfig{
			StoreBackend:   viper.GetString("MIGRATION_STORE_BACKEND"),
			TotalTolerance: viper.GetFloat64("MIGRATION_TOTAL_TOLERANCE"),
			GuardBackend:   viper.GetString("MIGRATION_GUARD_BACKEND"),
			LockKey:        viper.GetString("MIGRATION_LOCK_KEY"),
			LockTTLSeconds: viper.GetInt("MIGRATION_LOCK_TTL_SECONDS"),
		},
		Drive: DriveConfig{
			CredentialsJSON: viper.GetString("GOOGLE_DRIVE_CREDENTIALS_JSON"),
			FolderID:        viper.GetString("GOOGLE_DRIVE_FOLDER_ID"),
		},
	}
}
