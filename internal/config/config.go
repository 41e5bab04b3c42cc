// Пакет config — загрузка и валидация конфигурации Data Portal
// из переменных окружения (префикс DP_).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранения наборов данных.
const (
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// Config содержит все параметры конфигурации Data Portal.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Путь к TLS-сертификату; пустой — HTTP без TLS
	TLSCert string
	// Путь к приватному ключу TLS
	TLSKey string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// --- Хранилище файлов ---

	// Директория файлов наборов
	DataDir string
	// Директория WAL
	WALDir string
	// Минимальный свободный объём диска для readiness (байт)
	MinFreeDisk int64

	// --- Хранилище наборов ---

	// Бэкенд: postgres или badger
	StorageBackend string
	DBHost         string
	DBPort         int
	DBName         string
	DBUser         string
	DBPassword     string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Директория Badger (для бэкенда badger)
	BadgerDir string

	// --- Ограничения загрузки ---

	// Максимальный размер одного файла (байт)
	MaxFileSize int64
	// Максимальное количество файлов в одном запросе
	MaxFilesPerUpload int

	// --- Предпросмотр CSV ---

	PreviewDefaultRows int
	PreviewMaxRows     int
	PreviewCacheSize   int
	PreviewCacheTTL    time.Duration

	// --- JWT ---

	// URL JWKS endpoint
	JWKSUrl string
	// Путь к CA-сертификату для JWKS endpoint (опционально)
	JWKSCACert string
	// Допустимое расхождение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration

	// --- topologymetrics ---

	DephealthCheckInterval time.Duration
	DephealthGroup         string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:funlen,cyclop // линейный разбор переменных
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("DP_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("DP_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DP_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DP_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DP_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// DP_TLS_CERT и DP_TLS_KEY задаются только вместе
	cfg.TLSCert = getEnvDefault("DP_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("DP_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("DP_TLS_CERT и DP_TLS_KEY должны быть заданы вместе")
	}

	cfg.ShutdownTimeout, err = getEnvDuration("DP_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DP_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Хранилище файлов ---

	cfg.DataDir, err = getEnvRequired("DP_DATA_DIR")
	if err != nil {
		return nil, err
	}

	cfg.WALDir, err = getEnvRequired("DP_WAL_DIR")
	if err != nil {
		return nil, err
	}

	cfg.MinFreeDisk, err = getEnvInt64("DP_MIN_FREE_DISK", 1<<30)
	if err != nil {
		return nil, fmt.Errorf("DP_MIN_FREE_DISK: %w", err)
	}

	// --- Хранилище наборов ---

	cfg.StorageBackend = strings.ToLower(getEnvDefault("DP_STORAGE_BACKEND", BackendPostgres))
	switch cfg.StorageBackend {
	case BackendPostgres:
		if err := loadPostgres(cfg); err != nil {
			return nil, err
		}
	case BackendBadger:
		cfg.BadgerDir, err = getEnvRequired("DP_BADGER_DIR")
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("DP_STORAGE_BACKEND: недопустимое значение %q, допустимые: postgres, badger", cfg.StorageBackend)
	}

	// --- Ограничения загрузки ---

	cfg.MaxFileSize, err = getEnvInt64("DP_MAX_FILE_SIZE", 50*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("DP_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("DP_MAX_FILE_SIZE: значение должно быть больше 0")
	}

	cfg.MaxFilesPerUpload, err = getEnvInt("DP_MAX_FILES_PER_UPLOAD", 10)
	if err != nil {
		return nil, fmt.Errorf("DP_MAX_FILES_PER_UPLOAD: %w", err)
	}
	if cfg.MaxFilesPerUpload < 1 {
		return nil, fmt.Errorf("DP_MAX_FILES_PER_UPLOAD: значение должно быть больше 0")
	}

	// --- Предпросмотр CSV ---

	cfg.PreviewDefaultRows, err = getEnvInt("DP_PREVIEW_DEFAULT_ROWS", 10)
	if err != nil {
		return nil, fmt.Errorf("DP_PREVIEW_DEFAULT_ROWS: %w", err)
	}

	cfg.PreviewMaxRows, err = getEnvInt("DP_PREVIEW_MAX_ROWS", 100)
	if err != nil {
		return nil, fmt.Errorf("DP_PREVIEW_MAX_ROWS: %w", err)
	}
	if cfg.PreviewDefaultRows < 1 || cfg.PreviewDefaultRows > cfg.PreviewMaxRows {
		return nil, fmt.Errorf("DP_PREVIEW_DEFAULT_ROWS: значение %d вне диапазона 1-%d", cfg.PreviewDefaultRows, cfg.PreviewMaxRows)
	}

	cfg.PreviewCacheSize, err = getEnvInt("DP_PREVIEW_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("DP_PREVIEW_CACHE_SIZE: %w", err)
	}

	cfg.PreviewCacheTTL, err = getEnvDuration("DP_PREVIEW_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DP_PREVIEW_CACHE_TTL: %w", err)
	}

	// --- JWT ---

	cfg.JWKSUrl, err = getEnvRequired("DP_JWKS_URL")
	if err != nil {
		return nil, err
	}

	cfg.JWKSCACert = getEnvDefault("DP_JWKS_CA_CERT", "")

	cfg.JWTLeeway, err = getEnvDuration("DP_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DP_JWT_LEEWAY: %w", err)
	}

	cfg.JWKSRefreshInterval, err = getEnvDuration("DP_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DP_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthCheckInterval, err = getEnvDuration("DP_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DP_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.DephealthGroup = getEnvDefault("DP_DEPHEALTH_GROUP", "data-portal")

	return cfg, nil
}

// loadPostgres читает параметры подключения к PostgreSQL.
func loadPostgres(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("DP_DB_HOST")
	if err != nil {
		return err
	}

	cfg.DBPort, err = getEnvInt("DP_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("DP_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("DP_DB_NAME")
	if err != nil {
		return err
	}

	cfg.DBUser, err = getEnvRequired("DP_DB_USER")
	if err != nil {
		return err
	}

	cfg.DBPassword, err = getEnvRequired("DP_DB_PASSWORD")
	if err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("DP_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("DP_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL (для topologymetrics и golang-migrate).
func (c *Config) DatabaseURL(scheme string) string {
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		scheme, c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// TLSEnabled — сервер принимает HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 из переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
