package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/stepflow/internal/domain"
)

// Default configuration values.
const (
	defaultHTTPAddr       = ":8080"
	defaultMetricsAddr    = ":8082"
	defaultDefinitionsDir = "definitions"
	defaultTaskTimeoutSec = 60
	defaultRetainFinished = 1000
	defaultBucket         = "stepflow"
	defaultPrefetch       = 5
)

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

// Config — конфигурация сервисов stepflow.
//
// Значения берутся из YAML-файла (опционально), затем переопределяются
// переменными окружения.
type Config struct {
	// HTTPAddr — адрес REST API (env API_PORT задаёт порт).
	HTTPAddr string `yaml:"http_addr" validate:"required"`

	// MetricsAddr — адрес /healthz и /metrics воркера (env WORKER_PORT).
	MetricsAddr string `yaml:"metrics_addr" validate:"required"`

	// DatabaseURL — PostgreSQL (env DB_URL). Пусто — без БД.
	DatabaseURL string `yaml:"database_url"`

	// RabbitMQURL — RabbitMQ (env RABBITMQ_URL). Пусто — без очередей.
	RabbitMQURL string `yaml:"rabbitmq_url"`

	Definitions DefinitionsConfig `yaml:"definitions"`
	Engine      EngineConfig      `yaml:"engine"`
	Worker      WorkerConfig      `yaml:"worker"`

	// Bucket — bucket объектов обработчиков задач (env BUCKET_NAME).
	Bucket string `yaml:"bucket" validate:"required"`

	// HTTPTasks — задачи, выполняемые HTTP-запросом.
	HTTPTasks []HTTPTask `yaml:"http_tasks" validate:"dive"`

	// Schedules — расписания запуска state machines.
	Schedules []domain.Schedule `yaml:"schedules" validate:"dive"`
}

// DefinitionsConfig — источник определений state machines.
type DefinitionsConfig struct {
	// Dir — каталог с YAML/JSON определениями (env STEPFLOW_DEFINITIONS_DIR).
	Dir string `yaml:"dir"`

	// Watch — перечитывать каталог при изменениях (env STEPFLOW_DEFINITIONS_WATCH).
	Watch bool `yaml:"watch"`
}

// EngineConfig — параметры движка выполнения.
type EngineConfig struct {
	// TaskTimeoutSec — таймаут задачи без timeout_sec (env STEPFLOW_TASK_TIMEOUT_SEC).
	TaskTimeoutSec int `yaml:"task_timeout_sec" validate:"gte=1"`

	// MaxBranches — одновременно выполняемые ветки Parallel, 0 — без ограничения
	// (env STEPFLOW_MAX_BRANCHES).
	MaxBranches int `yaml:"max_branches" validate:"gte=0"`

	// RetainFinished — завершённые выполнения в памяти (env STEPFLOW_RETAIN_FINISHED).
	RetainFinished int `yaml:"retain_finished" validate:"gte=1"`
}

// WorkerConfig — параметры воркера.
type WorkerConfig struct {
	// Prefetch — количество одновременно обрабатываемых вызовов (env WORKER_PREFETCH).
	Prefetch int `yaml:"prefetch" validate:"gte=1"`
}

// HTTPTask — задача, выполняемая HTTP-запросом.
type HTTPTask struct {
	ID         string            `yaml:"id" validate:"required"`
	URL        string            `yaml:"url" validate:"required,url"`
	Method     string            `yaml:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Headers    map[string]string `yaml:"headers"`
	TimeoutSec int               `yaml:"timeout_sec" validate:"gte=0"`
}

// TaskTimeout возвращает таймаут задачи по умолчанию.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Engine.TaskTimeoutSec) * time.Second
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		HTTPAddr:    defaultHTTPAddr,
		MetricsAddr: defaultMetricsAddr,
		Definitions: DefinitionsConfig{Dir: defaultDefinitionsDir},
		Engine: EngineConfig{
			TaskTimeoutSec: defaultTaskTimeoutSec,
			RetainFinished: defaultRetainFinished,
		},
		Worker: WorkerConfig{Prefetch: defaultPrefetch},
		Bucket: defaultBucket,
	}
}

// Load читает конфигурацию из файла path (пустой path — только значения по
// умолчанию), применяет переменные окружения и проверяет результат.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv переопределяет значения переменными окружения.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("API_PORT"); ok && v != "" {
		cfg.HTTPAddr = ":" + v
	}
	if v, ok := lookup("WORKER_PORT"); ok && v != "" {
		cfg.MetricsAddr = ":" + v
	}
	if v, ok := lookup("DB_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := lookup("RABBITMQ_URL"); ok {
		cfg.RabbitMQURL = v
	}
	if v, ok := lookup("STEPFLOW_DEFINITIONS_DIR"); ok {
		cfg.Definitions.Dir = v
	}
	if v, ok := lookup("BUCKET_NAME"); ok && v != "" {
		cfg.Bucket = v
	}

	if v, ok := lookup("STEPFLOW_DEFINITIONS_WATCH"); ok && v != "" {
		watch, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: STEPFLOW_DEFINITIONS_WATCH: %v", ErrInvalidConfig, err)
		}
		cfg.Definitions.Watch = watch
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"STEPFLOW_TASK_TIMEOUT_SEC", &cfg.Engine.TaskTimeoutSec},
		{"STEPFLOW_MAX_BRANCHES", &cfg.Engine.MaxBranches},
		{"STEPFLOW_RETAIN_FINISHED", &cfg.Engine.RetainFinished},
		{"WORKER_PREFETCH", &cfg.Worker.Prefetch},
	}
	for _, e := range ints {
		v, ok := lookup(e.name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, e.name, err)
		}
		*e.dst = n
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate проверяет конфигурацию.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed on %q", ErrInvalidConfig, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	seen := make(map[string]bool)
	for _, t := range c.HTTPTasks {
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate http task %s", ErrInvalidConfig, t.ID)
		}
		seen[t.ID] = true
	}

	names := make(map[string]bool)
	for _, s := range c.Schedules {
		if names[s.Name] {
			return fmt.Errorf("%w: duplicate schedule %s", ErrInvalidConfig, s.Name)
		}
		names[s.Name] = true
	}
	return nil
}
