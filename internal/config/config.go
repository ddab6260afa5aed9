package config

import (
	"fmt"
	"gopkg.in/yaml.v3"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Version   string    `yaml:"version" env-default:"v1"`
	Gateway   Gateway   `yaml:"gateway"`
	Auth      Auth      `yaml:"auth"`
	Cache     Cache     `yaml:"cache"`
	Upstream  Upstream  `yaml:"upstream"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Routes    []Route   `yaml:"routes"`
	Includes  []string  `yaml:"includes"`
}

type Gateway struct {
	Address            string `yaml:"address"              env:"GATEWAY_ADDR"              env-default:":"`
	ReadTimeoutSec     int    `yaml:"read_timeout_sec"     env:"GATEWAY_READ_TIMEOUT"      env-default:"15"`
	WriteTimeoutSec    int    `yaml:"write_timeout_sec"    env:"GATEWAY_WRITE_TIMEOUT"     env-default:"30"`
	IdleTimeoutSec     int    `yaml:"idle_timeout_sec"     env:"GATEWAY_IDLE_TIMEOUT"      env-default:"60"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec" env:"GATEWAY_SHUTDOWN_TIMEOUT"  env-default:"15"`
}

type Auth struct {
	Header string `yaml:"header" env:"AUTH_HEADER" env-default:"x-proxy-key"`
	Secret string `yaml:"secret" env:"AUTH_SECRET" env-default:""`
}

type Cache struct {
	Driver       string `yaml:"driver"        env:"CACHE_DRIVER"        env-default:"memory"`
	Capacity     int    `yaml:"capacity"      env:"CACHE_CAPACITY"      env-default:"256"`
	TTL          string `yaml:"ttl"           env:"CACHE_TTL"           env-default:"300s"`
	SingleFlight bool   `yaml:"single_flight" env:"CACHE_SINGLE_FLIGHT" env-default:"false"`
	Host         string `yaml:"host"          env:"CACHE_HOST"          env-default:"localhost"`
	Port         int    `yaml:"port"          env:"CACHE_PORT"          env-default:"6379"`
	Db           int    `yaml:"db"            env:"CACHE_DB"            env-default:"0"`
	Pass         string `yaml:"password"      env:"CACHE_PASSWORD"      env-default:""`
}

type Upstream struct {
	Timeout      string `yaml:"timeout"       env:"UPSTREAM_TIMEOUT"       env-default:"10s"`
	Attempts     int    `yaml:"attempts"      env:"UPSTREAM_ATTEMPTS"      env-default:"3"`
	BackoffBase  string `yaml:"backoff_base"  env:"UPSTREAM_BACKOFF_BASE"  env-default:"200ms"`
	Jitter       string `yaml:"jitter"        env:"UPSTREAM_JITTER"        env-default:"150ms"`
	RetryPolicy  string `yaml:"retry_policy"  env:"UPSTREAM_RETRY_POLICY"  env-default:"all"`
	MaxRedirects int    `yaml:"max_redirects" env:"UPSTREAM_MAX_REDIRECTS" env-default:"2"`
	UserAgent    string `yaml:"user_agent"    env:"UPSTREAM_USER_AGENT"    env-default:"relayd/1.0"`
}

type RateLimit struct {
	Max       int `yaml:"max"        env:"RATE_LIMIT_MAX"    env-default:"0"`
	WindowSec int `yaml:"window_sec" env:"RATE_LIMIT_WINDOW" env-default:"60"`
}

// Route maps one literal mount prefix to one upstream base URL.
// Declaration order matters: the first matching prefix wins.
type Route struct {
	Mount    string `yaml:"mount"`
	Upstream string `yaml:"upstream"`
}

type FinalConfig struct {
	Gateway   Gateway
	Auth      Auth
	Cache     Cache
	Upstream  Upstream
	RateLimit RateLimit
	Routes    []Route
}

// TTLDuration parses cache.ttl; bare integers are treated as seconds.
// The same value drives cache expiry and the advertised cache-control max-age.
func (c Cache) TTLDuration() time.Duration {
	return parseDuration(c.TTL, 300*time.Second)
}

func (u Upstream) TimeoutDuration() time.Duration {
	return parseDuration(u.Timeout, 10*time.Second)
}

func (u Upstream) BackoffBaseDuration() time.Duration {
	return parseDuration(u.BackoffBase, 200*time.Millisecond)
}

func (u Upstream) JitterDuration() time.Duration {
	return parseDuration(u.Jitter, 150*time.Millisecond)
}

func parseDuration(val string, def time.Duration) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return def
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func Load(pathOrContent string) (*Config, error) {
	var cfg Config

	// Если указанный путь существует как файл — читаем его
	if fi, err := os.Stat(pathOrContent); err == nil && !fi.IsDir() {
		if err := cleanenv.ReadConfig(pathOrContent, &cfg); err != nil {
			return nil, fmt.Errorf("read config %q: %w", pathOrContent, err)
		}
	} else {
		// иначе считаем, что передана сама YAML-конфигурация в строке
		maybeContent := pathOrContent
		if strings.Contains(maybeContent, "\n") || strings.Contains(maybeContent, "gateway:") || strings.Contains(maybeContent, "routes:") {
			if err := yaml.Unmarshal([]byte(maybeContent), &cfg); err != nil {
				return nil, fmt.Errorf("parse config content: %w", err)
			}
		} else {
			abs := pathOrContent
			if !filepath.IsAbs(abs) {
				abs = filepath.Join(".", abs)
			}
			if err := cleanenv.ReadConfig(abs, &cfg); err != nil {
				return nil, fmt.Errorf("read config %q: %w", pathOrContent, err)
			}
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	return &cfg, nil
}

func Build(configPath string) (*FinalConfig, error) {
	raw, err := Load(configPath)
	if err != nil {
		return nil, err
	}

	// исходно — то, что есть в самом файле
	routes := append([]Route{}, raw.Routes...)

	// добавляем маршруты из includes, если указаны
	if len(raw.Includes) > 0 && raw.Version != "v1" {
		incRoutes, err := loadIncludes(configPath, raw.Includes)
		if err != nil {
			return nil, err
		}
		routes = append(routes, incRoutes...)
	}

	if err := validateRoutes(routes); err != nil {
		return nil, err
	}

	return &FinalConfig{
		Gateway:   raw.Gateway,
		Auth:      raw.Auth,
		Cache:     raw.Cache,
		Upstream:  raw.Upstream,
		RateLimit: raw.RateLimit,
		Routes:    routes,
	}, nil
}

func validateRoutes(routes []Route) error {
	for _, r := range routes {
		if !strings.HasPrefix(r.Mount, "/") || r.Mount == "/" {
			return fmt.Errorf("route mount %q must be a non-root path prefix", r.Mount)
		}
		if !strings.HasPrefix(r.Upstream, "http://") && !strings.HasPrefix(r.Upstream, "https://") {
			return fmt.Errorf("route %s: upstream %q must be an absolute http(s) URL", r.Mount, r.Upstream)
		}
	}
	return nil
}

func loadIncludes(mainPath string, patterns []string) ([]Route, error) {
	baseDir := filepath.Dir(mainPath)

	env := os.Getenv("RELAYD_ENV")
	if env == "" {
		env = "dev"
	}

	var allRoutes []Route

	for _, pat := range patterns {
		// подставляем {env}
		pat = strings.ReplaceAll(pat, "{env}", env)

		glob := pat
		if !filepath.IsAbs(glob) {
			glob = filepath.Join(baseDir, glob)
		}

		matches, err := filepath.Glob(glob)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pat, err)
		}

		for _, file := range matches {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("read included %q: %w", file, err)
			}

			var partial struct {
				Routes []Route `yaml:"routes"`
			}

			if err := yaml.Unmarshal(data, &partial); err != nil {
				return nil, fmt.Errorf("parse included %q: %w", file, err)
			}

			if len(partial.Routes) > 0 {
				allRoutes = append(allRoutes, partial.Routes...)
			}
		}
	}

	return allRoutes, nil
}

// Pretty возвращает YAML-представление FinalConfig для простого логирования.
func (fc *FinalConfig) Pretty() (string, error) {
	b, err := yaml.Marshal(fc)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(b), nil
}
