package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "taskdesk.yml"

// Config models taskdesk.yml.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		DataDir   string `yaml:"data_dir"`
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
		TokenTTL  string `yaml:"token_ttl"`
		// Registration enables the public self-registration endpoint.
		Registration bool `yaml:"registration"`
	} `yaml:"server"`
	BootstrapAdmin struct {
		Username   string `yaml:"username"`
		Password   string `yaml:"password"`
		Department string `yaml:"department"`
	} `yaml:"bootstrap_admin"`
	Client struct {
		BaseURL        string `yaml:"base_url"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"client"`
	Departments []string `yaml:"departments"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if _, err := parseDuration("server.token_ttl", c.Server.TokenTTL); err != nil {
		return err
	}
	if _, err := parseDuration("client.request_timeout", c.Client.RequestTimeout); err != nil {
		return err
	}
	if c.BootstrapAdmin.Username != "" && c.BootstrapAdmin.Password == "" {
		return fmt.Errorf("config.bootstrap_admin.password is required when username is set")
	}
	seen := map[string]bool{}
	for _, d := range c.Departments {
		d = strings.TrimSpace(d)
		if d == "" {
			return fmt.Errorf("config.departments contains an empty name")
		}
		if seen[d] {
			return fmt.Errorf("config.departments lists %s twice", d)
		}
		seen[d] = true
	}
	return nil
}

// TokenTTL returns server.token_ttl, defaulting to 24h.
func (c *Config) TokenTTL() time.Duration {
	d, _ := parseDuration("server.token_ttl", c.Server.TokenTTL)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// RequestTimeout returns client.request_timeout, defaulting to 10s.
func (c *Config) RequestTimeout() time.Duration {
	d, _ := parseDuration("client.request_timeout", c.Client.RequestTimeout)
	if d == 0 {
		return 10 * time.Second
	}
	return d
}

// KnownDepartment reports whether dep is allowed. An empty department list
// allows any name.
func (c *Config) KnownDepartment(dep string) bool {
	if len(c.Departments) == 0 {
		return true
	}
	for _, d := range c.Departments {
		if strings.TrimSpace(d) == dep {
			return true
		}
	}
	return false
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config.%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config.%s must not be negative", field)
	}
	return d, nil
}

// Path returns the config file path inside dir.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, FileName)
}

// Load reads and validates config from dir.
func Load(dir string) (*Config, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with taskdesk config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(dir string) (*Config, error) {
	data, err := os.ReadFile(Path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api
  data_dir: ./data
  issuer: taskdesk
  token_ttl: 24h
  registration: true

bootstrap_admin:
  username: admin
  password: admin123
  department: Administration

client:
  base_url: http://127.0.0.1:8080/api
  request_timeout: 10s

departments: []
`
