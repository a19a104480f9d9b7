package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the server and bridge configuration
type Config struct {
	// Server settings
	Server struct {
		Name    string `yaml:"name" toml:"name" json:"name" env:"IRCD_SERVER_NAME"`
		Network string `yaml:"network" toml:"network" json:"network" env:"IRCD_NETWORK"`
		Host    string `yaml:"host" toml:"host" json:"host" env:"IRCD_HOST"`
		Port    int    `yaml:"port" toml:"port" json:"port" env:"IRCD_PORT"`
	} `yaml:"server" toml:"server" json:"server"`

	// Admin/metrics endpoint settings
	Admin struct {
		Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled" env:"IRCD_ADMIN_ENABLED"`
		Host    string `yaml:"host" toml:"host" json:"host" env:"IRCD_ADMIN_HOST"`
		Port    int    `yaml:"port" toml:"port" json:"port" env:"IRCD_ADMIN_PORT"`
	} `yaml:"admin" toml:"admin" json:"admin"`

	// Bridge settings
	Bridge struct {
		Nick       string `yaml:"nick" toml:"nick" json:"nick" env:"BRIDGE_NICK"`
		Host       string `yaml:"host" toml:"host" json:"host" env:"BRIDGE_HOST"`
		Port       int    `yaml:"port" toml:"port" json:"port" env:"BRIDGE_PORT"`
		APIHost    string `yaml:"api_host" toml:"api_host" json:"api_host" env:"BRIDGE_API_HOST"`
		APIPort    int    `yaml:"api_port" toml:"api_port" json:"api_port" env:"BRIDGE_API_PORT"`
		WebhookURL string `yaml:"webhook_url" toml:"webhook_url" json:"webhook_url" env:"BRIDGE_WEBHOOK_URL"`
	} `yaml:"bridge" toml:"bridge" json:"bridge"`

	// Message encryption settings
	Secure struct {
		// Key is the standard-base64 encoded 256-bit message key.
		Key   string `yaml:"key" toml:"key" json:"key" env:"IRC_SECURE_KEY"`
		KeyID string `yaml:"key_id" toml:"key_id" json:"key_id" env:"IRC_SECURE_KEY_ID"`
	} `yaml:"secure" toml:"secure" json:"secure"`

	// Storage settings
	Store struct {
		Path string `yaml:"path" toml:"path" json:"path" env:"IRCD_STORE_PATH"`
	} `yaml:"store" toml:"store" json:"store"`

	// Configuration source for rehashing
	Source string
}

// Load loads configuration from a file or URL
func Load(source string) (*Config, error) {
	cfg := &Config{
		Source: source,
	}
	cfg.setDefaults()

	// Load configuration from file or URL
	err := cfg.loadFromSource(source)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadDefault builds a configuration from defaults and environment variables
// only, for deployments that run without a config file.
func LoadDefault() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	applyEnvOverrides(cfg)
	return cfg
}

// Reload reloads the configuration from the original source or a new source
func (c *Config) Reload(newSource string) error {
	if newSource != "" {
		c.Source = newSource
	}

	newCfg := &Config{}
	newCfg.setDefaults()

	err := newCfg.loadFromSource(c.Source)
	if err != nil {
		return err
	}

	applyEnvOverrides(newCfg)

	*c = *newCfg
	return nil
}

func (c *Config) setDefaults() {
	c.Server.Name = "irc.communitychat.local"
	c.Server.Network = "CommunityChat"
	c.Server.Host = "0.0.0.0"
	c.Server.Port = 6667
	c.Admin.Host = "127.0.0.1"
	c.Admin.Port = 9090
	c.Bridge.Nick = "webapp"
	c.Bridge.Host = "127.0.0.1"
	c.Bridge.Port = 6667
	c.Bridge.APIHost = "127.0.0.1"
	c.Bridge.APIPort = 8081
	c.Bridge.WebhookURL = "http://localhost:3000/api/socketio"
	c.Secure.KeyID = "default"
	c.Store.Path = "ircapp.db"
}

// loadFromSource loads configuration from a file or URL
func (c *Config) loadFromSource(source string) error {
	var data []byte
	var err error

	// Check if the source is a URL
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := http.Get(source)
		if err != nil {
			return fmt.Errorf("failed to load config from URL: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to load config from URL, status: %s", resp.Status)
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read config from URL: %v", err)
		}
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("failed to read config file: %v", err)
		}
	}

	// Determine the format based on file extension
	switch {
	case strings.HasSuffix(source, ".yaml") || strings.HasSuffix(source, ".yml"):
		err = yaml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".toml"):
		err = toml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".json"):
		err = json.Unmarshal(data, c)
	default:
		// Default to YAML
		err = yaml.Unmarshal(data, c)
	}

	if err != nil {
		return fmt.Errorf("failed to parse config: %v", err)
	}

	c.Source = source
	return nil
}

// RequireSecureKey returns the message key or an error when it is absent.
// Callers that relay encrypted traffic treat the error as fatal.
func (c *Config) RequireSecureKey() (string, error) {
	if c.Secure.Key == "" {
		return "", fmt.Errorf("IRC_SECURE_KEY not set: message encryption key is required")
	}
	return c.Secure.Key, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem())
}

// applyEnvOverridesRecursive recursively applies environment variable overrides
func applyEnvOverridesRecursive(v reflect.Value) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)

		// Skip unexported fields
		if field.PkgPath != "" {
			continue
		}

		envTag := field.Tag.Get("env")

		if envTag != "" {
			if envValue, exists := os.LookupEnv(envTag); exists {
				setFieldFromEnv(fieldValue, envValue)
			}
		} else if field.Type.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(fieldValue)
		}
	}
}

// setFieldFromEnv sets a field's value from an environment variable
func setFieldFromEnv(field reflect.Value, envValue string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v, err := parseInt(envValue); err == nil {
			field.SetInt(v)
		}
	case reflect.Bool:
		field.SetBool(parseBool(envValue))
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(envValue, ",")
			slice := reflect.MakeSlice(field.Type(), len(values), len(values))
			for i, v := range values {
				slice.Index(i).SetString(strings.TrimSpace(v))
			}
			field.Set(slice)
		}
	}
}

func parseInt(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "y"
}

// GetListenAddress returns the formatted listen address for the server
func (c *Config) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetAdminListenAddress returns the formatted listen address for the admin endpoint
func (c *Config) GetAdminListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.Port)
}

// GetBridgeServerAddress returns the host:port the bridge dials
func (c *Config) GetBridgeServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Bridge.Host, c.Bridge.Port)
}

// GetBridgeAPIListenAddress returns the listen address for the bridge API
func (c *Config) GetBridgeAPIListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Bridge.APIHost, c.Bridge.APIPort)
}
