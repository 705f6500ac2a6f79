// Package config loads and validates the broker's configuration: a YAML
// document of recognized options with an environment-variable override
// pass.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mandersen/brokerd/internal/brokererr"
)

// Ports holds the broker's four listener ports.
type Ports struct {
	TCP int `yaml:"tcp"`
	TLS int `yaml:"tls"`
	WS  int `yaml:"ws"`
	WSS int `yaml:"wss"`
}

// SSL holds TLS key/cert paths.
type SSL struct {
	Key  string `yaml:"key"`
	Cert string `yaml:"cert"`
}

// Message holds payload size limits.
type Message struct {
	Payload struct {
		MaxLength int `yaml:"maxLength"`
	} `yaml:"payload"`
}

// Connection holds accept/heartbeat tuning.
type Connection struct {
	MaxConcurrent                int `yaml:"max.concurrent"`
	HeartbeatRetryTimeoutMs      int `yaml:"heartbeatRetryTimeout"`
	HeartbeatDeregisterTimeoutMs int `yaml:"heartbeatDeregisterTimeout"`
}

// RequestResponse holds REQUEST timeout bounds.
type RequestResponse struct {
	Timeout struct {
		DefaultMs int `yaml:"default"`
		MaxMs     int `yaml:"max"`
	} `yaml:"timeout"`
}

// RateLimit holds the router's token-bucket bounds.
type RateLimit struct {
	GlobalPerService int            `yaml:"global.per.service"`
	GlobalPerTopic   int            `yaml:"global.per.topic"`
	TopicPerService  map[string]int `yaml:"topic.per.service"`
}

// AuthFailureLockout is reserved for a future auth layer; it is parsed
// but not yet enforced anywhere.
type AuthFailureLockout struct {
	Threshold int `yaml:"threshold"`
	DurationMs int `yaml:"duration"`
}

// Config holds every recognized configuration key.
type Config struct {
	Host          string `yaml:"host"`
	Ports         Ports  `yaml:"ports"`
	SSL           *SSL   `yaml:"ssl"`
	AllowUnsecure bool   `yaml:"allowUnsecure"`

	MessagePayload Message `yaml:"message"`

	ConnectionConf Connection `yaml:"connection"`

	RequestResponseConf RequestResponse `yaml:"request.response"`

	MaxOutstandingRequests int `yaml:"max.outstanding.requests"`

	RateLimitConf RateLimit `yaml:"rate.limit"`

	AuthFailureLockoutConf AuthFailureLockout `yaml:"auth.failure.lockout"`

	MonitoringIntervalMs int `yaml:"monitoring.interval"`

	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"`
}

// Default returns a Config populated with sane baseline values, used
// before YAML/env overrides apply.
func Default() *Config {
	c := &Config{
		Host: "0.0.0.0",
		Ports: Ports{
			TCP: 4444,
			WS:  4445,
		},
		AllowUnsecure: true,
		LogLevel:      "info",
	}
	c.MessagePayload.Payload.MaxLength = 65536
	c.ConnectionConf.MaxConcurrent = 10000
	c.ConnectionConf.HeartbeatRetryTimeoutMs = 15000
	c.ConnectionConf.HeartbeatDeregisterTimeoutMs = 30000
	c.RequestResponseConf.Timeout.DefaultMs = 5000
	c.RequestResponseConf.Timeout.MaxMs = 60000
	c.MaxOutstandingRequests = 1000
	c.RateLimitConf.GlobalPerService = 1000
	c.RateLimitConf.GlobalPerTopic = 1000
	c.MonitoringIntervalMs = 1000
	return c
}

// Load reads path as YAML, applies environment-variable overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.InternalError, "failed to read config file", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, brokererr.Wrap(brokererr.InternalError, "failed to parse config yaml", err)
	}
	applyEnvOverrides(c, "BROKER", reflect.ValueOf(c).Elem())
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the config's internal bounds: the request timeout max
// must exceed its default, and size limits must be positive.
func (c *Config) Validate() error {
	if c.RequestResponseConf.Timeout.MaxMs <= c.RequestResponseConf.Timeout.DefaultMs {
		return brokererr.New(brokererr.InternalError, "request.response.timeout.max must exceed .default")
	}
	if c.MessagePayload.Payload.MaxLength <= 0 {
		return brokererr.New(brokererr.InternalError, "message.payload.maxLength must be positive")
	}
	if !c.AllowUnsecure && c.Ports.TCP != 0 && c.Ports.WS != 0 {
		return brokererr.New(brokererr.InternalError, "insecure listeners configured but allowUnsecure is false")
	}
	if (c.Ports.TLS != 0 || c.Ports.WSS != 0) && c.SSL == nil {
		return brokererr.New(brokererr.InternalError, "tls/wss ports configured without ssl.key/ssl.cert")
	}
	return nil
}

// applyEnvOverrides walks v by reflection, overwriting any field whose
// derived environment variable (e.g. BROKER_MESSAGE_PAYLOAD_MAXLENGTH
// for message.payload.maxLength) is set and non-empty.
func applyEnvOverrides(c *Config, prefix string, v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}
		envKey := prefix + "_" + strings.ToUpper(fieldEnvName(field))
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				continue
			}
			applyEnvOverrides(c, envKey, fv.Elem())
			continue
		}
		if fv.Kind() == reflect.Struct {
			applyEnvOverrides(c, envKey, fv)
			continue
		}
		raw, ok := os.LookupEnv(envKey)
		if !ok || raw == "" {
			continue
		}
		setFromEnv(fv, raw)
	}
}

func fieldEnvName(field reflect.StructField) string {
	tag := field.Tag.Get("yaml")
	name := strings.SplitN(tag, ",", 2)[0]
	if name == "" || name == "-" {
		name = field.Name
	}
	name = strings.ReplaceAll(name, ".", "_")
	return name
}

func setFromEnv(fv reflect.Value, raw string) {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err == nil {
			fv.SetBool(b)
		}
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			fv.SetInt(n)
		}
	default:
		fmt.Fprintf(os.Stderr, "config: unsupported override kind %s for value %q\n", fv.Kind(), raw)
	}
}
