package metricpipe

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andrewpike/metricpipe/pkg/handler"
	"github.com/andrewpike/metricpipe/pkg/handler/httpjson"
	"github.com/andrewpike/metricpipe/pkg/handler/statsd"
)

// Duration round-trips a time.Duration through YAML as a Go duration
// string ("30s", "5m"), the common ecosystem pattern for config
// structs that embed time.Duration fields.
type Duration struct{ time.Duration }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("metricpipe: invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// BosunConfig configures the Bosun/OpenTSDB backend.
type BosunConfig struct {
	BaseURI                string `yaml:"baseURI"`
	EnableExternalCounters bool   `yaml:"enableExternalCounters"`
}

// DataDogConfig configures the DataDog HTTP backend.
type DataDogConfig struct {
	BaseURI       string `yaml:"baseURI"`
	APIKey        string `yaml:"apiKey"`
	AppKey        string `yaml:"appKey"`
	GlobalHostTag string `yaml:"globalHostTag"`
}

// SignalFxConfig configures the SignalFx HTTP backend.
type SignalFxConfig struct {
	BaseURI     string `yaml:"baseURI"`
	AccessToken string `yaml:"accessToken"`
}

// StatsDConfig configures the StatsD UDP backend. Addr is host:port;
// empty leaves the handler a no-op.
type StatsDConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the YAML-decodable top-level configuration, covering
// every field in the shipping engine's configuration table.
type Config struct {
	SnapshotInterval Duration          `yaml:"snapshotInterval"`
	FlushInterval    Duration          `yaml:"flushInterval"`
	MaxRetries       int               `yaml:"maxRetries"`
	RetryDelay       Duration          `yaml:"retryDelay"`
	MaxPayloadSize   int               `yaml:"maxPayloadSize"`
	MaxPayloadCount  int               `yaml:"maxPayloadCount"`
	DefaultTags      map[string]string `yaml:"defaultTags"`

	Bosun    *BosunConfig    `yaml:"bosun"`
	DataDog  *DataDogConfig  `yaml:"datadog"`
	SignalFx *SignalFxConfig `yaml:"signalfx"`
	StatsD   *StatsDConfig   `yaml:"statsd"`
}

// LoadConfig decodes YAML config bytes into a Config.
func LoadConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("metricpipe: parsing config: %w", err)
	}
	return &c, nil
}

func (c *Config) handlerOptions() handler.Options {
	return handler.Options{
		MaxPayloadSize:  c.MaxPayloadSize,
		MaxPayloadCount: c.MaxPayloadCount,
		MaxRetries:      c.MaxRetries,
		RetryDelay:      c.RetryDelay.Duration,
	}
}

// Handlers builds one BufferedHandler per backend block present in the
// config, keyed by backend name.
func (c *Config) Handlers() map[string]*handler.BufferedHandler {
	out := make(map[string]*handler.BufferedHandler)
	hopts := c.handlerOptions()

	if c.Bosun != nil {
		hopts := hopts
		hopts.Name = "bosun"
		out["bosun"] = httpjson.NewBosunHandler(httpjson.BosunOptions{
			BaseURI:                c.Bosun.BaseURI,
			EnableExternalCounters: c.Bosun.EnableExternalCounters,
		}, hopts)
	}
	if c.DataDog != nil {
		hopts := hopts
		hopts.Name = "datadog"
		out["datadog"] = httpjson.NewDataDogHandler(httpjson.DataDogOptions{
			BaseURI:       c.DataDog.BaseURI,
			APIKey:        c.DataDog.APIKey,
			AppKey:        c.DataDog.AppKey,
			GlobalHostTag: c.DataDog.GlobalHostTag,
		}, hopts)
	}
	if c.SignalFx != nil {
		hopts := hopts
		hopts.Name = "signalfx"
		out["signalfx"] = httpjson.NewSignalFxHandler(httpjson.SignalFxOptions{
			BaseURI:     c.SignalFx.BaseURI,
			AccessToken: c.SignalFx.AccessToken,
		}, hopts)
	}
	if c.StatsD != nil {
		hopts := hopts
		hopts.Name = "statsd"
		out["statsd"] = statsd.NewHandler(c.StatsD.Addr, hopts)
	}
	return out
}
