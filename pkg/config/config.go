// Package config holds the tuner configuration: where rules and profiles
// live, how to log, how often to sample the host and how to reach NATS.
package config

import "time"

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Rules    RulesConfig    `yaml:"rules"`
	Profiles ProfilesConfig `yaml:"profiles"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Nats     NatsConfig     `yaml:"nats"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SourceConfig names a rules document in a store. Without a key every
// document directly under the store root is loaded.
type SourceConfig struct {
	Store string `yaml:"store"`
	Key   string `yaml:"key"`
}

type RulesConfig struct {
	// Dir is a rules directory on disk, used when no sources are listed.
	Dir     string         `yaml:"dir"`
	Sources []SourceConfig `yaml:"sources"`
	// DefaultSource receives saved rules that were not loaded from anywhere.
	DefaultSource SourceConfig  `yaml:"default_source"`
	Duplicates    string        `yaml:"duplicates"`
	Strict        bool          `yaml:"strict"`
	Watch         bool          `yaml:"watch"`
	Debounce      time.Duration `yaml:"debounce"`
}

type ProfilesConfig struct {
	Store  string `yaml:"store"`
	Key    string `yaml:"key"`
	Active string `yaml:"active"`
}

type MetricsConfig struct {
	Schedule string `yaml:"schedule"`
	DiskPath string `yaml:"disk_path"`
	History  int    `yaml:"history"`
	// Store and Key, when set, receive the summary after every sample.
	Store  string `yaml:"store"`
	Key    string `yaml:"key"`
	Listen string `yaml:"listen"`

	Elastic      []string `yaml:"elastic"`
	ElasticIndex string   `yaml:"elastic_index"`

	// ElasticRetention is the number of daily indices kept, 0 keeps all.
	ElasticRetention int `yaml:"elastic_retention"`
}

type NatsConfig struct {
	URL             string   `yaml:"url"`
	Name            string   `yaml:"name"`
	Queue           string   `yaml:"queue"`
	Topics          []string `yaml:"topics"`
	ReportStream    string   `yaml:"report_stream"`
	ReportPrefix    string   `yaml:"report_prefix"`
	NkeyUser        string   `yaml:"nkey_user"`
	NkeySeed        string   `yaml:"nkey_seed"`
	CredentialsPath string   `yaml:"credentials"`
}
