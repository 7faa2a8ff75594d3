package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/makotom/mbpsmeter/speedtest"
)

// Server describes the endpoints of a speed test server. It is both the "server"
// section of the config file and the JSON document served on /api/config.
type Server struct {
	Name      string `yaml:"name" json:"name"`
	URL       string `yaml:"url" json:"url"`
	UploadURL string `yaml:"upload_url,omitempty" json:"upload_url,omitempty"`
	PingURL   string `yaml:"ping_url,omitempty" json:"ping_url,omitempty"`
	// Endpoint returning a Server document that overrides the fields above.
	ConfigURL string `yaml:"config_url,omitempty" json:"-"`
}

// Test holds the tunables of a measurement. Zero values keep the engine defaults.
type Test struct {
	ChunkSize            int           `yaml:"chunk_size,omitempty"`
	UploadStrategy       string        `yaml:"upload_strategy,omitempty"`
	MaxConcurrentUploads int           `yaml:"max_concurrent_uploads,omitempty"`
	UploadChunks         int           `yaml:"upload_chunks,omitempty"`
	MinDuration          time.Duration `yaml:"min_duration,omitempty"`
	MaxDuration          time.Duration `yaml:"max_duration,omitempty"`
	PingTimeout          time.Duration `yaml:"ping_timeout,omitempty"`
	PingSamples          int           `yaml:"ping_samples,omitempty"`
	SampleInterval       time.Duration `yaml:"sample_interval,omitempty"`
}

type History struct {
	Path string `yaml:"path,omitempty"`
	// Results kept in the local database; 0 keeps everything.
	Keep int `yaml:"keep,omitempty"`
	// Base URL of a server whose /history endpoint receives results instead.
	URL string `yaml:"url,omitempty"`
}

type File struct {
	Server  Server  `yaml:"server"`
	Test    Test    `yaml:"test"`
	History History `yaml:"history"`
}

const (
	defaultServerName = "Default Speedtest Server"
	defaultServerURL  = "http://localhost:8000"
	defaultHistoryDB  = "mbpsmeter.db"
)

// Default returns the configuration written to disk when no config file exists yet.
func Default() *File {
	engine := speedtest.DefaultConfiguration()

	return &File{
		Server: Server{
			Name:      defaultServerName,
			URL:       defaultServerURL + "/download",
			UploadURL: defaultServerURL + "/upload",
			PingURL:   defaultServerURL + "/ping",
		},
		Test: Test{
			ChunkSize:            engine.ChunkSize,
			UploadStrategy:       string(engine.UploadStrategy),
			MaxConcurrentUploads: engine.MaxConcurrentUploads,
			MinDuration:          engine.MinDuration,
			MaxDuration:          engine.MaxDuration,
			PingTimeout:          engine.PingTimeout,
			PingSamples:          engine.PingSamples,
			SampleInterval:       engine.SampleInterval,
		},
		History: History{
			Path: defaultHistoryDB,
		},
	}
}

// Load reads the config file at path, creating it with defaults when it does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		f := Default()
		if err := Save(path, f); err != nil {
			return nil, errors.Wrap(err, "could not create default config")
		}
		return f, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not read config file")
	}

	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, errors.Wrapf(err, "could not parse config file %s", path)
	}
	if err := f.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file %s", path)
	}
	return f, nil
}

func Save(path string, f *File) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "could not create config directory")
		}
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "could not encode config")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "could not write config file")
}

// Validate checks the values a YAML file can get wrong on its own. Endpoint checks are
// left to speedtest.Configuration.Validate, after flags and remote config are applied.
func (f *File) Validate() error {
	t := f.Test
	switch speedtest.UploadStrategy(t.UploadStrategy) {
	case "", speedtest.UploadSequential, speedtest.UploadConcurrent:
	default:
		return errors.Errorf("unknown upload strategy %q", t.UploadStrategy)
	}
	if t.ChunkSize < 0 || t.MaxConcurrentUploads < 0 || t.UploadChunks < 0 || t.PingSamples < 0 {
		return errors.New("test sizes and counts must not be negative")
	}
	if t.MinDuration < 0 || t.MaxDuration < 0 || t.PingTimeout < 0 || t.SampleInterval < 0 {
		return errors.New("test durations must not be negative")
	}
	if f.History.Keep < 0 {
		return errors.New("history keep must not be negative")
	}
	return nil
}

// Apply copies the endpoints onto config, leaving fields that are empty here untouched.
func (s Server) Apply(config *speedtest.Configuration) {
	if s.Name != "" {
		config.ServerName = s.Name
	}
	if s.URL != "" {
		config.DownloadURL = s.URL
	}
	if s.UploadURL != "" {
		config.UploadURL = s.UploadURL
	}
	if s.PingURL != "" {
		config.PingURL = s.PingURL
	}
}

// Apply copies every non-zero setting onto config.
func (f *File) Apply(config *speedtest.Configuration) {
	f.Server.Apply(config)

	t := f.Test
	if t.ChunkSize > 0 {
		config.ChunkSize = t.ChunkSize
	}
	if t.UploadStrategy != "" {
		config.UploadStrategy = speedtest.UploadStrategy(t.UploadStrategy)
	}
	if t.MaxConcurrentUploads > 0 {
		config.MaxConcurrentUploads = t.MaxConcurrentUploads
	}
	if t.UploadChunks > 0 {
		config.UploadChunkCount = t.UploadChunks
	}
	if t.MinDuration > 0 {
		config.MinDuration = t.MinDuration
	}
	if t.MaxDuration > 0 {
		config.MaxDuration = t.MaxDuration
	}
	if t.PingTimeout > 0 {
		config.PingTimeout = t.PingTimeout
	}
	if t.PingSamples > 0 {
		config.PingSamples = t.PingSamples
	}
	if t.SampleInterval > 0 {
		config.SampleInterval = t.SampleInterval
	}
}
