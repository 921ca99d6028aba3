package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/akhenakh/rankfuse/internal/fusion"

	"gopkg.in/yaml.v3"
)

// Signal modes understood by the pipeline backends.
const (
	ModeLexical = "lexical"
	ModeVector  = "vector"
)

type Embedding struct {
	OllamaURL       string `yaml:"ollama_url"`
	ModelName       string `yaml:"model_name"`
	EmbedDimensions int    `yaml:"embed_dimensions"`

	// Role prefixes, e5 style by default
	QueryPrefix   string `yaml:"query_prefix"`
	PassagePrefix string `yaml:"passage_prefix"`

	// Local Inference Settings
	UseLocal       bool   `yaml:"use_local"`
	LocalModelPath string `yaml:"local_model_path"`
	LocalLibPath   string `yaml:"local_lib_path"`

	// Chunking Settings
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type Signal struct {
	Name   string  `yaml:"name"`
	Mode   string  `yaml:"mode"`
	Weight float64 `yaml:"weight"`
}

type Fusion struct {
	Algorithms []string `yaml:"algorithms"`
	RRFK       float64  `yaml:"rrf_k"`
}

type Eval struct {
	Workers  int  `yaml:"workers"`
	FailFast bool `yaml:"fail_fast"`
	// Cutoff truncates NDCG at this depth, 0 evaluates the whole list
	Cutoff int `yaml:"cutoff"`
}

type Config struct {
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	Embedding Embedding `yaml:"embedding"`
	Fusion    Fusion    `yaml:"fusion"`
	Signals   []Signal  `yaml:"signals"`
	Eval      Eval      `yaml:"eval"`
}

// Default settings
func Default() *Config {
	return &Config{
		DBPath:   "./rankfuse.sqlite",
		LogLevel: "info",
		Embedding: Embedding{
			OllamaURL:       "http://localhost:11434",
			ModelName:       "jeffh/intfloat-multilingual-e5-large:f16",
			EmbedDimensions: 1024,
			QueryPrefix:     "query: ",
			PassagePrefix:   "passage: ",
			ChunkSize:       1000,
			ChunkOverlap:    200,
		},
		Fusion: Fusion{
			Algorithms: []string{"borda", "dbsf", "rrf", "rsf"},
			RRFK:       fusion.DefaultRRFK,
		},
		Signals: []Signal{
			{Name: "lexical", Mode: ModeLexical, Weight: 1},
			{Name: "vector", Mode: ModeVector, Weight: 1},
		},
		Eval: Eval{
			Workers: 4,
		},
	}
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "rankfuse.yml"), nil
}

// Load reads path, or the default location when path is empty. A missing
// file yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return err
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the values the pipeline cannot recover from.
func (c *Config) Validate() error {
	if _, err := c.Algorithms(); err != nil {
		return err
	}
	if c.Fusion.RRFK <= 0 {
		return fmt.Errorf("fusion.rrf_k must be positive, got %v", c.Fusion.RRFK)
	}
	if len(c.Signals) == 0 {
		return fmt.Errorf("at least one signal is required")
	}
	seen := make(map[string]bool, len(c.Signals))
	for _, s := range c.Signals {
		if s.Name == "" {
			return fmt.Errorf("signal name required")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate signal %q", s.Name)
		}
		seen[s.Name] = true
		if s.Mode != ModeLexical && s.Mode != ModeVector {
			return fmt.Errorf("signal %q: unknown mode %q", s.Name, s.Mode)
		}
	}
	if c.Eval.Workers < 0 {
		return fmt.Errorf("eval.workers must not be negative")
	}
	if c.Eval.Cutoff < 0 {
		return fmt.Errorf("eval.cutoff must not be negative")
	}
	return nil
}

// Algorithms parses the configured algorithm names.
func (c *Config) Algorithms() ([]fusion.Algorithm, error) {
	if len(c.Fusion.Algorithms) == 0 {
		return fusion.Algorithms(), nil
	}
	out := make([]fusion.Algorithm, 0, len(c.Fusion.Algorithms))
	for _, name := range c.Fusion.Algorithms {
		alg, err := fusion.ParseAlgorithm(name)
		if err != nil {
			return nil, err
		}
		out = append(out, alg)
	}
	return out, nil
}

// Weights returns the signal weights in signal order. Zero weights are
// read as 1 so a config can omit them.
func (c *Config) Weights() []float64 {
	out := make([]float64, len(c.Signals))
	for i, s := range c.Signals {
		out[i] = s.Weight
		if out[i] == 0 {
			out[i] = 1
		}
	}
	return out
}
