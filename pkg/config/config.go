package config

import "fmt"

// Config is the root configuration for the QA pipeline.
type Config struct {
	LLMs     LLMsConfig             `yaml:"llms"`
	Embedder EmbedderProviderConfig `yaml:"embedder"`
	Vector   VectorConfig           `yaml:"vector"`
	Graph    GraphConfig            `yaml:"graph"`
	Aliases  AliasConfig            `yaml:"aliases"`
	Agent    AgentConfig            `yaml:"agent"`
	Trace    TraceConfig            `yaml:"trace"`
	Logger   LoggerConfig           `yaml:"logger"`
}

func (c *Config) SetDefaults() {
	c.LLMs.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Graph.SetDefaults()
	c.Agent.SetDefaults()
	c.Trace.SetDefaults()
	c.Logger.SetDefaults()
}

func (c *Config) Validate() error {
	if err := c.LLMs.Validate(); err != nil {
		return fmt.Errorf("llms: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.Graph.Validate(); err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	return nil
}

// Default returns a fully defaulted configuration. Callers still need to
// supply credentials (API keys, graph password) before Validate passes.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
