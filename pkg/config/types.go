package config

import (
	"fmt"
	"time"
)

// LLMRole names the two model roles the pipeline uses. The reasoning
// model drives the tool loop; the fast model serves grading, refining
// and the humanizer pass.
type LLMRole string

const (
	RoleReasoning LLMRole = "reasoning"
	RoleFast      LLMRole = "fast"
)

// LLMProviderConfig configures a single LLM endpoint.
type LLMProviderConfig struct {
	// Type selects the provider implementation (currently: gemini).
	Type string `yaml:"type"`

	// Model is the provider-side model name.
	Model string `yaml:"model"`

	// APIKey for authenticated access.
	APIKey string `yaml:"api_key,omitempty"`

	// Host overrides the provider endpoint (default depends on type).
	Host string `yaml:"host,omitempty"`

	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`

	// Timeout per request, in seconds.
	Timeout    int `yaml:"timeout,omitempty"`
	MaxRetries int `yaml:"max_retries,omitempty"`
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "gemini"
	}
	if c.Host == "" {
		c.Host = "https://generativelanguage.googleapis.com"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 8192
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 1
	}
}

func (c *LLMProviderConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	return nil
}

func (c *LLMProviderConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// LLMsConfig holds the two model roles.
type LLMsConfig struct {
	Reasoning LLMProviderConfig `yaml:"reasoning"`
	Fast      LLMProviderConfig `yaml:"fast"`
}

func (c *LLMsConfig) SetDefaults() {
	if c.Reasoning.Model == "" {
		c.Reasoning.Model = "gemini-2.5-pro"
	}
	if c.Fast.Model == "" {
		c.Fast.Model = "gemini-2.5-flash"
	}
	// Grading wants deterministic verdicts.
	c.Reasoning.SetDefaults()
	c.Fast.SetDefaults()
}

func (c *LLMsConfig) Validate() error {
	if err := c.Reasoning.Validate(); err != nil {
		return fmt.Errorf("reasoning: %w", err)
	}
	if err := c.Fast.Validate(); err != nil {
		return fmt.Errorf("fast: %w", err)
	}
	return nil
}

// EmbedderProviderConfig configures the query embedder.
type EmbedderProviderConfig struct {
	// Type selects the implementation: "openai" (OpenAI-compatible HTTP,
	// covers TEI/vLLM serving BGE models) or "ollama".
	Type string `yaml:"type"`

	Model string `yaml:"model"`
	Host  string `yaml:"host"`

	APIKey string `yaml:"api_key,omitempty"`

	// Dimension of produced vectors; must match the vector collection.
	Dimension int `yaml:"dimension"`

	Timeout    int `yaml:"timeout,omitempty"`
	MaxRetries int `yaml:"max_retries,omitempty"`
}

func (c *EmbedderProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		c.Model = "BAAI/bge-base-zh-v1.5"
	}
	if c.Host == "" {
		c.Host = "http://localhost:8081"
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *EmbedderProviderConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("embedder dimension must be positive")
	}
	return nil
}

// VectorConfig configures the Qdrant store.
type VectorConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key,omitempty"`
	UseTLS     bool   `yaml:"use_tls,omitempty"`
	Collection string `yaml:"collection"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334 // Qdrant gRPC port
	}
	if c.Collection == "" {
		c.Collection = "story_chunks"
	}
}

// GraphConfig configures the Neo4j store.
type GraphConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database,omitempty"`
}

func (c *GraphConfig) SetDefaults() {
	if c.URI == "" {
		c.URI = "bolt://localhost:7687"
	}
	if c.Username == "" {
		c.Username = "neo4j"
	}
	if c.Database == "" {
		c.Database = "neo4j"
	}
}

func (c *GraphConfig) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("graph password is required")
	}
	return nil
}

// AliasConfig locates the curated alias override table.
type AliasConfig struct {
	// TablePath points at a YAML file mapping surface name -> canonical.
	// Empty means no static overrides.
	TablePath string `yaml:"table_path,omitempty"`
}

// GraderConfig holds the hard quality floors. Axes are scored 0-25,
// the total 0-100.
type GraderConfig struct {
	DepthFloor    int `yaml:"depth_floor"`
	CitationFloor int `yaml:"citation_floor"`
	TotalFloor    int `yaml:"total_floor"`
}

func (c *GraderConfig) SetDefaults() {
	if c.DepthFloor == 0 {
		c.DepthFloor = 15
	}
	if c.CitationFloor == 0 {
		c.CitationFloor = 10
	}
	if c.TotalFloor == 0 {
		c.TotalFloor = 70
	}
}

func (c *GraderConfig) Validate() error {
	if c.DepthFloor < 0 || c.DepthFloor > 25 {
		return fmt.Errorf("depth_floor must be within 0-25, got %d", c.DepthFloor)
	}
	if c.CitationFloor < 0 || c.CitationFloor > 25 {
		return fmt.Errorf("citation_floor must be within 0-25, got %d", c.CitationFloor)
	}
	if c.TotalFloor < 0 || c.TotalFloor > 100 {
		return fmt.Errorf("total_floor must be within 0-100, got %d", c.TotalFloor)
	}
	return nil
}

// AgentConfig drives the retry orchestrator.
type AgentConfig struct {
	// MaxRetries is the attempt budget per question.
	MaxRetries int `yaml:"max_retries"`

	// LimitProgression sets the search_memory breadth per attempt.
	// Attempts beyond the list reuse the last entry.
	LimitProgression []int `yaml:"limit_progression,omitempty"`

	// MaxIterations bounds tool-call rounds within one attempt.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	Grader GraderConfig `yaml:"grader"`

	// Humanize strips scholarly citation markers from passing answers.
	Humanize bool `yaml:"humanize,omitempty"`
}

func (c *AgentConfig) SetDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if len(c.LimitProgression) == 0 {
		c.LimitProgression = []int{3, 5, 8}
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	c.Grader.SetDefaults()
}

func (c *AgentConfig) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	prev := 0
	for i, limit := range c.LimitProgression {
		if limit <= 0 {
			return fmt.Errorf("limit_progression[%d] must be positive", i)
		}
		if limit < prev {
			return fmt.Errorf("limit_progression must be non-decreasing")
		}
		prev = limit
	}
	return c.Grader.Validate()
}

// LimitForAttempt returns the search breadth for a 1-based attempt index.
func (c *AgentConfig) LimitForAttempt(attempt int) int {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(c.LimitProgression) {
		return c.LimitProgression[len(c.LimitProgression)-1]
	}
	return c.LimitProgression[attempt-1]
}

// TraceConfig configures execution trace capture.
type TraceConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
}

func (c *TraceConfig) SetDefaults() {
	if c.Enabled == nil {
		enabled := true
		c.Enabled = &enabled
	}
	if c.Dir == "" {
		c.Dir = "./traces"
	}
}

func (c *TraceConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled
}

// LoggerConfig configures slog output.
type LoggerConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	File   string `yaml:"file,omitempty"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}
