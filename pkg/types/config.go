package types

// Config is the merged runtime configuration.
type Config struct {
	// WorkDir is the workspace root for tool execution and storage.
	WorkDir string `json:"workDir,omitempty"`

	// DataDir overrides where session logs and dehydrated spans live.
	DataDir string `json:"dataDir,omitempty"`

	LogLevel string `json:"logLevel,omitempty"`

	Runtime RuntimeConfig `json:"runtime"`
	Model   ModelConfig   `json:"model"`
	Monitor MonitorConfig `json:"monitor"`
}

// ModelConfig points at an OpenAI-compatible completion endpoint.
type ModelConfig struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string `json:"baseUrl,omitempty"`

	// APIKey is the bearer token. Prefer APIKeyEnv or {env:VAR}
	// interpolation over putting keys in config files.
	APIKey string `json:"apiKey,omitempty"`

	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `json:"apiKeyEnv,omitempty"`

	// Name is the model identifier sent with each request.
	Name string `json:"name,omitempty"`

	// MaxTokens caps the completion length per request.
	MaxTokens int `json:"maxTokens,omitempty"`
}

// RuntimeConfig carries the turn-engine knobs.
type RuntimeConfig struct {
	// ModelLimit is the model context window in tokens, used with
	// CompactThreshold to decide when compaction runs.
	ModelLimit int `json:"modelLimit,omitempty"`

	// CompactThreshold is the token_estimate/ModelLimit ratio that
	// triggers compaction. Zero means the default (0.75).
	CompactThreshold float64 `json:"compactThreshold,omitempty"`

	// KeepRecentTurns is how many recent turns compaction always keeps.
	KeepRecentTurns int `json:"keepRecentTurns,omitempty"`

	// DisableCompaction is the manual override: when set, MaybeCompact
	// never runs.
	DisableCompaction bool `json:"disableCompaction,omitempty"`

	// Dehydrate persists compacted-away spans to disk before discarding.
	Dehydrate bool `json:"dehydrate,omitempty"`

	// ToolBudget caps tool executions within one turn.
	ToolBudget int `json:"toolBudget,omitempty"`

	// AutoContinueLimit bounds consecutive empty-response continues.
	// Clamped to [3,10]; zero means the default (5).
	AutoContinueLimit int `json:"autoContinueLimit,omitempty"`

	// Autonomous enables the checklist completion gate for the
	// final-output tool.
	Autonomous bool `json:"autonomous,omitempty"`

	// FinalOutputTool names the tool gated by the checklist in
	// autonomous mode. Empty disables the gate.
	FinalOutputTool string `json:"finalOutputTool,omitempty"`
}

// MonitorConfig configures the read-only monitor server.
type MonitorConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"`
}

const (
	DefaultCompactThreshold  = 0.75
	DefaultKeepRecentTurns   = 4
	DefaultModelLimit        = 150000
	DefaultToolBudget        = 50
	DefaultAutoContinueLimit = 5
	MinAutoContinueLimit     = 3
	MaxAutoContinueLimit     = 10
)

// Normalize fills defaults and clamps out-of-range values in place.
func (c *RuntimeConfig) Normalize() {
	if c.ModelLimit <= 0 {
		c.ModelLimit = DefaultModelLimit
	}
	if c.CompactThreshold <= 0 || c.CompactThreshold > 1 {
		c.CompactThreshold = DefaultCompactThreshold
	}
	if c.KeepRecentTurns <= 0 {
		c.KeepRecentTurns = DefaultKeepRecentTurns
	}
	if c.ToolBudget <= 0 {
		c.ToolBudget = DefaultToolBudget
	}
	if c.AutoContinueLimit == 0 {
		c.AutoContinueLimit = DefaultAutoContinueLimit
	}
	if c.AutoContinueLimit < MinAutoContinueLimit {
		c.AutoContinueLimit = MinAutoContinueLimit
	}
	if c.AutoContinueLimit > MaxAutoContinueLimit {
		c.AutoContinueLimit = MaxAutoContinueLimit
	}
}
