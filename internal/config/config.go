// Package config defines the recognized configuration shape (spec.md §3).
// Loading it from a file, environment, or CLI flags is explicitly out of
// scope for this module (spec.md §1 Non-goals) — callers unmarshal their
// own JSON blob into Config, e.g. via encoding/json, then call
// WithDefaults.
package config

// VisionFaceConfig configures face-mode detection.
type VisionFaceConfig struct {
	Profile string         `json:"profile"`
	Extra   map[string]any `json:"-"`
}

// VisionConfig is the `vision` config block.
type VisionConfig struct {
	IntervalSec float64          `json:"interval_sec"`
	CameraFPS   float64          `json:"camera_fps"`
	Mode        string           `json:"mode"` // "object" | "face"
	Face        VisionFaceConfig `json:"face"`
}

// WSConfig is the `ws` config block.
type WSConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ConversationConfig is the `conversation` config block, adopting the
// core_builder.py superset per spec.md §9's Open Question resolution.
type ConversationConfig struct {
	Enable                bool    `json:"enable"`
	LlamaBinary           string  `json:"llama_binary"`
	ModelPath             string  `json:"model_path"`
	Port                  int     `json:"port"`
	Threads               int     `json:"threads,omitempty"`
	MaxParallelInference  int     `json:"max_parallel_inference,omitempty"`
	HealthTimeout         float64 `json:"health_timeout"`
	HealthCheckInterval   float64 `json:"health_check_interval"`
	HealthCheckMaxRetries int     `json:"health_check_max_retries"`
	HealthCheckBackoff    float64 `json:"health_check_backoff"`
	LLMBaseURL            string  `json:"llm_base_url"`
	LLMRequestTimeout     float64 `json:"llm_request_timeout"`

	// AutoRestart and RestartDelay are a supplemental feature recovered
	// from original_source's ConversationService.auto_restart (SPEC_FULL
	// §4.H); the default (false) matches the baseline spec behavior.
	AutoRestart  bool    `json:"auto_restart,omitempty"`
	RestartDelay float64 `json:"restart_delay_sec,omitempty"`
}

// SocialFSMConfig is the `behavior.social_fsm` config block.
type SocialFSMConfig struct {
	DeadbandX        float64 `json:"deadband_x"`
	LockFramesNeeded int     `json:"lock_frames_needed"`
	MissRelease      int     `json:"miss_release"`
	InteractMS       int     `json:"interact_ms"`
	RelaxTimeoutS    float64 `json:"relax_timeout_s"`
	MinScore         float64 `json:"min_score"`
	CooldownMS       int     `json:"cooldown_ms"`
	MeowCooldownMinS float64 `json:"meow_cooldown_min_s"`
	MeowCooldownMaxS float64 `json:"meow_cooldown_max_s"`
}

// BehaviorConfig is the `behavior` config block.
type BehaviorConfig struct {
	SocialFSM SocialFSMConfig `json:"social_fsm"`
}

// Config is the top-level recognized configuration shape.
type Config struct {
	EnableVision       bool `json:"enable_vision"`
	EnableMovement     bool `json:"enable_movement"`
	EnableWS           bool `json:"enable_ws"`
	EnableConversation bool `json:"enable_conversation"`

	Vision       VisionConfig       `json:"vision"`
	WS           WSConfig           `json:"ws"`
	Conversation ConversationConfig `json:"conversation"`
	Behavior     BehaviorConfig     `json:"behavior"`
}

// WithDefaults returns a copy of cfg with zero-value optional fields
// filled in, mirroring the named-default style of core_builder.py's
// conversation_defaults dict: each field gets an explicit default instead
// of silently behaving like zero. Idempotent and never overwrites a
// field the caller already set to a non-zero value, except that a
// negative vision interval_sec or camera_fps is also replaced by its
// default.
func (c Config) WithDefaults() Config {
	if c.Vision.IntervalSec <= 0 {
		c.Vision.IntervalSec = 1.0
	}
	if c.Vision.CameraFPS <= 0 {
		c.Vision.CameraFPS = 15.0
	}
	if c.Vision.Mode == "" {
		c.Vision.Mode = "object"
	}

	if c.WS.Host == "" {
		c.WS.Host = "0.0.0.0"
	}
	if c.WS.Port == 0 {
		c.WS.Port = 8765
	}

	cc := &c.Conversation
	if cc.Port == 0 {
		cc.Port = 9090
	}
	if cc.Threads == 0 {
		cc.Threads = 2
	}
	if cc.MaxParallelInference == 0 {
		cc.MaxParallelInference = 1
	}
	if cc.HealthTimeout == 0 {
		cc.HealthTimeout = 5.0
	}
	if cc.HealthCheckInterval == 0 {
		cc.HealthCheckInterval = 0.5
	}
	if cc.HealthCheckMaxRetries == 0 {
		cc.HealthCheckMaxRetries = 3
	}
	if cc.HealthCheckBackoff == 0 {
		cc.HealthCheckBackoff = 2.0
	}
	if cc.LLMRequestTimeout == 0 {
		cc.LLMRequestTimeout = 30.0
	}
	if cc.RestartDelay == 0 {
		cc.RestartDelay = 5.0
	}

	bf := &c.Behavior.SocialFSM
	if bf.DeadbandX == 0 {
		bf.DeadbandX = 0.12
	}
	if bf.LockFramesNeeded == 0 {
		bf.LockFramesNeeded = 3
	}
	if bf.MissRelease == 0 {
		bf.MissRelease = 5
	}
	if bf.InteractMS == 0 {
		bf.InteractMS = 1500
	}
	if bf.RelaxTimeoutS == 0 {
		bf.RelaxTimeoutS = 30.0
	}
	if bf.CooldownMS == 0 {
		bf.CooldownMS = 250
	}
	if bf.MeowCooldownMaxS == 0 {
		bf.MeowCooldownMaxS = 20.0
	}
	if bf.MeowCooldownMinS == 0 {
		bf.MeowCooldownMinS = 8.0
	}

	return c
}

// ConversationPathsMissing reports which of llama_binary/model_path are
// unset. Existence-on-disk is left to the caller (internal/supervisor
// checks that both paths can be opened) so config
// stays free of I/O, matching the Non-goal boundary around config
// loading — this only checks the fields are non-empty strings.
func (c ConversationConfig) ConversationPathsMissing() []string {
	var missing []string
	if c.LlamaBinary == "" {
		missing = append(missing, "llama_binary")
	}
	if c.ModelPath == "" {
		missing = append(missing, "model_path")
	}
	return missing
}
