package config

type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Clock         ClockConfig         `json:"clock"`
	Broadcast     BroadcastConfig     `json:"broadcast"`
	Race          RaceConfig          `json:"race"`
	Chatter       ChatterConfig       `json:"chatter"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChat is "<chat_id>" or "<chat_id>:<thread_id>"; empty disables the chat log sink.
	LogChat string `json:"log_chat,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ClockConfig controls the top-of-hour detector.
//
// CheckEvery accepts a Go duration ("1s") or a 6-field cron spec
// ("* * * * * *"). Defaults: check_every "1s", timezone "UTC".
type ClockConfig struct {
	CheckEvery string `json:"check_every,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

// BroadcastConfig controls the hourly fan-out.
//
// Defaults (when fields are omitted/zero):
//   - workers: 8
//   - rate_per_sec: 25
//   - send_timeout: "10s"
//   - default_text: "🔔 Bong 🔔"
type BroadcastConfig struct {
	Workers      int    `json:"workers,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
	DefaultText  string `json:"default_text,omitempty"`
	DefaultEmoji string `json:"default_emoji,omitempty"`
	CleanupGone  bool   `json:"cleanup_gone,omitempty"`
	// Calendar adds or replaces dated texts. Keys are "YYYY-MM-DD" or "MM-DD".
	Calendar map[string]string `json:"calendar,omitempty"`
}

// RaceConfig controls response resolution.
//
// Defaults: lock_timeout "500ms", ledger_timeout "5s", medals 3 (max 3).
type RaceConfig struct {
	LockTimeout   string `json:"lock_timeout,omitempty"`
	LedgerTimeout string `json:"ledger_timeout,omitempty"`
	Medals        *int   `json:"medals,omitempty"`
}

type ChatterConfig struct {
	Enabled bool `json:"enabled"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./bigben.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ObservabilityConfig controls the optional HTTP side server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	Pprof       bool   `json:"pprof,omitempty"`
	PprofPrefix string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
