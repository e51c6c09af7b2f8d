package config

// Config is the full daemon configuration.
//
// Files may be JSON or YAML; YAML is converted and decoded with the same
// strict JSON decoder. All durations are Go duration strings (e.g. "60s",
// "10m", "720h").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	HTTP    HTTPConfig    `json:"http"`
	Storage StorageConfig `json:"storage"`
	SMTP    *SMTPConfig   `json:"smtp,omitempty"`
	Engine  EngineConfig  `json:"engine"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":8080"
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SMTPConfig configures the email channel. If the section is omitted the
// dispatcher runs with the push channel only.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from"`
}

// EngineConfig controls the scheduling engine.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "60s"
//   - lead_time: "10m"
//   - retention: "720h" (30 days)
//   - dispatch_timeout: "10s"
//   - email_rate_per_sec: 3
//   - sweep_at: "00:00"
//   - timezone: process local
type EngineConfig struct {
	PollInterval    string `json:"poll_interval,omitempty"`
	LeadTime        string `json:"lead_time,omitempty"`
	Retention       string `json:"retention,omitempty"`
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`
	EmailRatePerSec int    `json:"email_rate_per_sec,omitempty"`
	SweepAt         string `json:"sweep_at,omitempty"` // HH:MM, engine timezone
	Timezone        string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
}
