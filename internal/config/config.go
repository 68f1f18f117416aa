package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/banshee-data/motion.report/internal/motion"
)

// DefaultConfigPath is the configuration shipped with the repository.
const DefaultConfigPath = "config/motion.defaults.toml"

// Config is the root configuration. Every field is optional; the Get*
// accessors supply the defaults, so partial files are safe.
type Config struct {
	Motion  MotionConfig  `json:"motion" toml:"motion"`
	Output  OutputConfig  `json:"output" toml:"output"`
	Log     LogConfig     `json:"log" toml:"log"`
	Source  SourceConfig  `json:"source" toml:"source"`
	Server  ServerConfig  `json:"server" toml:"server"`
	Control ControlConfig `json:"control" toml:"control"`
}

// MotionConfig holds the trigger thresholds and averaging windows.
type MotionConfig struct {
	TriggerPoint       *int `json:"trigger_point,omitempty" toml:"trigger_point"`
	TriggerPointBase   *int `json:"trigger_point_base,omitempty" toml:"trigger_point_base"`
	MovementWindow     *int `json:"movement_window,omitempty" toml:"movement_window"`
	MovementWindowAge  *int `json:"movement_window_age,omitempty" toml:"movement_window_age"`
	TriggerTraceWindow *int `json:"trigger_trace_window,omitempty" toml:"trigger_trace_window"`
}

// OutputConfig controls clip output.
type OutputConfig struct {
	Dir          *string `json:"dir,omitempty" toml:"dir"`
	PreFrames    *int    `json:"pre_frames,omitempty" toml:"pre_frames"`
	PostFrames   *int    `json:"post_frames,omitempty" toml:"post_frames"`
	Still        *bool   `json:"still,omitempty" toml:"still"`
	TriggerChart *bool   `json:"trigger_chart,omitempty" toml:"trigger_chart"`
	// Command runs after each clip; <CLIP> is replaced by the clip file name.
	Command *string `json:"command,omitempty" toml:"command"`
}

// LogConfig controls the event log outputs.
type LogConfig struct {
	EventsCSV         *string `json:"events_csv,omitempty" toml:"events_csv"`
	HeartbeatInterval *string `json:"heartbeat_interval,omitempty" toml:"heartbeat_interval"` // duration string like "60s"
	DBPath            *string `json:"db_path,omitempty" toml:"db_path"`
}

// SourceConfig selects where movement levels come from.
type SourceConfig struct {
	Kind        *string `json:"kind,omitempty" toml:"kind"`
	Path        *string `json:"path,omitempty" toml:"path"`
	BaudRate    *int    `json:"baud_rate,omitempty" toml:"baud_rate"`
	FPS         *int    `json:"fps,omitempty" toml:"fps"`
	FrameWidth  *int    `json:"frame_width,omitempty" toml:"frame_width"`
	FrameHeight *int    `json:"frame_height,omitempty" toml:"frame_height"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen *string `json:"listen,omitempty" toml:"listen"`
}

// ControlConfig configures the command drop directory.
type ControlConfig struct {
	CommandDir *string `json:"command_dir,omitempty" toml:"command_dir"`
}

// Source kinds.
const (
	SourceStdin     = "stdin"
	SourceSerial    = "serial"
	SourceReplay    = "replay"
	SourceSynthetic = "synthetic"
)

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a .json or .toml configuration file. Unknown keys are rejected
// so that typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, ext)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes data in the format named by ext (".json" or ".toml")
// without validating it.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := Empty()
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}

	if c.Motion.TriggerTraceWindow != nil && *c.Motion.TriggerTraceWindow < 0 {
		return fmt.Errorf("trigger_trace_window must be non-negative, got %d", *c.Motion.TriggerTraceWindow)
	}

	if c.Log.HeartbeatInterval != nil && *c.Log.HeartbeatInterval != "" {
		d, err := time.ParseDuration(*c.Log.HeartbeatInterval)
		if err != nil {
			return fmt.Errorf("invalid heartbeat_interval '%s': %w", *c.Log.HeartbeatInterval, err)
		}
		if d < 0 {
			return fmt.Errorf("heartbeat_interval must be non-negative, got %s", d)
		}
	}

	switch kind := c.GetSourceKind(); kind {
	case SourceStdin, SourceSynthetic:
	case SourceSerial, SourceReplay:
		if c.GetSourcePath() == "" {
			return fmt.Errorf("source.path is required for %s sources", kind)
		}
	default:
		return fmt.Errorf("unknown source kind %q", kind)
	}

	if c.Source.FPS != nil && *c.Source.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %d", *c.Source.FPS)
	}
	if c.Source.BaudRate != nil && *c.Source.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.Source.BaudRate)
	}
	if w, h := c.GetFrameWidth(), c.GetFrameHeight(); w <= 0 || h <= 0 {
		return fmt.Errorf("frame size must be positive, got %dx%d", w, h)
	}
	return nil
}

// Params converts the motion and output sections into engine parameters.
func (c *Config) Params() motion.Params {
	return motion.Params{
		TriggerPoint:     c.GetTriggerPoint(),
		TriggerPointBase: c.GetTriggerPointBase(),
		Window:           c.GetMovementWindow(),
		Age:              c.GetMovementWindowAge(),
		PreFrames:        c.GetPreFrames(),
		PostFrames:       c.GetPostFrames(),
	}
}

// GetTriggerPoint returns the trigger_point value or the default.
func (c *Config) GetTriggerPoint() int {
	if c.Motion.TriggerPoint == nil {
		return 200
	}
	return *c.Motion.TriggerPoint
}

// GetTriggerPointBase returns the trigger_point_base value or the default.
func (c *Config) GetTriggerPointBase() int {
	if c.Motion.TriggerPointBase == nil {
		return 100
	}
	return *c.Motion.TriggerPointBase
}

// GetMovementWindow returns the movement_window value or the default.
func (c *Config) GetMovementWindow() int {
	if c.Motion.MovementWindow == nil {
		return 30
	}
	return *c.Motion.MovementWindow
}

// GetMovementWindowAge returns the movement_window_age value or the default.
func (c *Config) GetMovementWindowAge() int {
	if c.Motion.MovementWindowAge == nil {
		return 10
	}
	return *c.Motion.MovementWindowAge
}

// GetTriggerTraceWindow returns the trigger_trace_window value or the default.
func (c *Config) GetTriggerTraceWindow() int {
	if c.Motion.TriggerTraceWindow == nil {
		return 50
	}
	return *c.Motion.TriggerTraceWindow
}

// GetOutputDir returns the clip output directory.
func (c *Config) GetOutputDir() string {
	if c.Output.Dir == nil || *c.Output.Dir == "" {
		return "Motion"
	}
	return *c.Output.Dir
}

// GetPreFrames returns the pre_frames value or the default.
func (c *Config) GetPreFrames() int {
	if c.Output.PreFrames == nil {
		return 20
	}
	return *c.Output.PreFrames
}

// GetPostFrames returns the post_frames value or the default.
func (c *Config) GetPostFrames() int {
	if c.Output.PostFrames == nil {
		return 80
	}
	return *c.Output.PostFrames
}

// GetStill reports whether a peak still is written per clip.
func (c *Config) GetStill() bool {
	if c.Output.Still == nil {
		return true
	}
	return *c.Output.Still
}

// GetTriggerChart reports whether the trigger trace is charted per clip.
func (c *Config) GetTriggerChart() bool {
	if c.Output.TriggerChart == nil {
		return true
	}
	return *c.Output.TriggerChart
}

// GetCommand returns the post-clip command, empty when disabled.
func (c *Config) GetCommand() string {
	if c.Output.Command == nil {
		return ""
	}
	return *c.Output.Command
}

// GetEventsCSV returns the event log path, relative to the output dir.
func (c *Config) GetEventsCSV() string {
	if c.Log.EventsCSV == nil {
		return "events.csv"
	}
	return *c.Log.EventsCSV
}

// GetHeartbeatInterval parses and returns the heartbeat interval. Zero
// disables heartbeats.
func (c *Config) GetHeartbeatInterval() time.Duration {
	if c.Log.HeartbeatInterval == nil || *c.Log.HeartbeatInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.Log.HeartbeatInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// GetDBPath returns the sqlite database path.
func (c *Config) GetDBPath() string {
	if c.Log.DBPath == nil || *c.Log.DBPath == "" {
		return "motion.db"
	}
	return *c.Log.DBPath
}

// GetSourceKind returns the level source kind.
func (c *Config) GetSourceKind() string {
	if c.Source.Kind == nil || *c.Source.Kind == "" {
		return SourceStdin
	}
	return *c.Source.Kind
}

// GetSourcePath returns the serial device or replay file path.
func (c *Config) GetSourcePath() string {
	if c.Source.Path == nil {
		return ""
	}
	return *c.Source.Path
}

// GetBaudRate returns the serial baud rate.
func (c *Config) GetBaudRate() int {
	if c.Source.BaudRate == nil {
		return 115200
	}
	return *c.Source.BaudRate
}

// GetFPS returns the replay and synthetic frame rate.
func (c *Config) GetFPS() int {
	if c.Source.FPS == nil {
		return 30
	}
	return *c.Source.FPS
}

// GetFrameWidth returns the width of generated frames.
func (c *Config) GetFrameWidth() int {
	if c.Source.FrameWidth == nil {
		return 64
	}
	return *c.Source.FrameWidth
}

// GetFrameHeight returns the height of generated frames.
func (c *Config) GetFrameHeight() int {
	if c.Source.FrameHeight == nil {
		return 48
	}
	return *c.Source.FrameHeight
}

// GetListen returns the HTTP listen address.
func (c *Config) GetListen() string {
	if c.Server.Listen == nil || *c.Server.Listen == "" {
		return ":8080"
	}
	return *c.Server.Listen
}

// GetCommandDir returns the command drop directory, empty when disabled.
func (c *Config) GetCommandDir() string {
	if c.Control.CommandDir == nil {
		return ""
	}
	return *c.Control.CommandDir
}

// Overrides carries command-line values that take precedence over the file.
// Empty fields leave the file value in place.
type Overrides struct {
	Listen string
	// Source is "kind" or "kind:path", for example "serial:/dev/ttyUSB0".
	Source string
	DBPath string
}

// Apply merges o into c and revalidates.
func (c *Config) Apply(o Overrides) error {
	if o.Listen != "" {
		c.Server.Listen = ptrString(o.Listen)
	}
	if o.Source != "" {
		kind, path, hasPath := strings.Cut(o.Source, ":")
		c.Source.Kind = ptrString(kind)
		if hasPath {
			c.Source.Path = ptrString(path)
		}
	}
	if o.DBPath != "" {
		c.Log.DBPath = ptrString(o.DBPath)
	}
	return c.Validate()
}
