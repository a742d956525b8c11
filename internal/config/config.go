package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: NMEA_BRIDGE_SERVER_TCP_PORT
// sets server.tcp_port.
const EnvPrefix = "NMEA_BRIDGE"

// Modes.
const (
	ModeScenario = "scenario"
	ModePhysics  = "physics"
	ModeReplay   = "replay"
)

type Config struct {
	Mode      string          `mapstructure:"mode"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Scenario  ScenarioConfig  `mapstructure:"scenario"`
	Physics   PhysicsConfig   `mapstructure:"physics"`
	Replay    ReplayConfig    `mapstructure:"replay"`
	Record    RecordConfig    `mapstructure:"record"`
	Autopilot AutopilotConfig `mapstructure:"autopilot"`
	Stats     StatsConfig     `mapstructure:"stats"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// File enables a rotating log file in addition to the console.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	JSON       bool   `mapstructure:"json"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind"`
	// TCPPort also names the UDP port.
	TCPPort      int           `mapstructure:"tcp_port"`
	WSPort       int           `mapstructure:"ws_port"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	ClientBuffer int           `mapstructure:"client_buffer"`
}

type ScenarioConfig struct {
	Path string `mapstructure:"path"`
	// Mode is strict (path required) or demo (built-in scenario when path
	// is empty).
	Mode string `mapstructure:"mode"`
	Seed uint64 `mapstructure:"seed"`
	// KeelOffsetM is the transducer-to-keel distance used for DBK and DPT.
	KeelOffsetM float64 `mapstructure:"keel_offset_m"`
}

type PhysicsConfig struct {
	Profile     string             `mapstructure:"profile"`
	ProfilesDir string             `mapstructure:"profiles_dir"`
	Overrides   map[string]any     `mapstructure:"overrides"`
	Tick        time.Duration      `mapstructure:"tick"`
	Smoothing   time.Duration      `mapstructure:"smoothing"`
	Rates       map[string]float64 `mapstructure:"rates"`
	Environment EnvironmentConfig  `mapstructure:"environment"`
	Target      TargetConfig       `mapstructure:"target"`
}

type EnvironmentConfig struct {
	TrueWindSpeedKts float64 `mapstructure:"true_wind_speed_kts"`
	TrueWindDirDeg   float64 `mapstructure:"true_wind_dir_deg"`
	CurrentSpeedKts  float64 `mapstructure:"current_speed_kts"`
	CurrentDirDeg    float64 `mapstructure:"current_dir_deg"`
	WaveHeightM      float64 `mapstructure:"wave_height_m"`
	DepthM           float64 `mapstructure:"depth_m"`
	WaterTempC       float64 `mapstructure:"water_temp_c"`
}

// TargetConfig fields left unset fall back to the profile defaults.
type TargetConfig struct {
	HeadingDeg  *float64 `mapstructure:"heading_deg"`
	ThrottlePct *float64 `mapstructure:"throttle_pct"`
}

type ReplayConfig struct {
	Path  string  `mapstructure:"path"`
	Speed float64 `mapstructure:"speed"`
	Loop  bool    `mapstructure:"loop"`
	// PerClient plays the recording from the start for each client instead
	// of broadcasting one shared playback.
	PerClient bool `mapstructure:"per_client"`
}

// RecordConfig captures every broadcast sentence to a timeline file.
type RecordConfig struct {
	Path string `mapstructure:"path"`
}

type AutopilotConfig struct {
	BridgeMode string `mapstructure:"bridge_mode"`
	// RateHz is the HTD/RSA rate in scenario mode; physics mode uses
	// physics.rates.autopilot.
	RateHz float64 `mapstructure:"rate_hz"`
}

type StatsConfig struct {
	// Interval between stats log lines; zero disables them.
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeScenario)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.json", false)
	v.SetDefault("server.bind", "0.0.0.0")
	v.SetDefault("server.tcp_port", 10110)
	v.SetDefault("server.ws_port", 8080)
	v.SetDefault("server.write_timeout", 2*time.Second)
	v.SetDefault("server.client_buffer", 256)
	v.SetDefault("scenario.path", "")
	v.SetDefault("scenario.mode", "demo")
	v.SetDefault("scenario.seed", 0)
	v.SetDefault("scenario.keel_offset_m", 0.0)
	v.SetDefault("physics.profile", "sailboat-35")
	v.SetDefault("physics.profiles_dir", "")
	v.SetDefault("physics.tick", 100*time.Millisecond)
	v.SetDefault("physics.smoothing", 2*time.Second)
	v.SetDefault("physics.environment.true_wind_speed_kts", 12.0)
	v.SetDefault("physics.environment.true_wind_dir_deg", 0.0)
	v.SetDefault("physics.environment.current_speed_kts", 0.0)
	v.SetDefault("physics.environment.current_dir_deg", 0.0)
	v.SetDefault("physics.environment.wave_height_m", 0.3)
	v.SetDefault("physics.environment.depth_m", 20.0)
	v.SetDefault("physics.environment.water_temp_c", 18.0)
	v.SetDefault("replay.path", "")
	v.SetDefault("replay.speed", 1.0)
	v.SetDefault("replay.loop", true)
	v.SetDefault("replay.per_client", false)
	v.SetDefault("record.path", "")
	v.SetDefault("autopilot.bridge_mode", "encapsulated")
	v.SetDefault("autopilot.rate_hz", 1.0)
	v.SetDefault("stats.interval", 30*time.Second)
}

// Load reads path (optional) over the defaults, applies NMEA_BRIDGE_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return Config{}, fmt.Errorf("config contains unknown fields: %w", err)
	}
	if err := cfg.DefaultAndValidate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills values the file may legitimately leave empty and
// rejects inconsistent settings. Configs built in code go through it too.
func (c *Config) DefaultAndValidate() error {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModeScenario
	}
	switch c.Mode {
	case ModeScenario, ModePhysics, ModeReplay:
	default:
		return fmt.Errorf("mode must be one of scenario, physics, replay (got %q)", c.Mode)
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level %q is not a valid level", c.Log.Level)
	}

	if err := c.Server.validate(); err != nil {
		return err
	}

	switch c.Scenario.Mode {
	case "":
		c.Scenario.Mode = "demo"
	case "strict", "demo":
	default:
		return fmt.Errorf("scenario.mode must be 'strict' or 'demo' (got %q)", c.Scenario.Mode)
	}
	if c.Mode == ModeScenario && c.Scenario.Mode == "strict" && c.Scenario.Path == "" {
		return errors.New("scenario.path is required when scenario.mode is 'strict'")
	}
	if c.Scenario.KeelOffsetM < 0 {
		return errors.New("scenario.keel_offset_m must be >= 0")
	}

	if c.Mode == ModePhysics {
		if c.Physics.Profile == "" {
			return errors.New("physics.profile is required when mode is 'physics'")
		}
		if c.Physics.Tick <= 0 {
			return errors.New("physics.tick must be > 0")
		}
		if c.Physics.Smoothing < 0 {
			return errors.New("physics.smoothing must be >= 0")
		}
		for name, hz := range c.Physics.Rates {
			if !(hz > 0) {
				return fmt.Errorf("physics.rates.%s must be > 0", name)
			}
		}
		if t := c.Physics.Target.ThrottlePct; t != nil && (*t < 0 || *t > 100) {
			return errors.New("physics.target.throttle_pct must be in 0..100")
		}
	}

	if c.Mode == ModeReplay {
		if c.Replay.Path == "" {
			return errors.New("replay.path is required when mode is 'replay'")
		}
		if c.Replay.Speed == 0 {
			c.Replay.Speed = 1
		}
		if c.Replay.Speed < 0 {
			return errors.New("replay.speed must be > 0")
		}
		if c.Record.Path != "" {
			return errors.New("record.path cannot be used when mode is 'replay'")
		}
	}

	switch c.Autopilot.BridgeMode {
	case "":
		c.Autopilot.BridgeMode = "encapsulated"
	case "encapsulated", "native":
	default:
		return fmt.Errorf("autopilot.bridge_mode must be 'encapsulated' or 'native' (got %q)", c.Autopilot.BridgeMode)
	}
	if c.Autopilot.RateHz == 0 {
		c.Autopilot.RateHz = 1
	}
	if c.Autopilot.RateHz < 0 {
		return errors.New("autopilot.rate_hz must be > 0")
	}

	if c.Stats.Interval < 0 {
		return errors.New("stats.interval must be >= 0")
	}
	if c.Stats.Interval > 0 && c.Stats.Interval < time.Second {
		return errors.New("stats.interval must be at least 1s")
	}
	return nil
}

func (s *ServerConfig) validate() error {
	if s.Bind == "" {
		s.Bind = "0.0.0.0"
	}
	if s.TCPPort < 0 || s.TCPPort > 65535 {
		return fmt.Errorf("server.tcp_port must be in 0..65535 (got %d)", s.TCPPort)
	}
	if s.WSPort < 0 || s.WSPort > 65535 {
		return fmt.Errorf("server.ws_port must be in 0..65535 (got %d)", s.WSPort)
	}
	if s.TCPPort != 0 && s.TCPPort == s.WSPort {
		return errors.New("server.ws_port must differ from server.tcp_port")
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 2 * time.Second
	}
	if s.ClientBuffer <= 0 {
		s.ClientBuffer = 256
	}
	return nil
}
