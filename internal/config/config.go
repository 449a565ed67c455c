package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// SensorNode is one physical AirGradient sensor backing a zone.
type SensorNode struct {
	LocationID  int    `yaml:"location_id"`
	DisplayName string `yaml:"display_name"`
}

// Zone is one configured geographic zone. Zones without sensor nodes are
// served from satellite estimates only. All nodes of a zone share the token
// named by TokenEnv.
type Zone struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Lat         float64      `yaml:"lat"`
	Lon         float64      `yaml:"lon"`
	ZoneType    string       `yaml:"zone_type"`
	TokenEnv    string       `yaml:"token_env"`
	SensorNodes []SensorNode `yaml:"sensor_nodes"`
}

// Token resolves the zone's API token from the environment.
func (z Zone) Token() string {
	if z.TokenEnv == "" {
		return ""
	}
	return os.Getenv(z.TokenEnv)
}

var (
	instance *Config
	once     sync.Once
)

// Config - can/will add more later
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Cache struct {
		TTLSeconds     int `yaml:"ttl_seconds"`
		RefreshPauseMS int `yaml:"refresh_pause_ms"`
	} `yaml:"cache"`
	Calc struct {
		Mode            string `yaml:"mode"`
		BreakpointsFile string `yaml:"breakpoints_file"`
	} `yaml:"calc"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Stream   string `yaml:"stream"`
	} `yaml:"redis"`
	Zones []Zone `yaml:"zones"`
}

func Load(configPath string) (*Config, error) {
	var err error
	once.Do(func() {
		instance = &Config{}

		data, readErr := os.ReadFile(configPath)
		if readErr != nil {
			err = fmt.Errorf("failed to read config file %s: %w", configPath, readErr)
			return
		}

		if parseErr := yaml.Unmarshal(data, instance); parseErr != nil {
			err = fmt.Errorf("failed to parse config: %w", parseErr)
			return
		}

		instance.applyDefaults()

		if validateErr := instance.validate(); validateErr != nil {
			err = validateErr
			return
		}
	})

	return instance, err
}

func Get() *Config {
	if instance == nil {
		panic("config not loaded - call config.Load() first")
	}
	return instance
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 900
	}
	if c.Cache.RefreshPauseMS == 0 {
		c.Cache.RefreshPauseMS = 1000
	}
	if c.Calc.Mode == "" {
		c.Calc.Mode = "static"
	}
	if c.Calc.BreakpointsFile == "" {
		c.Calc.BreakpointsFile = "data/breakpoints.yaml"
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "zone_snapshots"
	}
}

func (c *Config) validate() error {
	if len(c.Zones) == 0 {
		return fmt.Errorf("zones cannot be empty")
	}
	seen := make(map[string]bool, len(c.Zones))
	for _, z := range c.Zones {
		if z.ID == "" {
			return fmt.Errorf("zone with empty id")
		}
		if seen[z.ID] {
			return fmt.Errorf("duplicate zone id %q", z.ID)
		}
		seen[z.ID] = true
		if len(z.SensorNodes) > 0 && z.TokenEnv == "" {
			return fmt.Errorf("zone %q has sensor nodes but no token_env", z.ID)
		}
	}
	if c.Calc.Mode != "static" && c.Calc.Mode != "temperature_adjusted" {
		return fmt.Errorf("calc.mode must be static or temperature_adjusted, got %q", c.Calc.Mode)
	}
	return nil
}

// ZoneByID looks up a configured zone.
func (c *Config) ZoneByID(id string) (Zone, bool) {
	for _, z := range c.Zones {
		if z.ID == id {
			return z, true
		}
	}
	return Zone{}, false
}
