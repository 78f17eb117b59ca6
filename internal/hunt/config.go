package hunt

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// GuildConfig holds the tunables for one guild's hunt session. Values are
// fixed for the lifetime of a session; changing them requires a restart of
// that guild's hunt.
type GuildConfig struct {
	SpawnMin     time.Duration // lower bound of the jittered spawn interval
	SpawnMax     time.Duration
	GridWidth    int
	GridHeight   int
	ItemLifetime time.Duration // unclaimed items expire after this long
	RetryAfter   time.Duration // re-check interval when the grid is full
	MaxBackoff   float64       // interval multiplier as the grid approaches full
	Hours        Window
	Search       SearchOdds
}

// SearchOdds tunes the /search draw. Discovery odds scale with how far a
// member trails the guild leader; spotting odds scale the other way, so
// front-runners turn up fewer quiet eggs and get seen more often.
type SearchOdds struct {
	DiscoverMin    float64
	DiscoverMax    float64
	DiscoverShield int // at or below this count a search always discovers
	SpotMin        float64
	SpotMax        float64
	SpotShield     int // at or below this count a finder is never spotted
}

// Luck maps a member's standing against the guild leader onto [0,1]: 1 for
// an empty basket, 0 for the leader.
func Luck(count, leader int) float64 {
	if count == 0 || leader == 0 {
		return 1
	}
	return 1 - float64(count)/float64(leader)
}

// Discover returns the probability that a search turns up an egg.
func (o SearchOdds) Discover(count int, luck float64) float64 {
	if count <= o.DiscoverShield {
		return 1
	}
	return (o.DiscoverMax-o.DiscoverMin)*luck + o.DiscoverMin
}

// Spot returns the probability that a successful finder is seen, putting
// the egg up for grabs instead of in their basket.
func (o SearchOdds) Spot(count int, luck float64) float64 {
	if count <= o.SpotShield {
		return 0
	}
	return (o.SpotMax-o.SpotMin)*(1-luck) + o.SpotMin
}

func (c GuildConfig) validate(scope string) error {
	if c.SpawnMin <= 0 || c.SpawnMax < c.SpawnMin {
		return fmt.Errorf("%s: spawn interval bounds %v..%v are invalid", scope, c.SpawnMin, c.SpawnMax)
	}
	if c.GridWidth < 1 || c.GridHeight < 1 {
		return fmt.Errorf("%s: grid %dx%d is empty", scope, c.GridWidth, c.GridHeight)
	}
	if c.ItemLifetime <= 0 {
		return fmt.Errorf("%s: item lifetime must be positive", scope)
	}
	if c.RetryAfter <= 0 {
		return fmt.Errorf("%s: retry interval must be positive", scope)
	}
	if c.MaxBackoff < 1 {
		return fmt.Errorf("%s: max backoff %v is below 1", scope, c.MaxBackoff)
	}
	if c.Hours.Start < 0 || c.Hours.Start >= 24*60 || c.Hours.End < 0 || c.Hours.End >= 24*60 {
		return fmt.Errorf("%s: active hours outside 00:00..23:59", scope)
	}
	s := c.Search
	if s.DiscoverMin < 0 || s.DiscoverMax < s.DiscoverMin || s.DiscoverMax > 1 {
		return fmt.Errorf("%s: search discovery odds %v..%v are invalid", scope, s.DiscoverMin, s.DiscoverMax)
	}
	if s.SpotMin < 0 || s.SpotMax < s.SpotMin || s.SpotMax > 1 {
		return fmt.Errorf("%s: search spotting odds %v..%v are invalid", scope, s.SpotMin, s.SpotMax)
	}
	if s.DiscoverShield < 0 || s.SpotShield < 0 {
		return fmt.Errorf("%s: search shields must not be negative", scope)
	}
	return nil
}

type guildConfigJSON struct {
	SpawnMinSeconds     *int     `json:"spawnMinSeconds"`
	SpawnMaxSeconds     *int     `json:"spawnMaxSeconds"`
	GridWidth           *int     `json:"gridWidth"`
	GridHeight          *int     `json:"gridHeight"`
	ItemLifetimeSeconds *int     `json:"itemLifetimeSeconds"`
	RetryAfterSeconds   *int     `json:"retryAfterSeconds"`
	MaxBackoff          *float64 `json:"maxBackoff"`
	ActiveStartMinute   *int     `json:"activeStartMinute"`
	ActiveEndMinute     *int     `json:"activeEndMinute"`

	SearchDiscoverMin    *float64 `json:"searchDiscoverMin"`
	SearchDiscoverMax    *float64 `json:"searchDiscoverMax"`
	SearchDiscoverShield *int     `json:"searchDiscoverShield"`
	SearchSpotMin        *float64 `json:"searchSpotMin"`
	SearchSpotMax        *float64 `json:"searchSpotMax"`
	SearchSpotShield     *int     `json:"searchSpotShield"`
}

type configFileJSON struct {
	Default guildConfigJSON            `json:"default"`
	Guilds  map[string]guildConfigJSON `json:"guilds"`
}

// Configs resolves per-guild tunables, falling back to a shared default for
// guilds with no explicit entry.
type Configs struct {
	def    GuildConfig
	guilds map[string]GuildConfig
}

// DefaultConfig mirrors the stock settings shipped in the sample config file.
func DefaultConfig() GuildConfig {
	return GuildConfig{
		SpawnMin:     5 * time.Minute,
		SpawnMax:     20 * time.Minute,
		GridWidth:    6,
		GridHeight:   4,
		ItemLifetime: 10 * time.Minute,
		RetryAfter:   30 * time.Second,
		MaxBackoff:   4.0,
		Hours:        Window{Start: 9 * 60, End: 23 * 60},
		Search: SearchOdds{
			DiscoverMin:    0.6,
			DiscoverMax:    0.9,
			DiscoverShield: 5,
			SpotMin:        0.33,
			SpotMax:        0.66,
			SpotShield:     10,
		},
	}
}

// NewConfigs builds a resolver around a fixed default with no overrides.
func NewConfigs(def GuildConfig) (*Configs, error) {
	if err := def.validate("default"); err != nil {
		return nil, err
	}
	return &Configs{def: def, guilds: map[string]GuildConfig{}}, nil
}

// LoadConfigs reads the per-guild tunables file. Missing fields inherit from
// the file's default block, which itself inherits from DefaultConfig.
func LoadConfigs(path string) (*Configs, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file configFileJSON
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("invalid guild config file: %w", err)
	}

	def := apply(DefaultConfig(), file.Default)
	if err := def.validate("default"); err != nil {
		return nil, err
	}

	guilds := make(map[string]GuildConfig, len(file.Guilds))
	for guildID, overrides := range file.Guilds {
		if guildID == "" {
			return nil, fmt.Errorf("empty guild id in config file")
		}
		cfg := apply(def, overrides)
		if err := cfg.validate("guild "+guildID); err != nil {
			return nil, err
		}
		guilds[guildID] = cfg
	}

	return &Configs{def: def, guilds: guilds}, nil
}

func apply(base GuildConfig, j guildConfigJSON) GuildConfig {
	if j.SpawnMinSeconds != nil {
		base.SpawnMin = time.Duration(*j.SpawnMinSeconds) * time.Second
	}
	if j.SpawnMaxSeconds != nil {
		base.SpawnMax = time.Duration(*j.SpawnMaxSeconds) * time.Second
	}
	if j.GridWidth != nil {
		base.GridWidth = *j.GridWidth
	}
	if j.GridHeight != nil {
		base.GridHeight = *j.GridHeight
	}
	if j.ItemLifetimeSeconds != nil {
		base.ItemLifetime = time.Duration(*j.ItemLifetimeSeconds) * time.Second
	}
	if j.RetryAfterSeconds != nil {
		base.RetryAfter = time.Duration(*j.RetryAfterSeconds) * time.Second
	}
	if j.MaxBackoff != nil {
		base.MaxBackoff = *j.MaxBackoff
	}
	if j.ActiveStartMinute != nil {
		base.Hours.Start = *j.ActiveStartMinute
	}
	if j.ActiveEndMinute != nil {
		base.Hours.End = *j.ActiveEndMinute
	}
	if j.SearchDiscoverMin != nil {
		base.Search.DiscoverMin = *j.SearchDiscoverMin
	}
	if j.SearchDiscoverMax != nil {
		base.Search.DiscoverMax = *j.SearchDiscoverMax
	}
	if j.SearchDiscoverShield != nil {
		base.Search.DiscoverShield = *j.SearchDiscoverShield
	}
	if j.SearchSpotMin != nil {
		base.Search.SpotMin = *j.SearchSpotMin
	}
	if j.SearchSpotMax != nil {
		base.Search.SpotMax = *j.SearchSpotMax
	}
	if j.SearchSpotShield != nil {
		base.Search.SpotShield = *j.SearchSpotShield
	}
	return base
}

// For returns the effective config for a guild.
func (c *Configs) For(guildID string) GuildConfig {
	if cfg, ok := c.guilds[guildID]; ok {
		return cfg
	}
	return c.def
}
