package tuning

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed tuning.schema.json
var schemaJSON string

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	CellCount     int     `yaml:"cell_count" json:"cell_count"`
	MapSize       float64 `yaml:"map_size" json:"map_size"`
	CellRadius    float64 `yaml:"cell_radius" json:"cell_radius"`
	CellEatFactor float64 `yaml:"cell_eat_factor" json:"cell_eat_factor"`
	GrowthPerCell float64 `yaml:"growth_per_cell" json:"growth_per_cell"`

	PlayerSpawnRadius float64    `yaml:"player_spawn_radius" json:"player_spawn_radius"`
	PlayerSpawn       [2]float64 `yaml:"player_spawn" json:"player_spawn"`
	EatMargin         float64    `yaml:"eat_margin" json:"eat_margin"`

	Username Username `yaml:"username" json:"username"`
	Session  Session  `yaml:"session" json:"session"`
}

type Username struct {
	MinLen int `yaml:"min_len" json:"min_len"`
	MaxLen int `yaml:"max_len" json:"max_len"`
}

type Session struct {
	OutboxQueue       int `yaml:"outbox_queue" json:"outbox_queue"`
	WriteTimeoutMs    int `yaml:"write_timeout_ms" json:"write_timeout_ms"`
	ReadIdleTimeoutMs int `yaml:"read_idle_timeout_ms" json:"read_idle_timeout_ms"`
}

func (s Session) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMs) * time.Millisecond
}

// ReadIdleTimeout is zero when reads are unbounded.
func (s Session) ReadIdleTimeout() time.Duration {
	return time.Duration(s.ReadIdleTimeoutMs) * time.Millisecond
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:   "1.0",
		CellCount:         2000,
		MapSize:           8000,
		CellRadius:        10,
		CellEatFactor:     0.9,
		GrowthPerCell:     0.5,
		PlayerSpawnRadius: 35,
		PlayerSpawn:       [2]float64{0, 0},
		EatMargin:         1.15,
		Username:          Username{MinLen: 1, MaxLen: 50},
		Session: Session{
			OutboxQueue:    1024,
			WriteTimeoutMs: 5000,
		},
	}
}

// Load reads, schema-checks and normalizes a tuning.yaml. Absent fields keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := checkSchema(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func checkSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	s, err := jsonschema.CompileString("tuning.schema.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return s.Validate(toJSONTypes(doc))
}

// toJSONTypes converts yaml.v3 decode output into the shapes jsonschema expects.
func toJSONTypes(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = toJSONTypes(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = toJSONTypes(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = toJSONTypes(e)
		}
		return out
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	default:
		return v
	}
}

func (t *Tuning) Normalize() {
	d := Defaults()
	t.ProtocolVersion = strings.TrimSpace(t.ProtocolVersion)
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.CellCount <= 0 {
		t.CellCount = d.CellCount
	}
	if t.MapSize <= 0 {
		t.MapSize = d.MapSize
	}
	if t.CellRadius <= 0 {
		t.CellRadius = d.CellRadius
	}
	if t.CellEatFactor <= 0 {
		t.CellEatFactor = d.CellEatFactor
	}
	if t.PlayerSpawnRadius <= 0 {
		t.PlayerSpawnRadius = d.PlayerSpawnRadius
	}
	if t.EatMargin <= 0 {
		t.EatMargin = d.EatMargin
	}
	if t.Username.MinLen <= 0 {
		t.Username.MinLen = d.Username.MinLen
	}
	if t.Username.MaxLen <= 0 {
		t.Username.MaxLen = d.Username.MaxLen
	}
	if t.Session.OutboxQueue <= 0 {
		t.Session.OutboxQueue = d.Session.OutboxQueue
	}
	if t.Session.WriteTimeoutMs <= 0 {
		t.Session.WriteTimeoutMs = d.Session.WriteTimeoutMs
	}
	if t.Session.ReadIdleTimeoutMs < 0 {
		t.Session.ReadIdleTimeoutMs = 0
	}
}

func (t Tuning) Validate() error {
	if t.Username.MinLen > t.Username.MaxLen {
		return fmt.Errorf("username.min_len=%d > username.max_len=%d", t.Username.MinLen, t.Username.MaxLen)
	}
	if t.EatMargin < 1 {
		return fmt.Errorf("eat_margin=%v must be >= 1", t.EatMargin)
	}
	if t.CellEatFactor > 1 {
		return fmt.Errorf("cell_eat_factor=%v must be <= 1", t.CellEatFactor)
	}
	return nil
}
