package audit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Criterion is one rubric dimension reviewers score. Security criteria
// are eligible for the security override; critical criteria escalate
// the verdict when they end up in dissent.
type Criterion struct {
	ID       string  `yaml:"id" json:"id"`
	Name     string  `yaml:"name" json:"name"`
	Weight   float64 `yaml:"weight,omitempty" json:"weight,omitempty"`
	Security bool    `yaml:"security,omitempty" json:"security,omitempty"`
	Critical bool    `yaml:"critical,omitempty" json:"critical,omitempty"`
}

// PersonaConfig declares one reviewer persona and its synthesis
// weights. Weights maps criterion ID to a weight overriding
// DefaultWeight, so a technically-biased persona can count more on
// functionality criteria.
type PersonaConfig struct {
	Name          string             `yaml:"name" json:"name"`
	DefaultWeight float64            `yaml:"default_weight" json:"default_weight"`
	Weights       map[string]float64 `yaml:"weights,omitempty" json:"weights,omitempty"`
}

// Thresholds holds every tunable decision boundary of a run. None of
// them are hard-coded elsewhere; tests and callers override as needed.
type Thresholds struct {
	MinFindings        int     `yaml:"min_findings" json:"min_findings"`
	MinSources         int     `yaml:"min_sources" json:"min_sources"`
	ConfidenceFloor    float64 `yaml:"confidence_floor" json:"confidence_floor"`
	MaxOpinionRetries  int     `yaml:"max_opinion_retries" json:"max_opinion_retries"`
	DissentSpread      float64 `yaml:"dissent_spread" json:"dissent_spread"`
	ReevalVariance     float64 `yaml:"reeval_variance" json:"reeval_variance"`
	SecurityFailScore  float64 `yaml:"security_fail_score" json:"security_fail_score"`
	SecurityConfidence float64 `yaml:"security_confidence" json:"security_confidence"`
	PassThreshold      float64 `yaml:"pass_threshold" json:"pass_threshold"`
}

// Duration decodes YAML duration strings ("45s", "2m") into a
// time.Duration; yaml.v3 on its own only accepts integer nanoseconds.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("audit: duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full run configuration.
type Config struct {
	ScoreMin    float64         `yaml:"score_min" json:"score_min"`
	ScoreMax    float64         `yaml:"score_max" json:"score_max"`
	StepTimeout Duration        `yaml:"step_timeout" json:"step_timeout"`
	Workers     int             `yaml:"workers" json:"workers"`
	Thresholds  Thresholds      `yaml:"thresholds" json:"thresholds"`
	Criteria    []Criterion     `yaml:"criteria" json:"criteria"`
	Personas    []PersonaConfig `yaml:"personas" json:"personas"`
}

// DefaultConfig returns the standard rubric and conservative thresholds
// on a 1-5 score scale.
func DefaultConfig() Config {
	return Config{
		ScoreMin:    1,
		ScoreMax:    5,
		StepTimeout: Duration(45 * time.Second),
		Workers:     3,
		Thresholds: Thresholds{
			MinFindings:        3,
			MinSources:         2,
			ConfidenceFloor:    0.4,
			MaxOpinionRetries:  2,
			DissentSpread:      2,
			ReevalVariance:     2,
			SecurityFailScore:  2,
			SecurityConfidence: 0.8,
			PassThreshold:      3,
		},
		Criteria: DefaultCriteria(),
		Personas: DefaultPersonas(),
	}
}

// DefaultCriteria is the built-in rubric used when no rubric file is
// supplied.
func DefaultCriteria() []Criterion {
	return []Criterion{
		{ID: "git_forensic_analysis", Name: "Git Forensic Analysis"},
		{ID: "state_management_rigor", Name: "State Management Rigor"},
		{ID: "graph_orchestration", Name: "Graph Orchestration Architecture", Critical: true},
		{ID: "safe_tool_engineering", Name: "Safe Tool Engineering", Security: true},
		{ID: "structured_output_enforcement", Name: "Structured Output Enforcement"},
		{ID: "judicial_nuance", Name: "Judicial Nuance and Dialectics"},
		{ID: "synthesis_rigor", Name: "Deterministic Synthesis Rigor"},
		{ID: "theoretical_depth", Name: "Theoretical Depth"},
		{ID: "report_accuracy", Name: "Report Accuracy"},
		{ID: "diagram_analysis", Name: "Architectural Diagram Analysis"},
	}
}

// DefaultPersonas configures the three-seat review panel. The TechLead
// seat carries extra weight on the architecture criterion; the
// Prosecutor seat carries extra weight on the security criterion.
func DefaultPersonas() []PersonaConfig {
	return []PersonaConfig{
		{Name: "Defense", DefaultWeight: 1},
		{Name: "Prosecutor", DefaultWeight: 1, Weights: map[string]float64{
			"safe_tool_engineering": 1.5,
		}},
		{Name: "TechLead", DefaultWeight: 1, Weights: map[string]float64{
			"graph_orchestration": 1.5,
		}},
	}
}

// Validate checks the structural requirements the pipeline depends on.
func (c Config) Validate() error {
	if c.ScoreMax <= c.ScoreMin {
		return fmt.Errorf("audit: score range [%v, %v] is empty", c.ScoreMin, c.ScoreMax)
	}
	if len(c.Criteria) == 0 {
		return fmt.Errorf("audit: no criteria configured")
	}
	if len(c.Personas) == 0 {
		return fmt.Errorf("audit: no personas configured")
	}
	seen := make(map[string]bool, len(c.Criteria))
	for _, crit := range c.Criteria {
		if crit.ID == "" {
			return fmt.Errorf("audit: criterion with empty id")
		}
		if seen[crit.ID] {
			return fmt.Errorf("audit: duplicate criterion %q", crit.ID)
		}
		seen[crit.ID] = true
	}
	return nil
}

// CriterionWeight returns the configured weight, defaulting to 1.
func (c Criterion) CriterionWeight() float64 {
	if c.Weight > 0 {
		return c.Weight
	}
	return 1
}

// WeightFor returns the persona's synthesis weight for a criterion.
func (p PersonaConfig) WeightFor(criterionID string) float64 {
	if w, ok := p.Weights[criterionID]; ok && w > 0 {
		return w
	}
	if p.DefaultWeight > 0 {
		return p.DefaultWeight
	}
	return 1
}

// LoadConfig reads a YAML config file over DefaultConfig, so partial
// files only override what they mention.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type rubricFile struct {
	Dimensions []Criterion `yaml:"dimensions" json:"dimensions"`
}

// LoadRubric reads rubric dimensions from a YAML (or JSON, which YAML
// subsumes) file of the form {dimensions: [{id, name, ...}]}.
func LoadRubric(path string) ([]Criterion, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rubric: %w", err)
	}
	var f rubricFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse rubric %s: %w", path, err)
	}
	if len(f.Dimensions) == 0 {
		return nil, fmt.Errorf("rubric %s declares no dimensions", path)
	}
	return f.Dimensions, nil
}
