package conflict

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClockTime is a wall-clock time of day, to the minute.
type ClockTime struct {
	Hour   int
	Minute int
}

func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return ClockTime{}, fmt.Errorf("ParseClockTime: %w", err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) minutes() int { return c.Hour*60 + c.Minute }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Policy holds the tunable rules of the detector.
type Policy struct {
	BusinessStart ClockTime
	BusinessEnd   ClockTime
	MaxDuration   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		BusinessStart: ClockTime{Hour: 8},
		BusinessEnd:   ClockTime{Hour: 18},
		MaxDuration:   8 * time.Hour,
	}
}

// ParseBusinessHours reads a "08:00-18:00" window.
func ParseBusinessHours(s string) (ClockTime, ClockTime, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return ClockTime{}, ClockTime{}, fmt.Errorf("ParseBusinessHours: %q is not a HH:MM-HH:MM window", s)
	}
	start, err := ParseClockTime(from)
	if err != nil {
		return ClockTime{}, ClockTime{}, err
	}
	end, err := ParseClockTime(to)
	if err != nil {
		return ClockTime{}, ClockTime{}, err
	}
	if end.minutes() <= start.minutes() {
		return ClockTime{}, ClockTime{}, fmt.Errorf("ParseBusinessHours: window %q ends before it starts", s)
	}
	return start, end, nil
}

func (p Policy) BusinessHours() string {
	return p.BusinessStart.String() + "-" + p.BusinessEnd.String()
}

// OutsideBusinessHours judges start and end on their own location's wall
// clock. An event that crosses midnight is always outside.
func (p Policy) OutsideBusinessHours(start, end time.Time) bool {
	end = end.In(start.Location())
	open, close := p.BusinessStart.minutes(), p.BusinessEnd.minutes()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()
	if end.Second() > 0 || end.Nanosecond() > 0 {
		endMin++
	}
	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.Date()
	sameDay := y1 == y2 && m1 == m2 && d1 == d2
	return !sameDay || startMin < open || startMin >= close || endMin <= open || endMin > close
}

// Policies resolves the policy of a tenant, falling back to a default.
type Policies struct {
	Default Policy
	Tenants map[string]Policy
}

func NewPolicies(def Policy) *Policies {
	return &Policies{Default: def, Tenants: make(map[string]Policy)}
}

func (ps *Policies) For(tenantID string) Policy {
	if ps == nil {
		return DefaultPolicy()
	}
	if p, ok := ps.Tenants[tenantID]; ok {
		return p
	}
	return ps.Default
}

type policyEntry struct {
	BusinessHours string `yaml:"businessHours"`
	MaxDuration   string `yaml:"maxDuration"`
}

type policyFile struct {
	Default policyEntry            `yaml:"default"`
	Tenants map[string]policyEntry `yaml:"tenants"`
}

// LoadPolicies reads per-tenant overrides from a YAML file. Fields left
// blank inherit from base, then from the file's default entry.
func LoadPolicies(path string, base Policy) (*Policies, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadPolicies: %w", err)
	}
	return ParsePolicies(raw, base)
}

func ParsePolicies(raw []byte, base Policy) (*Policies, error) {
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("ParsePolicies: %w", err)
	}
	def, err := file.Default.apply(base)
	if err != nil {
		return nil, fmt.Errorf("ParsePolicies: default: %w", err)
	}
	ps := NewPolicies(def)
	for tenant, entry := range file.Tenants {
		p, err := entry.apply(def)
		if err != nil {
			return nil, fmt.Errorf("ParsePolicies: tenant %s: %w", tenant, err)
		}
		ps.Tenants[tenant] = p
	}
	return ps, nil
}

func (e policyEntry) apply(base Policy) (Policy, error) {
	p := base
	if e.BusinessHours != "" {
		start, end, err := ParseBusinessHours(e.BusinessHours)
		if err != nil {
			return Policy{}, err
		}
		p.BusinessStart, p.BusinessEnd = start, end
	}
	if e.MaxDuration != "" {
		d, err := time.ParseDuration(e.MaxDuration)
		if err != nil {
			return Policy{}, fmt.Errorf("max duration: %w", err)
		}
		p.MaxDuration = d
	}
	return p, nil
}
