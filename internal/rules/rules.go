// Package rules loads the per-route limit table the proxy enforces.
//
//	defaults:
//	  limit: 60
//	  period: 5m
//	routes:
//	  - pattern: /v1/search
//	    limit: 30
//	    period: 300
//	  - pattern: /v1/items/{id}
//	    name: item
//	    methods: [GET]
//
// Periods accept a Go duration string or a bare number of seconds. Route
// fields left empty inherit the defaults.
package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/windowguard/internal/guard"
	"github.com/keithlinneman/windowguard/internal/xerrors"
)

// ErrInvalidRules marks a rule table that cannot be loaded or enforced.
var ErrInvalidRules = errors.New("invalid rules")

// CatchAll is the pattern used when the table has no routes.
const CatchAll = "/*"

// Period is a window length decoded from YAML.
type Period time.Duration

func (p *Period) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: period must be a scalar", n.Line)
	}
	raw := strings.TrimSpace(n.Value)
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*p = Period(time.Duration(secs) * time.Second)
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: period %q: want seconds or a duration like 5m", n.Line, raw)
	}
	*p = Period(d)
	return nil
}

func (p Period) Duration() time.Duration { return time.Duration(p) }

type Defaults struct {
	Limit  int64  `yaml:"limit"`
	Period Period `yaml:"period"`
}

// Route binds a limit to a chi route pattern.
type Route struct {
	Pattern string   `yaml:"pattern"`
	Name    string   `yaml:"name"`
	Methods []string `yaml:"methods"`
	Limit   int64    `yaml:"limit"`
	Period  Period   `yaml:"period"`
}

type Table struct {
	Defaults Defaults `yaml:"defaults"`
	Routes   []Route  `yaml:"routes"`
}

// Load reads and validates a table. Missing defaults come from fallback.
func Load(path string, fallback Defaults) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read rules file %s", path)
	}
	t, err := Parse(data, fallback)
	if err != nil {
		return nil, xerrors.Wrapf(err, "rules file %s", path)
	}
	return t, nil
}

// Parse decodes YAML. Unknown keys are rejected so typos do not silently
// leave a route unlimited.
func Parse(data []byte, fallback Defaults) (*Table, error) {
	var t Table
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	t.applyDefaults(fallback)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Default builds the single catch-all table used without a rules file.
func Default(d Defaults) *Table {
	t := &Table{Defaults: d}
	t.applyDefaults(d)
	return t
}

func (t *Table) applyDefaults(fallback Defaults) {
	if t.Defaults.Limit == 0 {
		t.Defaults.Limit = fallback.Limit
	}
	if t.Defaults.Period == 0 {
		t.Defaults.Period = fallback.Period
	}
	if len(t.Routes) == 0 {
		t.Routes = []Route{{Pattern: CatchAll}}
	}
	for i := range t.Routes {
		r := &t.Routes[i]
		if r.Limit == 0 {
			r.Limit = t.Defaults.Limit
		}
		if r.Period == 0 {
			r.Period = t.Defaults.Period
		}
		for j, m := range r.Methods {
			r.Methods[j] = strings.ToUpper(strings.TrimSpace(m))
		}
	}
}

// Validate reports every problem in the table at once.
func (t *Table) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(t.Routes))
	for i, r := range t.Routes {
		if !strings.HasPrefix(r.Pattern, "/") {
			errs = append(errs, fmt.Errorf("route %d: pattern %q must start with /", i, r.Pattern))
		}
		for _, m := range r.Methods {
			if !validMethod(m) {
				errs = append(errs, fmt.Errorf("route %d: unknown method %q", i, m))
			}
		}
		key := r.Pattern + " " + strings.Join(r.Methods, ",")
		if seen[key] {
			errs = append(errs, fmt.Errorf("route %d: duplicate pattern %q", i, r.Pattern))
		}
		seen[key] = true
		if err := r.Rule().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("route %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRules, errors.Join(errs...))
	}
	return nil
}

// Rule converts the route into the guard's rule. Policy and OverLimit stay
// unset so the guard defaults apply.
func (r Route) Rule() guard.Rule {
	return guard.Rule{
		Name:   r.Name,
		Limit:  r.Limit,
		Period: r.Period.Duration(),
	}
}

var methods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
	http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace,
}

func validMethod(m string) bool { return slices.Contains(methods, m) }
