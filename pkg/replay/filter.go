package replay

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"gorm.io/gorm"
)

// EventFilter is a parsed security-event filter expression: one or more
// conditions joined with "and", for example
//
//	type = "REPLAY_ATTACK" and severity <= 2
//
// Fields: type, severity, source, tenant. String fields accept = and !=;
// severity accepts the full comparison set.
type EventFilter struct {
	Conds []*FilterCond `parser:"@@ ( 'and' @@ )*"`
}

// FilterCond is a single field comparison.
type FilterCond struct {
	Field string  `parser:"@Ident"`
	Op    string  `parser:"@( '<' '=' | '>' '=' | '!' '=' | '<' | '>' | '=' )"`
	Str   *string `parser:"( @String"`
	Num   *int    `parser:"| @Int )"`
}

var filterParser = participle.MustBuild[EventFilter](
	participle.Unquote("String"),
)

// filterColumns maps filter fields to event log columns. The whitelist is
// what makes interpolating the field into SQL safe.
var filterColumns = map[string]string{
	"type":     "event_type",
	"severity": "severity",
	"source":   "source",
	"tenant":   "tenant_id",
}

// ParseEventFilter parses a filter expression. Empty input yields a nil
// filter, which matches everything.
func ParseEventFilter(expr string) (*EventFilter, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	filter, err := filterParser.ParseString("", expr)
	if err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}
	for _, cond := range filter.Conds {
		if err := cond.validate(); err != nil {
			return nil, err
		}
	}
	return filter, nil
}

func (c *FilterCond) validate() error {
	if _, ok := filterColumns[c.Field]; !ok {
		return fmt.Errorf("unknown filter field %q", c.Field)
	}
	if c.Field == "severity" {
		if c.Num == nil {
			return fmt.Errorf("severity requires an integer value")
		}
		return nil
	}
	if c.Str == nil {
		return fmt.Errorf("field %q requires a quoted string value", c.Field)
	}
	if c.Op != "=" && c.Op != "!=" {
		return fmt.Errorf("field %q only supports = and !=", c.Field)
	}
	return nil
}

// Apply adds the filter's conditions to the query.
func (f *EventFilter) Apply(q *gorm.DB) *gorm.DB {
	for _, cond := range f.Conds {
		column := filterColumns[cond.Field]
		op := cond.Op
		if op == "!=" {
			op = "<>"
		}
		if cond.Num != nil {
			q = q.Where(fmt.Sprintf("%s %s ?", column, op), *cond.Num)
		} else {
			q = q.Where(fmt.Sprintf("%s %s ?", column, op), *cond.Str)
		}
	}
	return q
}
