package search

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/fhirstack/fhirstack/internal/platform/fhir"
)

// Operator is the comparison applied by a single search filter.
type Operator string

const (
	OpEquals              Operator = "eq"
	OpNotEquals           Operator = "ne"
	OpContains            Operator = "contains"
	OpExact               Operator = "exact"
	OpText                Operator = "text"
	OpMissing             Operator = "missing"
	OpGreaterThan         Operator = "gt"
	OpGreaterThanOrEquals Operator = "ge"
	OpLessThan            Operator = "lt"
	OpLessThanOrEquals    Operator = "le"
	OpStartsAfter         Operator = "sa"
	OpEndsBefore          Operator = "eb"
)

// Filter is one search criterion. A comma-separated Value is an OR list;
// repeated Filters on the same code are AND'd by the compiler.
type Filter struct {
	Code     string
	Operator Operator
	Value    string
}

// SortRule orders search results by one search parameter.
type SortRule struct {
	Code       string
	Descending bool
}

// TotalMode controls whether and how a total count is computed.
type TotalMode string

const (
	TotalNone     TotalMode = "none"
	TotalEstimate TotalMode = "estimate"
	TotalAccurate TotalMode = "accurate"
)

// SearchRequest is the structured form of a FHIR search, produced by the
// HTTP layer and consumed by the repository and compiler.
type SearchRequest struct {
	ResourceType string
	Filters      []Filter
	Sort         []SortRule
	Count        int
	CountSet     bool
	Offset       int
	Total        TotalMode
}

// paramModifiers maps the :modifier suffix of a query key to an operator.
var paramModifiers = map[string]Operator{
	"missing":  OpMissing,
	"not":      OpNotEquals,
	"exact":    OpExact,
	"contains": OpContains,
	"text":     OpText,
}

// valuePrefixes are the FHIR comparison prefixes on date/number/quantity
// values (e.g. "gt2024-01-01").
var valuePrefixes = map[string]Operator{
	"gt": OpGreaterThan,
	"ge": OpGreaterThanOrEquals,
	"lt": OpLessThan,
	"le": OpLessThanOrEquals,
	"sa": OpStartsAfter,
	"eb": OpEndsBefore,
	"ne": OpNotEquals,
	"eq": OpEquals,
}

// ParseQuery converts query-string parameters into a SearchRequest.
// Control parameters (_count, _offset, _sort, _total) are folded into the
// request; everything else becomes a Filter. Repeated keys produce
// repeated Filters (AND semantics).
func ParseQuery(resourceType string, values url.Values) (*SearchRequest, error) {
	req := &SearchRequest{
		ResourceType: resourceType,
		Total:        TotalNone,
	}

	for key, vals := range values {
		for _, val := range vals {
			switch key {
			case "_count":
				n, err := strconv.Atoi(val)
				if err != nil || n < 0 {
					return nil, fhir.ErrorInvalid("Invalid _count value: " + val)
				}
				req.Count = n
				req.CountSet = true
			case "_offset":
				n, err := strconv.Atoi(val)
				if err != nil || n < 0 {
					return nil, fhir.ErrorInvalid("Invalid _offset value: " + val)
				}
				req.Offset = n
			case "_sort":
				req.Sort = append(req.Sort, parseSortRules(val)...)
			case "_total":
				mode, err := parseTotalMode(val)
				if err != nil {
					return nil, err
				}
				req.Total = mode
			default:
				req.Filters = append(req.Filters, parseFilter(key, val))
			}
		}
	}

	return req, nil
}

// parseFilter splits "code:modifier" and the value prefix into a Filter.
func parseFilter(key, value string) Filter {
	code := key
	op := OpEquals

	if idx := strings.Index(key, ":"); idx >= 0 {
		modifier := key[idx+1:]
		if mod, ok := paramModifiers[modifier]; ok {
			code = key[:idx]
			op = mod
		}
	}

	// Value prefixes apply only when no modifier was given; a modifier
	// such as :exact takes the value verbatim.
	if op == OpEquals && len(value) > 2 {
		if prefix, ok := valuePrefixes[value[:2]]; ok && isPrefixedValue(value) {
			op = prefix
			value = value[2:]
		}
	}

	return Filter{Code: code, Operator: op, Value: value}
}

// isPrefixedValue guards against treating a bare token such as "gtx" or
// "gt-codes" as a prefixed comparison: the remainder must begin with a
// digit, as dates, numbers, and quantities do. Token codes routinely
// contain hyphens, so a leading "-" stays part of the value.
func isPrefixedValue(value string) bool {
	c := value[2]
	return c >= '0' && c <= '9'
}

func parseSortRules(val string) []SortRule {
	var rules []SortRule
	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		desc := false
		if strings.HasPrefix(field, "-") {
			desc = true
			field = field[1:]
		}
		rules = append(rules, SortRule{Code: field, Descending: desc})
	}
	return rules
}

func parseTotalMode(val string) (TotalMode, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "", "none":
		return TotalNone, nil
	case "estimate":
		return TotalEstimate, nil
	case "accurate":
		return TotalAccurate, nil
	default:
		return TotalNone, fhir.ErrorInvalid("Invalid _total value: " + val)
	}
}
