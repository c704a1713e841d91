package search

import (
	"fmt"
	"strings"

	"github.com/fhirstack/fhirstack/internal/platform/fhir"
)

// Clause helpers translate one filter into a SQL predicate against the
// resource table (aliased r). Each helper returns the predicate, its bound
// arguments, and the next free placeholder index.

// jsonbExpr renders the text extraction expression for a JSONB path.
func jsonbExpr(path []string) string {
	if len(path) == 1 {
		return fmt.Sprintf("r.content->>'%s'", path[0])
	}
	return fmt.Sprintf("r.content #>> '{%s}'", strings.Join(path, ","))
}

// jsonbField renders the jsonb (non-text) expression for a JSONB path.
func jsonbField(path []string) string {
	if len(path) == 1 {
		return fmt.Sprintf("r.content->'%s'", path[0])
	}
	return fmt.Sprintf("r.content #> '{%s}'", strings.Join(path, ","))
}

// lookupJoin renders the correlation predicate tying a lookup table row to
// the outer resource row.
func lookupJoin(alias string) string {
	return fmt.Sprintf("%s.resource_type = r.resource_type AND %s.resource_id = r.id", alias, alias)
}

// splitValues splits a comma separated filter value into its OR
// alternatives.
func splitValues(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitToken splits a token value into system and code. "sys|code" yields
// both, "|code" an empty system, a bare value only a code.
func splitToken(value string) (system string, code string, hasSystem bool) {
	if i := strings.Index(value, "|"); i >= 0 {
		return value[:i], value[i+1:], true
	}
	return "", value, false
}

// missingClause handles the :missing modifier for any parameter type.
func missingClause(impl ParamImpl, value string, startIdx int) (string, []interface{}, int, error) {
	wantMissing := value == "true"
	if !wantMissing && value != "false" {
		return "", nil, startIdx, fhir.ErrorInvalid(fmt.Sprintf("Invalid :missing value %q, expected true or false", value))
	}
	switch impl.Strategy {
	case StrategyColumn:
		if wantMissing {
			return fmt.Sprintf("r.%s IS NULL", impl.Column), nil, startIdx, nil
		}
		return fmt.Sprintf("r.%s IS NOT NULL", impl.Column), nil, startIdx, nil
	case StrategyLookup:
		sub := fmt.Sprintf("SELECT 1 FROM %s t WHERE %s AND t.param_code = $%d",
			impl.Table, lookupJoin("t"), startIdx)
		op := "EXISTS"
		if wantMissing {
			op = "NOT EXISTS"
		}
		return fmt.Sprintf("%s (%s)", op, sub), []interface{}{impl.Code}, startIdx + 1, nil
	default:
		if wantMissing {
			return fmt.Sprintf("%s IS NULL", jsonbExpr(impl.Path)), nil, startIdx, nil
		}
		return fmt.Sprintf("%s IS NOT NULL", jsonbExpr(impl.Path)), nil, startIdx, nil
	}
}

// tokenClause handles token parameters: columns, JSONB scalars, and the
// coding and identifier lookup tables. Comma alternatives OR together; the
// :not modifier inverts NULL-inclusively.
func tokenClause(impl ParamImpl, f Filter, startIdx int) (string, []interface{}, int, error) {
	values := splitValues(f.Value)
	if len(values) == 0 {
		return "", nil, startIdx, fhir.ErrorInvalid(fmt.Sprintf("Missing value for search parameter %q", f.Code))
	}
	idx := startIdx
	var args []interface{}

	switch impl.Strategy {
	case StrategyColumn, StrategyJSONB:
		expr := "r." + impl.Column
		if impl.Strategy == StrategyJSONB {
			expr = jsonbExpr(impl.Path)
		}
		alts := make([]string, 0, len(values))
		for _, v := range values {
			_, code, _ := splitToken(v)
			alts = append(alts, fmt.Sprintf("%s = $%d", expr, idx))
			args = append(args, code)
			idx++
		}
		clause := strings.Join(alts, " OR ")
		if len(alts) > 1 {
			clause = "(" + clause + ")"
		}
		if f.Operator == OpNotEquals {
			// IS DISTINCT FROM semantics: rows with a NULL value match.
			nots := make([]string, 0, len(values))
			for i := range values {
				nots = append(nots, fmt.Sprintf("%s IS DISTINCT FROM $%d", expr, startIdx+i))
			}
			clause = strings.Join(nots, " AND ")
			if len(nots) > 1 {
				clause = "(" + clause + ")"
			}
		}
		return clause, args, idx, nil

	case StrategyLookup:
		valueCol := "code"
		if impl.Table == TableIdentifier {
			valueCol = "value"
		}
		args = append(args, impl.Code)
		paramIdx := idx
		idx++
		alts := make([]string, 0, len(values))
		for _, v := range values {
			system, code, hasSystem := splitToken(v)
			if hasSystem {
				alts = append(alts, fmt.Sprintf("(t.system = $%d AND t.%s = $%d)", idx, valueCol, idx+1))
				args = append(args, system, code)
				idx += 2
			} else {
				alts = append(alts, fmt.Sprintf("t.%s = $%d", valueCol, idx))
				args = append(args, code)
				idx++
			}
		}
		cond := strings.Join(alts, " OR ")
		if len(alts) > 1 {
			cond = "(" + cond + ")"
		}
		sub := fmt.Sprintf("SELECT 1 FROM %s t WHERE %s AND t.param_code = $%d AND %s",
			impl.Table, lookupJoin("t"), paramIdx, cond)
		op := "EXISTS"
		if f.Operator == OpNotEquals {
			op = "NOT EXISTS"
		}
		return fmt.Sprintf("%s (%s)", op, sub), args, idx, nil
	}
	return "", nil, startIdx, fhir.ErrorInvalid(fmt.Sprintf("Unsupported token strategy for %q", f.Code))
}

// stringClause handles string parameters. The default match is a case
// insensitive prefix match, :contains matches anywhere, :exact matches the
// full value case sensitively. Array paths search each element of the
// JSON array.
func stringClause(impl ParamImpl, f Filter, startIdx int) (string, []interface{}, int, error) {
	values := splitValues(f.Value)
	if len(values) == 0 {
		return "", nil, startIdx, fhir.ErrorInvalid(fmt.Sprintf("Missing value for search parameter %q", f.Code))
	}
	idx := startIdx
	var args []interface{}
	alts := make([]string, 0, len(values))

	for _, v := range values {
		var cond string
		if impl.Array {
			var elCond string
			switch f.Operator {
			case OpExact:
				elCond = fmt.Sprintf("el #>> '{}' = $%d", idx)
			case OpContains, OpText:
				elCond = fmt.Sprintf("el::text ILIKE '%%' || $%d || '%%'", idx)
			default:
				elCond = fmt.Sprintf("el::text ILIKE '%%' || $%d || '%%'", idx)
			}
			cond = fmt.Sprintf("EXISTS (SELECT 1 FROM jsonb_array_elements(%s) el WHERE %s)",
				jsonbField(impl.Path), elCond)
		} else {
			expr := jsonbExpr(impl.Path)
			switch f.Operator {
			case OpExact:
				cond = fmt.Sprintf("%s = $%d", expr, idx)
			case OpContains, OpText:
				cond = fmt.Sprintf("%s ILIKE '%%' || $%d || '%%'", expr, idx)
			default:
				cond = fmt.Sprintf("%s ILIKE $%d || '%%'", expr, idx)
			}
		}
		alts = append(alts, cond)
		args = append(args, v)
		idx++
	}
	clause := strings.Join(alts, " OR ")
	if len(alts) > 1 {
		clause = "(" + clause + ")"
	}
	return clause, args, idx, nil
}

// dateClause handles date parameters with prefixed range comparisons over
// the half-open interval of the search value.
func dateClause(impl ParamImpl, f Filter, startIdx int) (string, []interface{}, int, error) {
	values := splitValues(f.Value)
	if len(values) == 0 {
		return "", nil, startIdx, fhir.ErrorInvalid(fmt.Sprintf("Missing value for search parameter %q", f.Code))
	}
	expr := "r." + impl.Column
	if impl.Strategy != StrategyColumn {
		expr = fmt.Sprintf("(%s)::timestamptz", jsonbExpr(impl.Path))
	}
	idx := startIdx
	var args []interface{}
	alts := make([]string, 0, len(values))

	for _, v := range values {
		rng, err := ParseDateRange(v)
		if err != nil {
			return "", nil, startIdx, err
		}
		var cond string
		switch f.Operator {
		case OpGreaterThan, OpStartsAfter:
			cond = fmt.Sprintf("%s >= $%d", expr, idx)
			args = append(args, rng.End)
			idx++
		case OpGreaterThanOrEquals:
			cond = fmt.Sprintf("%s >= $%d", expr, idx)
			args = append(args, rng.Start)
			idx++
		case OpLessThan, OpEndsBefore:
			cond = fmt.Sprintf("%s < $%d", expr, idx)
			args = append(args, rng.Start)
			idx++
		case OpLessThanOrEquals:
			cond = fmt.Sprintf("%s < $%d", expr, idx)
			args = append(args, rng.End)
			idx++
		case OpNotEquals:
			// A resource without the value does not equal it.
			cond = fmt.Sprintf("(%s IS NULL OR %s < $%d OR %s >= $%d)", expr, expr, idx, expr, idx+1)
			args = append(args, rng.Start, rng.End)
			idx += 2
		default:
			cond = fmt.Sprintf("(%s >= $%d AND %s < $%d)", expr, idx, expr, idx+1)
			args = append(args, rng.Start, rng.End)
			idx += 2
		}
		alts = append(alts, cond)
	}
	clause := strings.Join(alts, " OR ")
	if len(alts) > 1 {
		clause = "(" + clause + ")"
	}
	return clause, args, idx, nil
}

// numberClause handles number and quantity parameters with simple scalar
// comparison on the numeric cast of the JSONB value.
func numberClause(impl ParamImpl, f Filter, startIdx int) (string, []interface{}, int, error) {
	values := splitValues(f.Value)
	if len(values) == 0 {
		return "", nil, startIdx, fhir.ErrorInvalid(fmt.Sprintf("Missing value for search parameter %q", f.Code))
	}
	expr := fmt.Sprintf("(%s)::numeric", jsonbExpr(impl.Path))
	var op string
	switch f.Operator {
	case OpGreaterThan, OpStartsAfter:
		op = ">"
	case OpGreaterThanOrEquals:
		op = ">="
	case OpLessThan, OpEndsBefore:
		op = "<"
	case OpLessThanOrEquals:
		op = "<="
	case OpNotEquals:
		op = "<>"
	default:
		op = "="
	}
	idx := startIdx
	var args []interface{}
	alts := make([]string, 0, len(values))
	for _, v := range values {
		cond := fmt.Sprintf("%s %s $%d", expr, op, idx)
		if f.Operator == OpNotEquals {
			// A resource without the value does not equal it.
			cond = fmt.Sprintf("(%s IS NULL OR %s)", jsonbExpr(impl.Path), cond)
		}
		alts = append(alts, cond)
		args = append(args, v)
		idx++
	}
	clause := strings.Join(alts, " OR ")
	if len(alts) > 1 {
		clause = "(" + clause + ")"
	}
	return clause, args, idx, nil
}

// referenceClause handles reference parameters against the reference
// lookup table. Values are either Type/id pairs or bare ids.
func referenceClause(impl ParamImpl, f Filter, startIdx int) (string, []interface{}, int, error) {
	values := splitValues(f.Value)
	if len(values) == 0 {
		return "", nil, startIdx, fhir.ErrorInvalid(fmt.Sprintf("Missing value for search parameter %q", f.Code))
	}
	idx := startIdx
	args := []interface{}{impl.Code}
	paramIdx := idx
	idx++
	alts := make([]string, 0, len(values))
	for _, v := range values {
		targetType, targetID := fhir.SplitReference(v)
		if targetType != "" {
			alts = append(alts, fmt.Sprintf("(t.target_type = $%d AND t.target_id = $%d)", idx, idx+1))
			args = append(args, targetType, targetID)
			idx += 2
		} else {
			alts = append(alts, fmt.Sprintf("t.target_id = $%d", idx))
			args = append(args, targetID)
			idx++
		}
	}
	cond := strings.Join(alts, " OR ")
	if len(alts) > 1 {
		cond = "(" + cond + ")"
	}
	sub := fmt.Sprintf("SELECT 1 FROM %s t WHERE %s AND t.param_code = $%d AND %s",
		impl.Table, lookupJoin("t"), paramIdx, cond)
	op := "EXISTS"
	if f.Operator == OpNotEquals {
		op = "NOT EXISTS"
	}
	return fmt.Sprintf("%s (%s)", op, sub), args, idx, nil
}

// uriClause handles uri parameters with exact equality.
func uriClause(impl ParamImpl, f Filter, startIdx int) (string, []interface{}, int, error) {
	values := splitValues(f.Value)
	if len(values) == 0 {
		return "", nil, startIdx, fhir.ErrorInvalid(fmt.Sprintf("Missing value for search parameter %q", f.Code))
	}
	expr := jsonbExpr(impl.Path)
	idx := startIdx
	var args []interface{}
	alts := make([]string, 0, len(values))
	for _, v := range values {
		alts = append(alts, fmt.Sprintf("%s = $%d", expr, idx))
		args = append(args, v)
		idx++
	}
	clause := strings.Join(alts, " OR ")
	if len(alts) > 1 {
		clause = "(" + clause + ")"
	}
	return clause, args, idx, nil
}
