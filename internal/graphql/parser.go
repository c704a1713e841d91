package graphql

import (
	"fmt"
	"strings"
	"unicode"
)

// selection is one parsed field with optional arguments and a nested
// selection set.
type selection struct {
	Name   string
	Args   map[string]string
	Fields []selection
}

// parseQuery parses a GraphQL query body into its top-level selections.
// The grammar is the subset the FHIR $graphql operation needs: selection
// sets, string/number/variable arguments, and nesting up to MaxDepth.
func parseQuery(query string) ([]selection, error) {
	p := &parser{input: strings.TrimSpace(query)}
	if p.input == "" {
		return nil, fmt.Errorf("empty query")
	}
	// optional "query" / "query Name" prefix
	if name := p.peekIdent(); name == "query" {
		p.readIdent()
		if p.peek() != '{' && p.peek() != '(' {
			p.readIdent()
		}
	}
	selections, err := p.parseSelectionSet(1)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("unexpected trailing input at offset %d", p.pos)
	}
	return selections, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) parseSelectionSet(depth int) ([]selection, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("query exceeds maximum depth of %d", MaxDepth)
	}
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	var selections []selection
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			break
		}
		name := p.readIdent()
		if name == "" {
			return nil, fmt.Errorf("expected field name at offset %d", p.pos)
		}
		sel := selection{Name: name}
		p.skipSpace()
		if p.peek() == '(' {
			args, err := p.parseArguments()
			if err != nil {
				return nil, err
			}
			sel.Args = args
		}
		p.skipSpace()
		if p.peek() == '{' {
			fields, err := p.parseSelectionSet(depth + 1)
			if err != nil {
				return nil, err
			}
			sel.Fields = fields
		}
		selections = append(selections, sel)
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
		}
	}
	if len(selections) == 0 {
		return nil, fmt.Errorf("empty selection set")
	}
	return selections, nil
}

func (p *parser) parseArguments() (map[string]string, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	args := make(map[string]string)
	for {
		p.skipSpace()
		if p.peek() == ')' {
			p.pos++
			return args, nil
		}
		key := p.readIdent()
		if key == "" {
			return nil, fmt.Errorf("expected argument name at offset %d", p.pos)
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		p.skipSpace()
		value, err := p.readValue()
		if err != nil {
			return nil, err
		}
		args[key] = value
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
		}
	}
}

func (p *parser) readValue() (string, error) {
	if p.peek() == '"' {
		p.pos++
		start := p.pos
		for p.pos < len(p.input) && p.input[p.pos] != '"' {
			p.pos++
		}
		if p.pos >= len(p.input) {
			return "", fmt.Errorf("unterminated string at offset %d", start)
		}
		value := p.input[start:p.pos]
		p.pos++
		return value, nil
	}
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == ',' || c == ')' || unicode.IsSpace(rune(c)) {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("expected value at offset %d", start)
	}
	return p.input[start:p.pos], nil
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) peekIdent() string {
	save := p.pos
	ident := p.readIdent()
	p.pos = save
	return ident
}

func (p *parser) readIdent() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if !unicode.IsLetter(rune(c)) && !unicode.IsDigit(rune(c)) && c != '_' && c != '-' {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.input) || p.input[p.pos] != c {
		return fmt.Errorf("expected %q at offset %d", string(c), p.pos)
	}
	p.pos++
	return nil
}
