package strategy

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Evaluator compiles entry/exit condition expressions against an indicator
// table and produces one boolean per date.
//
// Supported clauses:
//   - threshold comparison:  RSI < 30, VOL_annualized >= 0.2, DI_plus > DI_minus
//   - cross detection:       MACD.cross_up, MACD.cross_down (vs the *_signal column)
//   - event window:          WITHIN(event='ELECTION', window_days=20)
//
// Clauses combine with AND, OR and parentheses using normal boolean
// precedence. Clauses the evaluator does not recognize are neutral: they
// neither narrow an AND nor satisfy an OR. A clause that names an indicator
// column missing from the table is a hard error.
type Evaluator struct {
	table  *IndicatorTable
	events *EventTable
}

func NewEvaluator(table *IndicatorTable, events *EventTable) *Evaluator {
	return &Evaluator{table: table, events: events}
}

var (
	crossRe  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\.(cross_up|cross_down)(\s*==\s*[Tt]rue)?$`)
	cmpNumRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(<=|>=|==|<|>)\s*(-?\d+(?:\.\d+)?)$`)
	cmpColRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(<=|>=|==|<|>)\s*([A-Za-z_][A-Za-z0-9_]*)$`)
	withinRe = regexp.MustCompile(`^WITHIN\(\s*event\s*=\s*['"]([A-Za-z0-9_]+)['"]\s*,\s*window_days\s*=\s*(\d+)\s*\)$`)
)

// Evaluate returns one boolean per table row. An expression with no
// recognized clause matches every date.
func (e *Evaluator) Evaluate(expr string) ([]bool, error) {
	if e.table == nil || e.table.Len() == 0 {
		return nil, fmt.Errorf("indicator table is empty")
	}
	p := &parser{toks: tokenize(expr), ev: e}
	mask, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if mask == nil {
		mask = make([]bool, e.table.Len())
		for i := range mask {
			mask[i] = true
		}
	}
	return mask, nil
}

// ExtractFeatures returns the indicator and event names referenced by the
// expression, for explanation surfaces. It never evaluates anything.
func ExtractFeatures(expr string) []string {
	seen := make(map[string]struct{})
	for _, tok := range tokenize(expr) {
		if tok.kind != tokClause {
			continue
		}
		switch {
		case crossRe.MatchString(tok.text):
			seen[crossRe.FindStringSubmatch(tok.text)[1]] = struct{}{}
		case cmpNumRe.MatchString(tok.text):
			seen[cmpNumRe.FindStringSubmatch(tok.text)[1]] = struct{}{}
		case cmpColRe.MatchString(tok.text):
			m := cmpColRe.FindStringSubmatch(tok.text)
			seen[m[1]] = struct{}{}
			seen[m[3]] = struct{}{}
		case withinRe.MatchString(tok.text):
			seen[withinRe.FindStringSubmatch(tok.text)[1]] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type tokKind int

const (
	tokClause tokKind = iota
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordChar(c byte) bool {
	return isWordStart(c) || c == '.' || (c >= '0' && c <= '9')
}

func tokenize(expr string) []token {
	var toks []token
	var clause strings.Builder
	flush := func() {
		if s := strings.TrimSpace(clause.String()); s != "" {
			toks = append(toks, token{tokClause, s})
		}
		clause.Reset()
	}
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == '(':
			flush()
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			flush()
			toks = append(toks, token{tokRParen, ")"})
			i++
		case isWordStart(c):
			j := i
			for j < len(expr) && isWordChar(expr[j]) {
				j++
			}
			word := expr[i:j]
			switch strings.ToUpper(word) {
			case "AND":
				flush()
				toks = append(toks, token{tokAnd, word})
			case "OR":
				flush()
				toks = append(toks, token{tokOr, word})
			case "WITHIN":
				// WITHIN(...) carries its own parentheses; consume them whole.
				k := j
				for k < len(expr) && expr[k] == ' ' {
					k++
				}
				if k < len(expr) && expr[k] == '(' {
					depth := 0
					end := k
					for end < len(expr) {
						if expr[end] == '(' {
							depth++
						}
						if expr[end] == ')' {
							depth--
							if depth == 0 {
								end++
								break
							}
						}
						end++
					}
					flush()
					toks = append(toks, token{tokClause, strings.TrimSpace(expr[i:end])})
					j = end
				} else {
					clause.WriteString(word)
				}
			default:
				clause.WriteString(word)
			}
			i = j
		default:
			clause.WriteByte(c)
			i++
		}
	}
	flush()
	return toks
}

// parser is a small recursive-descent walker: OR binds loosest, AND tighter,
// parentheses group. A nil mask means "neutral operand".
type parser struct {
	toks []token
	pos  int
	ev   *Evaluator
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) parseOr() ([]bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = combine(left, right, func(a, b bool) bool { return a || b })
	}
}

func (p *parser) parseAnd() ([]bool, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok {
			return left, nil
		}
		// Adjacent clauses without an explicit operator also conjoin.
		if tok.kind != tokAnd && tok.kind != tokClause && tok.kind != tokLParen {
			return left, nil
		}
		if tok.kind == tokAnd {
			p.pos++
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = combine(left, right, func(a, b bool) bool { return a && b })
	}
}

func (p *parser) parseTerm() ([]bool, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, nil
	}
	switch tok.kind {
	case tokLParen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if next, ok := p.peek(); ok && next.kind == tokRParen {
			p.pos++
		}
		return inner, nil
	case tokRParen:
		// Unbalanced close; skip it.
		p.pos++
		return nil, nil
	case tokClause:
		p.pos++
		return p.ev.compileClause(tok.text)
	default:
		p.pos++
		return nil, nil
	}
}

func combine(a, b []bool, op func(bool, bool) bool) []bool {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := make([]bool, len(a))
	for i := range a {
		out[i] = op(a[i], b[i])
	}
	return out
}

func (e *Evaluator) compileClause(text string) ([]bool, error) {
	if m := crossRe.FindStringSubmatch(text); m != nil {
		return e.crossMask(m[1], m[2] == "cross_up")
	}
	if m := cmpNumRe.FindStringSubmatch(text); m != nil {
		threshold, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold in clause %q: %w", text, err)
		}
		col, err := e.column(m[1])
		if err != nil {
			return nil, err
		}
		mask := make([]bool, len(col))
		for i, v := range col {
			mask[i] = compare(v, threshold, m[2])
		}
		return mask, nil
	}
	if m := cmpColRe.FindStringSubmatch(text); m != nil {
		left, err := e.column(m[1])
		if err != nil {
			return nil, err
		}
		right, err := e.column(m[3])
		if err != nil {
			return nil, err
		}
		mask := make([]bool, len(left))
		for i := range left {
			mask[i] = compare(left[i], right[i], m[2])
		}
		return mask, nil
	}
	if m := withinRe.FindStringSubmatch(text); m != nil {
		windowDays, _ := strconv.Atoi(m[2])
		return e.eventWindowMask(m[1], windowDays), nil
	}
	// Unrecognized syntax stays neutral rather than failing the whole run.
	return nil, nil
}

func (e *Evaluator) column(name string) ([]float64, error) {
	col, ok := e.table.Column(name)
	if !ok {
		return nil, fmt.Errorf("indicator column %q not found (available: %s)",
			name, strings.Join(e.table.Names(), ", "))
	}
	return col, nil
}

func (e *Evaluator) crossMask(name string, up bool) ([]bool, error) {
	a, err := e.column(name)
	if err != nil {
		return nil, err
	}
	b, err := e.column(name + "_signal")
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(a))
	for i := 1; i < len(a); i++ {
		if up {
			mask[i] = a[i] > b[i] && a[i-1] <= b[i-1]
		} else {
			mask[i] = a[i] < b[i] && a[i-1] >= b[i-1]
		}
	}
	return mask, nil
}

func (e *Evaluator) eventWindowMask(name string, windowDays int) []bool {
	mask := make([]bool, e.table.Len())
	occurrences := e.events.Occurrences(name)
	if len(occurrences) == 0 {
		return mask
	}
	window := time.Duration(windowDays) * 24 * time.Hour
	for i, date := range e.table.Dates() {
		for _, flagged := range occurrences {
			diff := date.Sub(flagged)
			if diff < 0 {
				diff = -diff
			}
			if diff <= window {
				mask[i] = true
				break
			}
		}
	}
	return mask
}

func compare(a, b float64, op string) bool {
	switch op {
	case "<":
		return a < b
	case ">":
		return a > b
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	case "==":
		return a == b
	default:
		return false
	}
}
