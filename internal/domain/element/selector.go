package element

import (
	"fmt"
	"strings"
)

const hasTextPseudo = ":has-text("

// ParseSelector turns a selector list that may use the :has-text("...")
// pseudo-class into a Query. Plain entries become structural strategies;
// entries with :has-text become contains strategies narrowed by the rest of
// the entry. The pseudo-class never reaches a native query.
func ParseSelector(name, selector string) (Query, error) {
	parts, err := splitSelectorList(selector)
	if err != nil {
		return Query{}, err
	}
	q := Query{Name: name}
	for _, part := range parts {
		s, err := parseSelectorEntry(part)
		if err != nil {
			return Query{}, err
		}
		q.Strategies = append(q.Strategies, s)
	}
	if err := q.Validate(); err != nil {
		return Query{}, err
	}
	return q, nil
}

func parseSelectorEntry(entry string) (Strategy, error) {
	idx := strings.Index(entry, hasTextPseudo)
	if idx < 0 {
		return BySelector(entry), nil
	}
	rest := entry[idx+len(hasTextPseudo):]
	end := closingParen(rest)
	if end < 0 {
		return Strategy{}, fmt.Errorf("unterminated :has-text in %q", entry)
	}
	text := strings.TrimSpace(rest[:end])
	text = strings.Trim(text, `"'`)
	base := strings.TrimSpace(entry[:idx] + rest[end+1:])
	if strings.Contains(base, hasTextPseudo) {
		return Strategy{}, fmt.Errorf("multiple :has-text in %q", entry)
	}
	if base == "" {
		base = ContentSelector
	}
	return ByContains(text, base), nil
}

// closingParen returns the index of the paren closing an already opened one,
// honouring quotes.
func closingParen(s string) int {
	depth := 1
	var quote rune
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitSelectorList(selector string) ([]string, error) {
	var (
		parts []string
		cur   strings.Builder
		quote rune
		depth int
	)
	flush := func() {
		if p := strings.TrimSpace(cur.String()); p != "" {
			parts = append(parts, p)
		}
		cur.Reset()
	}
	for _, r := range selector {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			depth--
		case r == ',' && depth == 0:
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	if quote != 0 || depth != 0 {
		return nil, fmt.Errorf("unbalanced selector %q", selector)
	}
	flush()
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty selector")
	}
	return parts, nil
}
