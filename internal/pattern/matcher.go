// Package pattern compiles binding keys into routing-key matchers.
//
// A binding key is matched character by character against a routing key:
//   - "*" matches one or more word characters [A-Za-z0-9_]
//   - "#" matches one or more word characters or dots
//   - any other character, including ".", matches itself
//
// The whole routing key must match. Wildcard characters cannot be escaped.
package pattern

import "strings"

type tokenKind int

const (
	literal tokenKind = iota
	word
	multi
)

type token struct {
	kind tokenKind
	text string
}

// Matcher is a compiled binding key. It is immutable and safe for concurrent use.
type Matcher struct {
	key    string
	tokens []token
}

// Compile tokenizes key into a Matcher. Every string is a valid key.
func Compile(key string) *Matcher {
	return &Matcher{key: key, tokens: tokenize(key)}
}

func tokenize(key string) []token {
	var tokens []token
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, token{kind: literal, text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '*':
			flush()
			tokens = append(tokens, token{kind: word})
		case '#':
			flush()
			tokens = append(tokens, token{kind: multi})
		default:
			lit.WriteByte(key[i])
		}
	}
	flush()

	return tokens
}

// Key returns the binding key the matcher was compiled from.
func (m *Matcher) Key() string {
	return m.key
}

// String implements fmt.Stringer.
func (m *Matcher) String() string {
	return m.key
}

// Match reports whether routingKey matches the compiled binding key in its entirety.
func (m *Matcher) Match(routingKey string) bool {
	s := matchState{
		tokens: m.tokens,
		key:    routingKey,
		failed: make([]bool, (len(m.tokens)+1)*(len(routingKey)+1)),
	}
	return s.match(0, 0)
}

// matchState memoises (token, position) pairs already known not to match,
// which keeps adjacent wildcards from backtracking exponentially.
type matchState struct {
	tokens []token
	key    string
	failed []bool
}

func (s *matchState) match(ti, pos int) bool {
	if ti == len(s.tokens) {
		return pos == len(s.key)
	}

	idx := ti*(len(s.key)+1) + pos
	if s.failed[idx] {
		return false
	}

	tok := s.tokens[ti]
	switch tok.kind {
	case literal:
		if strings.HasPrefix(s.key[pos:], tok.text) && s.match(ti+1, pos+len(tok.text)) {
			return true
		}
	case word, multi:
		end := pos
		for end < len(s.key) && accepts(tok.kind, s.key[end]) {
			end++
		}
		for stop := end; stop > pos; stop-- {
			if s.match(ti+1, stop) {
				return true
			}
		}
	}

	s.failed[idx] = true
	return false
}

func accepts(kind tokenKind, c byte) bool {
	if kind == multi && c == '.' {
		return true
	}
	return isWordChar(c)
}

func isWordChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
