package expr

import (
	"encoding/json"
	"strings"

	"github.com/lguibr/rpcactor/rpcerr"
)

// ParseArgs parses a comma-separated argument list. Commas inside balanced
// brackets or quoted strings do not split arguments. Each argument is a
// strict JSON literal if possible, then a single-quoted string, then the bare
// trimmed text.
func ParseArgs(text string) ([]any, error) {
	if strings.TrimSpace(text) == "" {
		return []any{}, nil
	}

	pieces, err := splitTopLevel(text)
	if err != nil {
		return nil, err
	}

	args := make([]any, 0, len(pieces))
	for i, piece := range pieces {
		v, err := ParseArg(piece)
		if err != nil {
			return nil, rpcerr.ArgumentParsef("argument %d: %s", i, rpcerr.From(err).Message)
		}
		args = append(args, v)
	}
	return args, nil
}

// ParseArg resolves a single argument token.
func ParseArg(raw string) (any, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, rpcerr.ArgumentParsef("empty argument")
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, nil
	}

	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return unquoteSingle(s[1 : len(s)-1]), nil
	}
	return s, nil
}

func unquoteSingle(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// splitTopLevel splits on commas that are outside brackets and quotes.
func splitTopLevel(text string) ([]string, error) {
	var (
		pieces []string
		stack  []byte
		quote  byte
		start  int
	)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if quote != 0 {
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '(':
			stack = append(stack, ')')
		case '}', ']', ')':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return nil, rpcerr.InvalidExpressionf("mismatched %q in arguments", ch)
			}
			stack = stack[:len(stack)-1]
		case ',':
			if len(stack) == 0 {
				pieces = append(pieces, text[start:i])
				start = i + 1
			}
		}
	}
	if quote != 0 {
		return nil, rpcerr.InvalidExpressionf("unterminated string in arguments")
	}
	if len(stack) != 0 {
		return nil, rpcerr.InvalidExpressionf("unbalanced brackets in arguments")
	}
	return append(pieces, text[start:]), nil
}
