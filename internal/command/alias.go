package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Aliases maps a command token to its expansion. Placeholders %1%..%9%
// substitute positional arguments; %0% inserts every argument. Arguments
// not consumed by placeholders are appended.
type Aliases map[string][]string

// DefaultAliases mirrors the stock shortcuts users expect.
func DefaultAliases() Aliases {
	return Aliases{
		"b":     {"vote", "b"},
		"cv":    {"callvote"},
		"n":     {"vote", "n"},
		"y":     {"vote", "y"},
		"spec":  {"force", "%1%", "spec"},
		"cheat": {"send", "/cheat"},
		"coop":  {"set", "idShareMode", "all"},
	}
}

// Expand rewrites tokens through the alias table. A token without an
// alias passes through untouched.
func (a Aliases) Expand(tokens []string) ([]string, error) {
	if len(tokens) == 0 {
		return tokens, nil
	}
	expansion, ok := a[tokens[0]]
	if !ok {
		return tokens, nil
	}
	args := tokens[1:]
	used := make([]bool, len(args))
	out := make([]string, 0, len(expansion)+len(args))
	for _, t := range expansion {
		if t == "%0%" {
			out = append(out, args...)
			for i := range used {
				used[i] = true
			}
			continue
		}
		if strings.HasPrefix(t, "%") && strings.HasSuffix(t, "%") && len(t) > 2 {
			n, err := strconv.Atoi(t[1 : len(t)-1])
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid alias placeholder %q", t)
			}
			if n <= len(args) {
				out = append(out, args[n-1])
				used[n-1] = true
			}
			continue
		}
		out = append(out, t)
	}
	for i, a := range args {
		if !used[i] {
			out = append(out, a)
		}
	}
	return out, nil
}
