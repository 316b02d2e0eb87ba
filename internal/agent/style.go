package agent

import (
	"regexp"
	"strconv"
	"strings"
)

// styleMarker matches the $C{n}$ color markers embedded in user-visible
// answer templates.
var styleMarker = regexp.MustCompile(`\$C\{(\d+)\}\$`)

// Styler renders answer text for one user according to the ircColors
// preference. Control bytes never reach protocol frames: the lobby layer
// only ever sees the rendered string.
type Styler struct {
	enabled bool
}

// NewStyler creates a styler; enabled selects IRC color rendering.
func NewStyler(enabled bool) *Styler { return &Styler{enabled: enabled} }

// Render resolves or strips the markers.
func (s *Styler) Render(text string) string {
	return styleMarker.ReplaceAllStringFunc(text, func(m string) string {
		if !s.enabled {
			return ""
		}
		sub := styleMarker.FindStringSubmatch(m)
		n, err := strconv.Atoi(sub[1])
		if err != nil || n < 0 || n > 15 {
			return ""
		}
		if n == 0 {
			return "\x0f" // reset
		}
		return "\x03" + sub[1]
	})
}

// Strip removes every marker regardless of preference.
func Strip(text string) string {
	return styleMarker.ReplaceAllString(text, "")
}

// Sanitize removes raw control bytes from user-provided text before it
// is embedded in an answer.
func Sanitize(text string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return -1
		}
		return r
	}, text)
}
