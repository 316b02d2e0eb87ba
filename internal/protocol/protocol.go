// Package protocol implements the line framing of the lobby protocol:
// one command per LF-terminated line, a command name followed by
// space-separated words, then tab-separated sentences which may contain
// spaces.
package protocol

import (
	"fmt"
	"strings"
)

// Command is one lobby protocol message.
type Command struct {
	Name      string
	Words     []string
	Sentences []string
}

// New builds a command from a name and plain words.
func New(name string, words ...string) Command {
	return Command{Name: name, Words: words}
}

// WithSentences appends tab-separated sentence arguments.
func (c Command) WithSentences(sentences ...string) Command {
	c.Sentences = append(c.Sentences, sentences...)
	return c
}

// Arg returns word i or the empty string.
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Words) {
		return ""
	}
	return c.Words[i]
}

// Marshal renders the command as a protocol line without the trailing LF.
func (c Command) Marshal() (string, error) {
	if c.Name == "" || strings.ContainsAny(c.Name, " \t\n") {
		return "", fmt.Errorf("invalid command name %q", c.Name)
	}
	var b strings.Builder
	b.WriteString(c.Name)
	for _, w := range c.Words {
		if strings.ContainsAny(w, " \t\n") {
			return "", fmt.Errorf("command %s: word %q contains separators", c.Name, w)
		}
		b.WriteByte(' ')
		b.WriteString(w)
	}
	for i, s := range c.Sentences {
		if strings.ContainsAny(s, "\t\n") {
			return "", fmt.Errorf("command %s: sentence %d contains separators", c.Name, i)
		}
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteByte('\t')
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

// Size returns the on-wire byte length of the marshalled line, excluding
// the trailing LF. Used by the outbound rate budget.
func (c Command) Size() int {
	n := len(c.Name)
	for _, w := range c.Words {
		n += 1 + len(w)
	}
	for _, s := range c.Sentences {
		n += 1 + len(s)
	}
	return n
}

// Parse decodes one protocol line. The caller strips the trailing LF.
// The wordCounts table fixes how many leading space-separated words the command
// carries before sentences begin; commands not in the table treat every
// argument as a word.
func Parse(line string) Command {
	line = strings.TrimSuffix(line, "\r")
	head, rest, _ := strings.Cut(line, " ")
	cmd := Command{Name: head}
	if rest == "" {
		return cmd
	}

	nWords, known := wordCounts[cmd.Name]
	if !known {
		cmd.Words = strings.Split(rest, " ")
		return cmd
	}

	for i := 0; i < nWords && rest != ""; i++ {
		var w string
		w, rest, _ = strings.Cut(rest, " ")
		cmd.Words = append(cmd.Words, w)
	}
	if rest != "" {
		cmd.Sentences = strings.Split(rest, "\t")
	}
	return cmd
}

// wordCounts lists, for commands carrying trailing sentences, how many
// leading words precede them. Everything else is all-words.
var wordCounts = map[string]int{
	"SAID":              2,
	"SAIDEX":            2,
	"SAIDPRIVATE":       1,
	"SAIDPRIVATEEX":     1,
	"SAIDBATTLE":        1,
	"SAIDBATTLEEX":      1,
	"SERVERMSG":         0,
	"CHANNELTOPIC":      2,
	"CHANNELMESSAGE":    1,
	"BROADCAST":         0,
	"DENIED":            0,
	"JOINFAILED":        1,
	"AGREEMENTEND":      0,
	"BATTLEOPENED":      11,
	"ADDBOT":            5,
	"OPENBATTLE":        1,
	"JOINBATTLEREQUEST": 2,
}
