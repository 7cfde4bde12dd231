package flightless

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNotACommand is returned by Parser.Parse when the message doesn't
// start with the command prefix. It is not a failure.
var ErrNotACommand = errors.New("not a command")

// imageURLPattern matches an http(s) image link with a jpg, jpeg, webp,
// gif or png extension. The host must have at least one dotted label
// and a 2-6 letter TLD, and the path at least one segment.
const imageURLPattern = `https?://(?:[a-z0-9\-]+\.)+[a-z]{2,6}(?:/[^/#?\s]+)+\.(?i:jpe?g|webp|gif|png)`

var imageURLRegex = regexp.MustCompile(
	`(?s)^(.*)(` + imageURLPattern + `)((?:[^A-Za-z0-9_].*)?)$`,
)

// ParsedCommand is a message that started with the command prefix.
//
// Args holds two whitespace-delimited tokens followed by the remainder
// of the message, which may contain spaces and newlines. Missing
// arguments are empty strings.
type ParsedCommand struct {
	Name string
	Args [3]string
}

// Rest returns the arguments joined back into a single string
func (p ParsedCommand) Rest() string {
	parts := make([]string, 0, len(p.Args))
	for _, a := range p.Args {
		if a != "" {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, " ")
}

// ArgCount is the number of non-empty arguments
func (p ParsedCommand) ArgCount() int {
	n := 0
	for _, a := range p.Args {
		if a != "" {
			n++
		}
	}
	return n
}

// Parser extracts commands from raw message text
type Parser struct {
	prefix string
	re     *regexp.Regexp
}

func NewParser(prefix string) *Parser {
	return &Parser{
		prefix: prefix,
		re: regexp.MustCompile(
			`(?s)^` + regexp.QuoteMeta(prefix) +
				`(\S+)\s*(\S*)\s*(\S*)\s*(.*)$`,
		),
	}
}

func (p *Parser) Prefix() string {
	return p.prefix
}

// Parse returns ErrNotACommand if raw doesn't start with the prefix
// directly followed by a command token. The command name is lowercased.
func (p *Parser) Parse(raw string) (ParsedCommand, error) {
	m := p.re.FindStringSubmatch(raw)
	if m == nil {
		return ParsedCommand{}, ErrNotACommand
	}
	return ParsedCommand{
		Name: strings.ToLower(m[1]),
		Args: [3]string{m[2], m[3], strings.TrimSpace(m[4])},
	}, nil
}

// SplitURL extracts the last image URL from text. It returns the URL
// and the text with the URL removed. When there is no URL, it returns
// an empty URL and text unchanged.
func SplitURL(text string) (url string, rest string) {
	m := imageURLRegex.FindStringSubmatch(text)
	if m == nil {
		return "", text
	}
	return m[2], m[1] + m[3]
}
