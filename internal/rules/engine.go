package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Engine applies deterministic substitutions to raw transcripts before they
// reach the responder, e.g. fixing recognizer quirks like "voice box => voicebox".
type Engine struct {
	subs      []substitution
	loopLimit int
}

type substitution struct {
	re          *regexp.Regexp
	replacement string
	firstOnly   bool
}

func (s substitution) apply(input string) (string, bool) {
	if !s.firstOnly {
		output := s.re.ReplaceAllString(input, s.replacement)
		return output, output != input
	}

	loc := s.re.FindStringIndex(input)
	if loc == nil {
		return input, false
	}
	replaced := s.re.ReplaceAllString(input[loc[0]:loc[1]], s.replacement)
	output := input[:loc[0]] + replaced + input[loc[1]:]
	return output, output != input
}

// NewEngine loads rules from a file: literal "from => to" lines and sed-style
// "s/pattern/replacement/flags" lines. A missing or empty path yields an
// engine that passes text through unchanged.
func NewEngine(path string, loopLimit int) (*Engine, error) {
	if loopLimit <= 0 {
		loopLimit = 10
	}
	if strings.TrimSpace(path) == "" {
		return &Engine{loopLimit: loopLimit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Engine{loopLimit: loopLimit}, nil
		}
		return nil, fmt.Errorf("failed to read transcript rules %q: %w", path, err)
	}

	subs, err := parseSubstitutions(string(contents))
	if err != nil {
		return nil, fmt.Errorf("failed to parse transcript rules %q: %w", path, err)
	}
	return &Engine{subs: subs, loopLimit: loopLimit}, nil
}

// Normalize applies all substitutions repeatedly until the text settles or the
// iteration limit is reached.
func (e *Engine) Normalize(text string) (string, error) {
	if len(e.subs) == 0 {
		return text, nil
	}

	result := text
	for i := 0; i < e.loopLimit; i++ {
		changed := false
		for _, sub := range e.subs {
			next, subChanged := sub.apply(result)
			if subChanged {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

func parseSubstitutions(contents string) ([]substitution, error) {
	var subs []substitution
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var sub substitution
		var err error
		switch {
		case looksLikeRegexLine(line):
			sub, err = parseRegexLine(line)
		case strings.Contains(line, "=>"):
			sub, err = parseLiteralLine(line)
		default:
			err = errors.New("unsupported rule format")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func parseLiteralLine(line string) (substitution, error) {
	parts := strings.SplitN(line, "=>", 2)
	from := strings.TrimSpace(parts[0])
	to := strings.TrimSpace(parts[1])
	if from == "" {
		return substitution{}, errors.New("substitution source cannot be empty")
	}

	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return substitution{}, err
	}
	return substitution{re: re, replacement: to}, nil
}

// parseRegexLine compiles "s/pattern/replacement/flags". Any non-alphanumeric
// delimiter works; case-insensitive by default, "g" replaces every match.
func parseRegexLine(line string) (substitution, error) {
	delim := line[1]

	pattern, pos, err := parseDelimited(line, 2, delim)
	if err != nil {
		return substitution{}, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := parseDelimited(line, pos, delim)
	if err != nil {
		return substitution{}, fmt.Errorf("invalid regex replacement: %w", err)
	}

	global := false
	prefix := "i"
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i':
		case 'g':
			global = true
		case 'm':
			prefix += "m"
		case 's':
			prefix += "s"
		case ' ':
		default:
			return substitution{}, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + prefix + ")" + pattern)
	if err != nil {
		return substitution{}, err
	}
	return substitution{re: re, replacement: replacement, firstOnly: !global}, nil
}

func parseDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		if escaped {
			builder.WriteByte(char)
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			builder.WriteByte(char)
			continue
		}
		if char == delim {
			return builder.String(), index + 1, nil
		}
		builder.WriteByte(char)
	}
	return "", 0, errors.New("unterminated expression")
}

func looksLikeRegexLine(line string) bool {
	if len(line) < 2 || line[0] != 's' {
		return false
	}
	delim := line[1]
	if delim >= 'a' && delim <= 'z' || delim >= 'A' && delim <= 'Z' ||
		delim >= '0' && delim <= '9' || delim == ' ' || delim == '\t' {
		return false
	}
	return true
}
