package config

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/rbright/pulselink/internal/notify"
)

// parsePlayerCommand splits notify.player_cmd into argv. A blank or
// "#"-prefixed value leaves Argv empty. notify.FilePlaceholder may stand in
// for the sound file once; without it the file is appended.
func parsePlayerCommand(raw string) (CommandConfig, error) {
	cmd := CommandConfig{Raw: raw}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return cmd, nil
	}

	argv, err := splitArgv(trimmed)
	if err != nil {
		return CommandConfig{}, err
	}
	if strings.Contains(argv[0], notify.FilePlaceholder) {
		return CommandConfig{}, fmt.Errorf("program name cannot contain %s", notify.FilePlaceholder)
	}
	placeholders := 0
	for _, arg := range argv[1:] {
		if arg == notify.FilePlaceholder {
			placeholders++
		}
	}
	if placeholders > 1 {
		return CommandConfig{}, fmt.Errorf("%s may appear at most once, found %d", notify.FilePlaceholder, placeholders)
	}

	cmd.Argv = argv
	return cmd, nil
}

func mustPlayerCommand(raw string) CommandConfig {
	cmd, err := parsePlayerCommand(raw)
	if err != nil {
		panic(err)
	}
	return cmd
}

// splitArgv tokenizes like a POSIX shell without expansion: single quotes are
// literal, double quotes honour \" \\ and \$, and a bare backslash escapes the
// next rune. Quoted empty strings survive as empty arguments.
func splitArgv(input string) ([]string, error) {
	var (
		argv    []string
		word    strings.Builder
		inWord  bool
		quote   rune
		quoteAt int
	)

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote == '\'':
			if r == '\'' {
				quote = 0
				continue
			}
			word.WriteRune(r)
		case quote == '"':
			switch {
			case r == '"':
				quote = 0
			case r == '\\' && i+1 < len(runes) && strings.ContainsRune(`"\$`, runes[i+1]):
				i++
				word.WriteRune(runes[i])
			default:
				word.WriteRune(r)
			}
		case r == '\\':
			if i+1 == len(runes) {
				return nil, fmt.Errorf("trailing backslash at column %d", i+1)
			}
			i++
			word.WriteRune(runes[i])
			inWord = true
		case r == '\'' || r == '"':
			quote, quoteAt = r, i+1
			inWord = true
		case unicode.IsSpace(r):
			if inWord {
				argv = append(argv, word.String())
				word.Reset()
				inWord = false
			}
		default:
			word.WriteRune(r)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unclosed %c quote opened at column %d", quote, quoteAt)
	}
	if inWord {
		argv = append(argv, word.String())
	}
	return argv, nil
}
