package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"sort"
	"strings"
)

// position is a 1-based line and column inside the config file.
type position struct {
	Line   int
	Column int
}

// positionAt locates the byte just before offset, which is where
// encoding/json offsets point after reading a bad token.
func positionAt(content string, offset int64) position {
	if len(content) == 0 {
		return position{Line: 1, Column: 1}
	}
	idx := int(min(max(offset, 1), int64(len(content)))) - 1
	head := content[:idx]
	return position{
		Line:   strings.Count(head, "\n") + 1,
		Column: idx - strings.LastIndexByte(head, '\n'),
	}
}

type scanState int

const (
	scanCode scanState = iota
	scanString
	scanStringEscape
	scanLineComment
	scanBlockComment
)

// stripJSONC blanks comments and trailing commas with spaces. The result has
// the same length and line breaks as content, so decoder offsets still point
// at the right place in the user's file.
func stripJSONC(content string) (string, error) {
	out := []byte(content)
	state := scanCode
	pendingComma := -1

	for i := 0; i < len(out); i++ {
		ch := out[i]
		switch state {
		case scanString:
			switch ch {
			case '\\':
				state = scanStringEscape
			case '"':
				state = scanCode
			}
		case scanStringEscape:
			state = scanString
		case scanLineComment:
			if ch == '\n' || ch == '\r' {
				state = scanCode
				continue
			}
			out[i] = ' '
		case scanBlockComment:
			if ch == '*' && i+1 < len(out) && out[i+1] == '/' {
				out[i], out[i+1] = ' ', ' '
				i++
				state = scanCode
				continue
			}
			if ch != '\n' && ch != '\r' && ch != '\t' {
				out[i] = ' '
			}
		case scanCode:
			if ch == '/' && i+1 < len(out) && (out[i+1] == '/' || out[i+1] == '*') {
				if out[i+1] == '/' {
					state = scanLineComment
				} else {
					state = scanBlockComment
				}
				out[i], out[i+1] = ' ', ' '
				i++
				continue
			}
			if isJSONWhitespace(ch) {
				continue
			}
			if pendingComma >= 0 && (ch == '}' || ch == ']') {
				out[pendingComma] = ' '
			}
			pendingComma = -1
			switch ch {
			case ',':
				pendingComma = i
			case '"':
				state = scanString
			}
		}
	}

	if state == scanBlockComment {
		return "", errors.New("unterminated block comment")
	}
	return string(out), nil
}

func isJSONWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t'
}

// UnknownKeyError reports a config key that no PulseLink section defines.
type UnknownKeyError struct {
	Key     string
	Line    int
	Column  int
	Allowed []string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("line %d column %d: unknown key %q (expected one of: %s)",
		e.Line, e.Column, e.Key, strings.Join(e.Allowed, ", "))
}

// configSchema maps every section name to the keys it accepts, read from the
// json tags on jsoncConfig so the two cannot drift.
func configSchema() map[string][]string {
	schema := make(map[string][]string)
	root := reflect.TypeFor[jsoncConfig]()
	for i := range root.NumField() {
		field := root.Field(i)
		section := field.Type.Elem()
		keys := make([]string, 0, section.NumField())
		for j := range section.NumField() {
			keys = append(keys, jsonKey(section.Field(j)))
		}
		schema[jsonKey(field)] = keys
	}
	return schema
}

func jsonKey(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	return name
}

// indexKeys walks the section objects of plain JSON, returning where each
// dotted key sits in the file. Structural problems are left for the typed
// decode to report with its own message.
func indexKeys(content string) (map[string]position, error) {
	schema := configSchema()
	sections := make([]string, 0, len(schema))
	for name := range schema {
		sections = append(sections, name)
	}
	sort.Strings(sections)

	found := make(map[string]position)
	dec := json.NewDecoder(strings.NewReader(content))
	if !openObject(dec) {
		return found, nil
	}
	for dec.More() {
		section, at, ok := nextKey(dec, content)
		if !ok {
			return found, nil
		}
		keys, known := schema[section]
		if !known {
			return nil, &UnknownKeyError{Key: section, Line: at.Line, Column: at.Column, Allowed: sections}
		}
		found[section] = at

		if !openObject(dec) {
			continue
		}
		for dec.More() {
			key, at, ok := nextKey(dec, content)
			if !ok {
				return found, nil
			}
			if !slices.Contains(keys, key) {
				return nil, &UnknownKeyError{Key: section + "." + key, Line: at.Line, Column: at.Column, Allowed: keys}
			}
			found[section+"."+key] = at
			if err := skipValue(dec); err != nil {
				return found, nil
			}
		}
		if _, err := dec.Token(); err != nil {
			return found, nil
		}
	}
	return found, nil
}

// openObject consumes the next value, reporting whether it opened an object.
// Any other value is skipped whole.
func openObject(dec *json.Decoder) bool {
	tok, err := dec.Token()
	if err != nil {
		return false
	}
	if delim, ok := tok.(json.Delim); ok {
		if delim == '{' {
			return true
		}
		_ = skipNested(dec)
	}
	return false
}

func nextKey(dec *json.Decoder, content string) (string, position, bool) {
	start := int(dec.InputOffset())
	for start < len(content) && (isJSONWhitespace(content[start]) || content[start] == ',') {
		start++
	}
	tok, err := dec.Token()
	if err != nil {
		return "", position{}, false
	}
	key, ok := tok.(string)
	return key, positionAt(content, int64(start)+1), ok
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); ok && (delim == '{' || delim == '[') {
		return skipNested(dec)
	}
	return nil
}

func skipNested(dec *json.Decoder) error {
	for depth := 1; depth > 0; {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case '{', '[':
				depth++
			default:
				depth--
			}
		}
	}
	return nil
}

// decodeConfig decodes exactly one config object from plain JSON.
func decodeConfig(content string) (jsoncConfig, error) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()

	var payload jsoncConfig
	if err := dec.Decode(&payload); err != nil {
		return jsoncConfig{}, describeDecodeError(content, err)
	}

	var extra json.RawMessage
	switch err := dec.Decode(&extra); {
	case errors.Is(err, io.EOF):
		return payload, nil
	case err != nil:
		return jsoncConfig{}, describeDecodeError(content, err)
	default:
		at := positionAt(content, dec.InputOffset()-int64(len(extra))+1)
		return jsoncConfig{}, fmt.Errorf("line %d column %d: unexpected content after the config object", at.Line, at.Column)
	}
}

func describeDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		at := positionAt(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", at.Line, at.Column, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		at := positionAt(content, typeErr.Offset)
		field := typeErr.Field
		if field == "" {
			field = "config"
		}
		return fmt.Errorf("line %d column %d: %s must be %s, got %s",
			at.Line, at.Column, field, describeType(typeErr.Type), typeErr.Value)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("config ends before the top-level object is closed: %w", err)
	}
	return err
}

func describeType(t reflect.Type) string {
	if t == nil {
		return "a value"
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "true or false"
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "a whole number"
	case reflect.Struct, reflect.Pointer:
		return "an object"
	default:
		return t.String()
	}
}
