package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

const clipLimit = 240

// Truncate flattens value onto a single line and clips it for log output.
func Truncate(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return "<empty>"
	}
	if len(value) > clipLimit {
		return value[:clipLimit] + "..."
	}
	return value
}

func FormatEventLine(event Event) string {
	var b strings.Builder
	b.WriteString(event.Time.Format("15:04:05"))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(event.Level.String()))
	b.WriteString("] ")
	b.WriteString(event.Message)
	for _, key := range orderedFieldKeys(event.Fields) {
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(formatFieldValue(event.Fields[key]))
	}
	b.WriteByte('\n')
	return b.String()
}

func formatFieldValue(value any) string {
	if value == nil {
		return "<nil>"
	}
	if pretty, ok := prettyJSONString(value); ok {
		return pretty
	}
	if err, ok := value.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", value)
}

// prettyJSONString reports whether value is structured (a container, or a
// string holding a JSON object/array) and renders it indented.
func prettyJSONString(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case error:
		return prettyJSONString(v.Error())
	case []byte:
		return prettyJSONString(string(v))
	case string:
		trimmed := strings.TrimSpace(v)
		if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
			return "", false
		}
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return "", false
		}
		out, err := marshalPrettyJSON(decoded)
		return out, err == nil
	case fmt.Stringer:
		return "", false
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		out, err := marshalPrettyJSON(rv.Interface())
		return out, err == nil
	}
	return "", false
}

func marshalPrettyJSON(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// orderedFieldKeys sorts scalar fields first, then structured fields, with
// payload-like keys at the very end.
func orderedFieldKeys(fields map[string]any) []string {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rank := func(key string) int {
		if _, ok := prettyJSONString(fields[key]); !ok {
			return 0
		}
		if isPayloadFieldKey(key) {
			return 2
		}
		return 1
	}
	sort.SliceStable(keys, func(i, j int) bool { return rank(keys[i]) < rank(keys[j]) })
	return keys
}

func isPayloadFieldKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "payload", "response", "response_body", "body", "data", "frame":
		return true
	default:
		return false
	}
}
