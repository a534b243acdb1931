package profile

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// ParseProperties reads a server.properties-like file into a map. Commented
// assignments ("#enable-rcon=true") are included so callers can tell a key
// exists but is disabled; the first occurrence of a key wins.
func ParseProperties(path string) (map[string]string, error) {
	props := make(map[string]string)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return props, nil
		}
		return nil, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, val, ok := splitPropertyLine(line)
		if !ok {
			continue
		}
		if _, seen := props[key]; !seen {
			props[key] = val
		}
	}
	return props, nil
}

// WriteProperties updates or appends the given keys while preserving every
// unrelated line, including comments and blank lines, verbatim.
func WriteProperties(path string, values map[string]string) error {
	var lines []string
	hadTrailingNewline := true
	if data, err := os.ReadFile(path); err == nil {
		s := string(data)
		hadTrailingNewline = s == "" || strings.HasSuffix(s, "\n")
		lines = strings.Split(strings.TrimSuffix(s, "\n"), "\n")
		if s == "" {
			lines = nil
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	remaining := make(map[string]string, len(values))
	for k, v := range values {
		remaining[k] = v
	}

	out := make([]string, 0, len(lines)+len(values)+1)
	for _, line := range lines {
		key, _, ok := splitPropertyLine(line)
		if ok {
			if val, want := remaining[key]; want {
				out = append(out, fmt.Sprintf("%s=%s", key, val))
				delete(remaining, key)
				continue
			}
		}
		out = append(out, line)
	}

	if len(remaining) > 0 {
		out = append(out, "# Managed by cubicd")
		keys := make([]string, 0, len(remaining))
		for k := range remaining {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, fmt.Sprintf("%s=%s", k, remaining[k]))
		}
		hadTrailingNewline = true
	}

	content := strings.Join(out, "\n")
	if hadTrailingNewline && content != "" {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

// splitPropertyLine extracts key=value from a line, tolerating a leading
// comment marker so "#rcon.port=0" is recognized as the key "rcon.port".
func splitPropertyLine(line string) (key, val string, ok bool) {
	s := strings.TrimSpace(line)
	if s == "" {
		return "", "", false
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "#"))
	i := strings.IndexByte(s, '=')
	if i <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
}
