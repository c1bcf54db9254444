// Package kvp parses and formats key=value option strings, such as the
// comma-separated argument strings handed to mounts.
package kvp

import (
	"fmt"
	"strconv"
	"strings"
)

type Config struct {
	// PairSeparator splits pairs from each other; KVSeparator splits a
	// key from its value.
	PairSeparator rune
	KVSeparator   rune
}

var Default = Config{PairSeparator: ',', KVSeparator: '='}

// A Map holds parsed options. Keys may repeat; values keep input order.
type Map map[string][]string

func (kv Map) Has(k string) bool { _, ok := kv[k]; return ok }

func (kv Map) GetOne(k string) string {
	if v, ok := kv[k]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func (kv Map) GetAll(k string) []string { return kv[k] }

func (kv Map) GetOneUint32(k string) (uint32, bool) {
	n, err := strconv.ParseUint(kv.GetOne(k), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func (kv Map) GetOneBool(k string) bool {
	switch kv.GetOne(k) {
	case "true", "t", "yes", "y", "1":
		return true
	}
	return false
}

// Parse splits an option string into a Map. A pair without a separator
// becomes a key with an empty value ("ro" in "ro,tag=shared"). Double
// quotes protect separators inside a value; the quotes are stripped.
func (cfg Config) Parse(s string) Map {
	kv := make(Map)
	for _, pair := range splitQuoted(s, cfg.PairSeparator) {
		if pair == "" {
			continue
		}
		key, value := pair, ""
		if i := strings.IndexRune(pair, cfg.KVSeparator); i >= 0 {
			key, value = pair[:i], unquote(pair[i+1:])
		}
		kv[key] = append(kv[key], value)
	}
	return kv
}

func Parse(s string) Map { return Default.Parse(s) }

// Format renders pairs in input order, quoting values that contain a
// separator.
func (cfg Config) Format(pairs [][2]string) string {
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		if strings.ContainsRune(p[1], cfg.PairSeparator) || strings.ContainsRune(p[1], '"') {
			parts[i] = fmt.Sprintf("%s%c%s", p[0], cfg.KVSeparator, strconv.Quote(p[1]))
		} else if p[1] == "" {
			parts[i] = p[0]
		} else {
			parts[i] = fmt.Sprintf("%s%c%s", p[0], cfg.KVSeparator, p[1])
		}
	}
	return strings.Join(parts, string(cfg.PairSeparator))
}

func Format(pairs [][2]string) string { return Default.Format(pairs) }

func splitQuoted(s string, sep rune) []string {
	var parts []string
	var sb strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			sb.WriteRune(r)
		case r == sep && !inQuote:
			parts = append(parts, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	parts = append(parts, sb.String())
	return parts
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		if u, err := strconv.Unquote(v); err == nil {
			return u
		}
	}
	return v
}
