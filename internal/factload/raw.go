// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package factload

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/topology"
)

const (
	sectionStartPrefix = "=== TSIM_SECTION_START:"
	sectionEndPrefix   = "=== TSIM_SECTION_END:"
	sectionMarkerSuffix = " ==="
)

// ParseRawDocument parses the older line-delimited raw fact form (spec §6)
// into the same schema ParseDocument produces. Each section's body is the
// verbatim text between its START/END markers; only the "metadata" section
// carries hostname (as a "hostname: <name>" line), and "interfaces",
// "routes", "rules", "iptables", "ipsets" sections carry one JSON array/object
// per section, matching what the original collector emitted.
//
// On a duplicate section marker, the spec's Open Questions leave the
// behavior unspecified upstream; tsim treats the second occurrence as
// authoritative and emits a warning (spec §9).
func ParseRawDocument(data []byte) (*topology.Router, []LoadWarning, error) {
	sections, warnings, err := splitSections(data)
	if err != nil {
		return nil, nil, err
	}

	hostname := extractHostname(sections["metadata"])
	if hostname == "" {
		return nil, nil, errs.New(errs.KindFactInvalid, "raw fact document missing hostname in metadata section")
	}

	doc := map[string]any{"hostname": hostname}
	for _, name := range []string{"interfaces", "routes", "rules", "iptables", "ipsets", "metadata"} {
		body, ok := sections[name]
		if !ok || strings.TrimSpace(body) == "" {
			continue
		}
		v := rawJSONOrNil(body)
		if _, isObject := v.(map[string]any); name == "metadata" && !isObject {
			continue // a plain-text metadata body carries only the hostname
		}
		doc[name] = v
	}

	reassembled, err := marshalForParse(doc)
	if err != nil {
		return nil, nil, errs.Wrap(err, errs.KindFactInvalid, "reassembling raw fact sections")
	}

	router, parseWarnings, err := ParseDocument(reassembled)
	if err != nil {
		return nil, nil, err
	}
	for _, w := range warnings {
		parseWarnings = append(parseWarnings, LoadWarning{Hostname: hostname, Message: w})
	}
	return router, parseWarnings, nil
}

// splitSections scans for TSIM_SECTION_START/END pairs and returns the body
// text keyed by lowercase section name.
func splitSections(data []byte) (map[string]string, []string, error) {
	sections := make(map[string]string)
	var warnings []string

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var current string
	var buf strings.Builder
	inSection := false

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, sectionStartPrefix):
			name := sectionName(line, sectionStartPrefix)
			if inSection {
				return nil, nil, fmt.Errorf("nested section start for %q while inside %q", name, current)
			}
			if _, dup := sections[name]; dup {
				warnings = append(warnings, fmt.Sprintf("duplicate section %q: second occurrence treated as authoritative", name))
			}
			current = name
			buf.Reset()
			inSection = true
		case strings.HasPrefix(line, sectionEndPrefix):
			name := sectionName(line, sectionEndPrefix)
			if !inSection || name != current {
				return nil, nil, fmt.Errorf("mismatched section end %q (expected %q)", name, current)
			}
			sections[current] = buf.String()
			inSection = false
		default:
			if inSection {
				buf.WriteString(line)
				buf.WriteByte('\n')
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if inSection {
		return nil, nil, fmt.Errorf("unterminated section %q", current)
	}
	return sections, warnings, nil
}

func sectionName(line, prefix string) string {
	rest := strings.TrimPrefix(line, prefix)
	rest = strings.TrimSuffix(rest, sectionMarkerSuffix)
	return strings.ToLower(strings.TrimSpace(rest))
}

func extractHostname(metadataSection string) string {
	for _, line := range strings.Split(metadataSection, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "hostname:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "hostname:"))
		}
		// metadata section may itself just be a JSON object
		if strings.HasPrefix(line, "{") {
			var m map[string]any
			if err := jsonUnmarshalLoose(line, &m); err == nil {
				if h, ok := m["hostname"].(string); ok {
					return h
				}
			}
		}
	}
	return ""
}

// rawJSONOrNil returns trimmed body as a json.RawMessage-compatible any,
// falling back to the raw string if it doesn't parse as JSON (some legacy
// sections are plain text, e.g. a bare hostname line).
func rawJSONOrNil(body string) any {
	trimmed := strings.TrimSpace(body)
	var v any
	if err := jsonUnmarshalLoose(trimmed, &v); err == nil {
		return v
	}
	return trimmed
}

func jsonUnmarshalLoose(s string, v any) error {
	dec := jsonDecoder(s)
	return dec.Decode(v)
}

func marshalForParse(doc map[string]any) ([]byte, error) {
	return jsonMarshal(doc)
}
