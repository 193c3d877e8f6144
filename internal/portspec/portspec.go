// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package portspec parses the comma-separated port specification strings
// job submitters write by hand ("80,443/tcp,22-25,ssh") into job.Service
// lists, the same grammar the original port parser service accepted.
package portspec

import (
	"regexp"
	"strconv"
	"strings"

	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/job"
)

// MaxServices bounds how many services one spec can expand to, matching the
// original parser's default.
const MaxServices = 10

// maxRangeSpan bounds end-start for a single "start-end" range, so one range
// covers at most maxRangeSpan+1 ports; a range over that size gets its own
// error before the MaxServices check applies.
const maxRangeSpan = 100

var (
	singlePattern = regexp.MustCompile(`^(\d+)(?:/([a-z]+))?$`)
	rangePattern  = regexp.MustCompile(`^(\d+)-(\d+)(?:/([a-z]+))?$`)
	namePattern   = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
)

// commonPorts maps a service name to its conventional (port, proto), the
// same table the original parser shipped.
var commonPorts = map[string]job.Service{
	"ftp":        {Port: 21, Proto: "tcp"},
	"ssh":        {Port: 22, Proto: "tcp"},
	"telnet":     {Port: 23, Proto: "tcp"},
	"smtp":       {Port: 25, Proto: "tcp"},
	"dns":        {Port: 53, Proto: "udp"},
	"http":       {Port: 80, Proto: "tcp"},
	"pop3":       {Port: 110, Proto: "tcp"},
	"imap":       {Port: 143, Proto: "tcp"},
	"https":      {Port: 443, Proto: "tcp"},
	"smb":        {Port: 445, Proto: "tcp"},
	"mysql":      {Port: 3306, Proto: "tcp"},
	"rdp":        {Port: 3389, Proto: "tcp"},
	"postgresql": {Port: 5432, Proto: "tcp"},
	"http-alt":   {Port: 8080, Proto: "tcp"},
	"https-alt":  {Port: 8443, Proto: "tcp"},
}

// QuickPorts are the services a quick-mode submission probes when the
// caller doesn't name any.
var QuickPorts = []job.Service{
	{Port: 22, Proto: "tcp"},
	{Port: 80, Proto: "tcp"},
	{Port: 443, Proto: "tcp"},
	{Port: 3306, Proto: "tcp"},
	{Port: 5432, Proto: "tcp"},
}

// Parse parses spec (comma-separated ports, ranges, or service names) into a
// deduplicated, order-preserving list of services, using defaultProto for
// any entry that doesn't name one.
func Parse(spec string, defaultProto string) ([]job.Service, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, errs.New(errs.KindValidation, "port specification cannot be empty")
	}
	if defaultProto != "tcp" && defaultProto != "udp" {
		defaultProto = "tcp"
	}

	entries := strings.Split(spec, ",")
	if len(entries) > MaxServices {
		return nil, errs.Errorf(errs.KindValidation, "too many services specified (maximum %d)", MaxServices)
	}

	var out []job.Service
	for _, raw := range entries {
		e := strings.TrimSpace(raw)
		if e == "" {
			continue
		}

		if m := singlePattern.FindStringSubmatch(e); m != nil {
			port, err := strconv.Atoi(m[1])
			if err != nil || !validPort(port) {
				return nil, errs.Errorf(errs.KindValidation, "invalid port number: %s", m[1])
			}
			proto := defaultProto
			if m[2] != "" {
				proto = m[2]
			}
			if !validProto(proto) {
				return nil, errs.Errorf(errs.KindValidation, "invalid protocol: %s", proto)
			}
			out = append(out, job.Service{Port: port, Proto: proto})
			continue
		}

		if m := rangePattern.FindStringSubmatch(e); m != nil {
			start, errS := strconv.Atoi(m[1])
			end, errE := strconv.Atoi(m[2])
			if errS != nil || errE != nil || !validPort(start) || !validPort(end) {
				return nil, errs.Errorf(errs.KindValidation, "invalid port range: %s", e)
			}
			if start > end {
				return nil, errs.Errorf(errs.KindValidation, "invalid port range: start > end in %s", e)
			}
			if end-start > maxRangeSpan {
				return nil, errs.Errorf(errs.KindValidation, "port range too large (maximum %d ports)", maxRangeSpan+1)
			}
			proto := defaultProto
			if m[3] != "" {
				proto = m[3]
			}
			if !validProto(proto) {
				return nil, errs.Errorf(errs.KindValidation, "invalid protocol: %s", proto)
			}
			for p := start; p <= end; p++ {
				out = append(out, job.Service{Port: p, Proto: proto})
			}
			continue
		}

		lower := strings.ToLower(e)
		if namePattern.MatchString(lower) {
			svc, ok := commonPorts[lower]
			if !ok {
				return nil, errs.Errorf(errs.KindValidation, "unknown service: %s", lower)
			}
			out = append(out, svc)
			continue
		}

		return nil, errs.Errorf(errs.KindValidation, "invalid port specification: %s", e)
	}

	if len(out) == 0 {
		return nil, errs.New(errs.KindValidation, "no valid ports found in specification")
	}
	out = dedup(out)
	if len(out) > MaxServices {
		return nil, errs.Errorf(errs.KindValidation, "too many services specified (maximum %d)", MaxServices)
	}
	return out, nil
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func validProto(p string) bool { return p == "tcp" || p == "udp" }

func dedup(services []job.Service) []job.Service {
	seen := make(map[job.Service]bool, len(services))
	out := make([]job.Service, 0, len(services))
	for _, s := range services {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
