// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package reachability implements the Reachability Tester (spec §4.E): a
// five-phase probe pipeline (resolve endpoints, compute path, prepare
// waypoints, probe per service, cleanup) that classifies whether traffic
// from a source to a destination's services would be accepted, dropped, or
// rejected by the routers along the path, evaluating rule matching the way
// the reference implementation's policy engine does (internal/engine).
package reachability

import (
	"net"
	"strconv"
	"strings"
)

// Packet is the probe's 5-tuple plus the interfaces a hop sees it on,
// mirroring the reference implementation's simulation packet (internal/engine.Packet).
type Packet struct {
	SrcIP        string
	DstIP        string
	SrcPort      int
	DstPort      int
	Protocol     string // "tcp", "udp", "icmp"
	DSCP         int
	InInterface  string
	OutInterface string
}

// parsedRule is one "-A CHAIN ..." iptables-save line, decomposed into the
// fields tsim matches against. Unrecognized flags are ignored rather than
// rejected — the fact documents may carry match extensions this tester
// doesn't model (spec §4.A "Parser resilience").
type parsedRule struct {
	chain      string
	proto      string
	src        *net.IPNet
	dst        *net.IPNet
	srcPort    string
	dstPort    string
	inIface    string
	outIface   string
	dscp       string
	jump       string
	raw        string
}

// parseIPTablesRule decomposes one iptables-save rule line, e.g.
// `-A FORWARD -p tcp -s 10.0.0.0/24 --dport 80 -j ACCEPT`.
func parseIPTablesRule(line string) parsedRule {
	fields := strings.Fields(line)
	r := parsedRule{raw: line}
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "-A":
			if i+1 < len(fields) {
				r.chain = fields[i+1]
				i++
			}
		case "-p", "--protocol":
			if i+1 < len(fields) {
				r.proto = strings.ToLower(fields[i+1])
				i++
			}
		case "-s", "--source":
			if i+1 < len(fields) {
				r.src = parseIPOrCIDR(fields[i+1])
				i++
			}
		case "-d", "--destination":
			if i+1 < len(fields) {
				r.dst = parseIPOrCIDR(fields[i+1])
				i++
			}
		case "--dport", "--destination-port":
			if i+1 < len(fields) {
				r.dstPort = fields[i+1]
				i++
			}
		case "--sport", "--source-port":
			if i+1 < len(fields) {
				r.srcPort = fields[i+1]
				i++
			}
		case "-i", "--in-interface":
			if i+1 < len(fields) {
				r.inIface = fields[i+1]
				i++
			}
		case "-o", "--out-interface":
			if i+1 < len(fields) {
				r.outIface = fields[i+1]
				i++
			}
		case "--dscp":
			if i+1 < len(fields) {
				r.dscp = fields[i+1]
				i++
			}
		case "-j", "--jump":
			if i+1 < len(fields) {
				r.jump = fields[i+1]
				i++
			}
		}
	}
	return r
}

func parseIPOrCIDR(s string) *net.IPNet {
	if !strings.Contains(s, "/") {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil
		}
		if ip4 := ip.To4(); ip4 != nil {
			return &net.IPNet{IP: ip4, Mask: net.CIDRMask(32, 32)}
		}
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}
	}
	_, cidr, err := net.ParseCIDR(s)
	if err != nil {
		return nil
	}
	return cidr
}

// matches reports whether pkt satisfies every field the rule specifies.
func (r parsedRule) matches(pkt Packet) bool {
	if r.proto != "" && r.proto != "all" && !strings.EqualFold(r.proto, pkt.Protocol) {
		return false
	}
	if r.src != nil {
		ip := net.ParseIP(pkt.SrcIP)
		if ip == nil || !r.src.Contains(ip) {
			return false
		}
	}
	if r.dst != nil {
		ip := net.ParseIP(pkt.DstIP)
		if ip == nil || !r.dst.Contains(ip) {
			return false
		}
	}
	if r.dstPort != "" && !portMatches(r.dstPort, pkt.DstPort) {
		return false
	}
	if r.srcPort != "" && !portMatches(r.srcPort, pkt.SrcPort) {
		return false
	}
	if r.inIface != "" && r.inIface != pkt.InInterface {
		return false
	}
	if r.outIface != "" && r.outIface != pkt.OutInterface {
		return false
	}
	if r.dscp != "" {
		want, err := strconv.Atoi(r.dscp)
		if err == nil && want != pkt.DSCP {
			return false
		}
	}
	return true
}

func portMatches(spec string, port int) bool {
	if strings.Contains(spec, ":") {
		parts := strings.SplitN(spec, ":", 2)
		lo, err1 := strconv.Atoi(parts[0])
		hi, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return true
		}
		return port >= lo && port <= hi
	}
	if strings.Contains(spec, ",") {
		for _, p := range strings.Split(spec, ",") {
			if n, err := strconv.Atoi(p); err == nil && n == port {
				return true
			}
		}
		return false
	}
	n, err := strconv.Atoi(spec)
	if err != nil {
		return true
	}
	return n == port
}
