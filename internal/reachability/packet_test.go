// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package reachability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAndMatchIPTablesRule(t *testing.T) {
	r := parseIPTablesRule("-A FORWARD -p tcp -s 10.0.0.0/24 -d 10.0.1.5 --dport 443 -j ACCEPT")
	assert.Equal(t, "FORWARD", r.chain)
	assert.True(t, r.matches(Packet{SrcIP: "10.0.0.9", DstIP: "10.0.1.5", DstPort: 443, Protocol: "tcp"}))
	assert.False(t, r.matches(Packet{SrcIP: "10.0.9.9", DstIP: "10.0.1.5", DstPort: 443, Protocol: "tcp"}))
	assert.False(t, r.matches(Packet{SrcIP: "10.0.0.9", DstIP: "10.0.1.5", DstPort: 22, Protocol: "tcp"}))
}

func TestPortMatchesRanges(t *testing.T) {
	assert.True(t, portMatches("1000:2000", 1500))
	assert.False(t, portMatches("1000:2000", 2500))
	assert.True(t, portMatches("80,443", 443))
	assert.False(t, portMatches("80,443", 8080))
	assert.True(t, portMatches("80", 80))
}

func TestMatchesDSCP(t *testing.T) {
	r := parseIPTablesRule("-A FORWARD --dscp 40 -j ACCEPT")
	assert.True(t, r.matches(Packet{DSCP: 40}))
	assert.False(t, r.matches(Packet{DSCP: 41}))
}
