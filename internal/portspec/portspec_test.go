// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package portspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsim.dev/tsim/internal/job"
)

func TestParseSinglePorts(t *testing.T) {
	services, err := Parse("80,443/tcp,53/udp", "tcp")
	require.NoError(t, err)
	assert.Equal(t, []job.Service{
		{Port: 80, Proto: "tcp"},
		{Port: 443, Proto: "tcp"},
		{Port: 53, Proto: "udp"},
	}, services)
}

func TestParseRange(t *testing.T) {
	services, err := Parse("22-25", "tcp")
	require.NoError(t, err)
	assert.Equal(t, []job.Service{
		{Port: 22, Proto: "tcp"}, {Port: 23, Proto: "tcp"},
		{Port: 24, Proto: "tcp"}, {Port: 25, Proto: "tcp"},
	}, services)
}

func TestParseServiceNames(t *testing.T) {
	services, err := Parse("ssh,https", "tcp")
	require.NoError(t, err)
	assert.Equal(t, []job.Service{
		{Port: 22, Proto: "tcp"}, {Port: 443, Proto: "tcp"},
	}, services)
}

func TestParseDeduplicates(t *testing.T) {
	services, err := Parse("80,80,http", "tcp")
	require.NoError(t, err)
	assert.Equal(t, []job.Service{{Port: 80, Proto: "tcp"}}, services)
}

func TestParseRejectsUnknownService(t *testing.T) {
	_, err := Parse("not-a-service", "tcp")
	assert.Error(t, err)
}

func TestParseRejectsInvertedRange(t *testing.T) {
	_, err := Parse("100-50", "tcp")
	assert.Error(t, err)
}

func TestParseRejectsOversizedRange(t *testing.T) {
	_, err := Parse("1-200", "tcp")
	assert.Error(t, err)
}

func TestParseRejectsTooManyServices(t *testing.T) {
	_, err := Parse("1,2,3,4,5,6,7,8,9,10,11", "tcp")
	assert.Error(t, err)
}

func TestParseRejectsEmptySpec(t *testing.T) {
	_, err := Parse("", "tcp")
	assert.Error(t, err)
}

func TestParseRejectsInvalidPortNumber(t *testing.T) {
	_, err := Parse("99999", "tcp")
	assert.Error(t, err)
}
