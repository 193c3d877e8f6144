// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package factload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const r1Doc = `{
  "hostname": "r1",
  "interfaces": [
    {"name": "ethA", "addresses": [{"family": "inet", "address": "10.1.1.1", "prefixlen": 24}]},
    {"name": "ethB", "addresses": [{"family": "inet", "address": "10.1.2.1", "prefixlen": 24}]}
  ],
  "routes": [
    {"table": "main", "dst": "10.1.1.0/24", "dev": "ethA", "protocol": "kernel", "scope": "link", "prefsrc": "10.1.1.1"},
    {"table": "main", "dst": "10.1.2.0/24", "dev": "ethB", "protocol": "kernel", "scope": "link", "prefsrc": "10.1.2.1"}
  ],
  "iptables": {"tables": {"filter": {"policies": {"FORWARD": "ACCEPT"}, "rules": []}}},
  "metadata": {"collection_timestamp": "2026-07-30T00:00:00Z"}
}`

func TestParseDocumentBasic(t *testing.T) {
	router, warnings, err := ParseDocument([]byte(r1Doc))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "r1", router.Hostname)
	assert.Len(t, router.Interfaces, 2)
}

func TestParseDocumentMissingHostname(t *testing.T) {
	_, _, err := ParseDocument([]byte(`{"interfaces": []}`))
	require.Error(t, err)
}

func TestParseDocumentDuplicateInterface(t *testing.T) {
	doc := `{"hostname": "r1", "interfaces": [{"name": "eth0"}, {"name": "eth0"}]}`
	_, _, err := ParseDocument([]byte(doc))
	require.Error(t, err)
}

func TestReconstructInterfacesFromRoutesWhenAbsent(t *testing.T) {
	doc := `{
      "hostname": "r2",
      "routes": [
        {"dst": "10.2.0.0/24", "dev": "eth0", "protocol": "kernel", "scope": "link", "prefsrc": "10.2.0.1"},
        {"dst": "127.0.0.0/8", "dev": "lo", "protocol": "kernel", "scope": "link", "prefsrc": "127.0.0.1"}
      ]
    }`
	router, _, err := ParseDocument([]byte(doc))
	require.NoError(t, err)
	require.Len(t, router.Interfaces, 1)
	assert.Equal(t, "eth0", router.Interfaces[0].Name)
}

func TestLoadTopologyDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "r1.json"), []byte(r1Doc), 0644))

	topo, warnings, err := LoadTopology(dir)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, topo.Routers, 1)
}

const rawDoc = `=== TSIM_SECTION_START:metadata ===
hostname: r3
=== TSIM_SECTION_END:metadata ===
=== TSIM_SECTION_START:interfaces ===
[{"name": "eth0", "addresses": [{"family": "inet", "address": "10.3.0.1", "prefixlen": 24}]}]
=== TSIM_SECTION_END:interfaces ===
`

func TestParseRawDocument(t *testing.T) {
	router, _, err := ParseRawDocument([]byte(rawDoc))
	require.NoError(t, err)
	assert.Equal(t, "r3", router.Hostname)
	require.Len(t, router.Interfaces, 1)
	assert.Equal(t, "eth0", router.Interfaces[0].Name)
}

func TestParseRawDocumentDuplicateSectionIsWarningNotError(t *testing.T) {
	doc := rawDoc + `=== TSIM_SECTION_START:metadata ===
hostname: r3-updated
=== TSIM_SECTION_END:metadata ===
`
	router, warnings, err := ParseRawDocument([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "r3-updated", router.Hostname, "second occurrence is authoritative")
	assert.NotEmpty(t, warnings)
}
