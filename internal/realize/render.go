// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package realize

import (
	"fmt"
	"sort"
	"strings"

	"tsim.dev/tsim/internal/topology"
)

// renderIPTablesRestore turns a parsed iptables dump back into the
// iptables-restore wire format (spec §9's subprocess boundary: the fact
// documents carry iptables-save style data, so replaying it verbatim is both
// correct and the path of least resistance for the restore tool).
func renderIPTablesRestore(dump topology.IPTablesDump) ([]byte, error) {
	if len(dump.Tables) == 0 {
		return nil, nil
	}
	var b strings.Builder
	tableNames := make([]string, 0, len(dump.Tables))
	for name := range dump.Tables {
		tableNames = append(tableNames, name)
	}
	sort.Strings(tableNames)

	for _, name := range tableNames {
		table := dump.Tables[name]
		fmt.Fprintf(&b, "*%s\n", name)
		chainNames := make([]string, 0, len(table.Policies))
		for chain := range table.Policies {
			chainNames = append(chainNames, chain)
		}
		sort.Strings(chainNames)
		for _, chain := range chainNames {
			fmt.Fprintf(&b, ":%s %s [0:0]\n", chain, table.Policies[chain])
		}
		for _, rule := range table.Rules {
			fmt.Fprintf(&b, "%s\n", rule)
		}
		b.WriteString("COMMIT\n")
	}
	return []byte(b.String()), nil
}

// renderIPSetRestore turns parsed ipsets into the ipset-restore wire format.
func renderIPSetRestore(sets []topology.IPSet) []byte {
	var b strings.Builder
	for _, s := range sets {
		fmt.Fprintf(&b, "create %s %s %s\n", s.Name, s.Type, s.CreateOptions)
		for _, m := range s.Members {
			fmt.Fprintf(&b, "add %s %s\n", s.Name, m)
		}
	}
	return []byte(b.String())
}
