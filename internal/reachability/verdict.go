// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package reachability

import (
	"strings"

	"tsim.dev/tsim/internal/job"
	"tsim.dev/tsim/internal/topology"
)

// EvaluateHop classifies pkt against one router's filter table, walking the
// FORWARD chain (or INPUT when this hop is the packet's final destination),
// first rule match wins, falling through to the chain's default policy —
// the same precedence the reference implementation's rule engine applies
// (internal/engine.Evaluate), adapted from zone policies to raw iptables
// chains since tsim's fact documents carry iptables-save output directly.
func EvaluateHop(r topology.Router, pkt Packet, isFinalHop bool) (job.Decision, string) {
	chain := "FORWARD"
	if isFinalHop {
		chain = "INPUT"
	}

	table, ok := r.IPTables.Tables["filter"]
	if !ok {
		return job.DecisionAccept, "no-filter-table"
	}

	for _, line := range table.Rules {
		rule := parseIPTablesRule(line)
		if rule.chain != chain {
			continue
		}
		if !rule.matches(pkt) {
			continue
		}
		return decisionFromJump(rule.jump), "rule:" + strings.TrimSpace(rule.raw)
	}

	policy, ok := table.Policies[chain]
	if !ok {
		return job.DecisionAccept, "default-policy:" + chain
	}
	return decisionFromJump(policy), "default-policy:" + chain
}

func decisionFromJump(jump string) job.Decision {
	switch strings.ToUpper(jump) {
	case "ACCEPT":
		return job.DecisionAccept
	case "DROP":
		return job.DecisionDrop
	case "REJECT":
		return job.DecisionReject
	default:
		// Jump to a user-defined chain or an unrecognized target: tsim does
		// not follow custom chains, so the outcome is reported as unknown
		// rather than guessed at.
		return job.DecisionUnknown
	}
}
