// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import "context"

// bgCtx is used for the registry's own lock acquisitions, which are not tied
// to caller cancellation. Registry file locks are short critical sections
// taken with no timeout (they wait until the lock is free); router locks are
// bounded by the timeout their caller passes.
func bgCtx() context.Context { return context.Background() }
