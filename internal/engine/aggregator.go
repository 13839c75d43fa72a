package engine

// Aggregate folds the results of executed checks, in execution order, into a
// decision.
//
// Rules:
//  1. The first block result decides: Proceed=false, BlockedBy and Reason
//     come from it, and nothing after it is considered.
//  2. Warn results are collected in order.
//  3. Without a block the decision proceeds.
func Aggregate(results []*CheckResult) *DispatchDecision {
	d := &DispatchDecision{Proceed: true}
	for _, r := range results {
		if r == nil {
			continue
		}
		d.Executed = append(d.Executed, r.CheckName)
		switch r.Verdict {
		case VerdictBlock:
			d.Proceed = false
			d.BlockedBy = r.CheckName
			d.Reason = r.Reason
			return d
		case VerdictWarn:
			d.Warnings = append(d.Warnings, *r)
		}
	}
	return d
}
