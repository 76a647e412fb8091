package approval

import (
	"fmt"
	"sort"

	"github.com/warp/waqf-engine/audit"
)

// Replay rebuilds an instance from its audit entries alone. Entries are
// applied in Sequence order through the same transition function the
// engine uses, so a valid log reproduces the live state exactly.
func Replay(entries []audit.Entry, def Definition) (*Instance, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidAuditTrail)
	}
	sorted := append([]audit.Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	if id := sorted[0].DefinitionID; id != def.ID {
		return nil, fmt.Errorf("%w: entries were recorded under definition %s, not %s", ErrInvalidAuditTrail, id, def.ID)
	}

	var inst *Instance
	for _, e := range sorted {
		if inst != nil && e.InstanceID != inst.ID {
			return nil, fmt.Errorf("%w: entry %s belongs to %s, not %s", ErrInvalidAuditTrail, e.ID, e.InstanceID, inst.ID)
		}
		next, err := apply(inst, def, e)
		if err != nil {
			return nil, err
		}
		inst = next
	}
	return inst, nil
}
