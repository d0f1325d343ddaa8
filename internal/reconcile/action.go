package reconcile

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
)

// Action is the user's decision for one (original, duplicate) pair.
type Action int

const (
	// Merge copies the duplicate's fields onto the original and discards the duplicate.
	Merge Action = iota + 1
	// Keep settles both receipts as separate purchases.
	Keep
	// Delete discards the duplicate.
	Delete
	// KeepNew discards the original and settles the duplicate in its place.
	KeepNew
)

var actionNames = map[Action]string{
	Merge:   "merge",
	Keep:    "keep",
	Delete:  "delete",
	KeepNew: "keep_new",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

// ParseAction accepts the wire names, case-insensitively; "keep-new" is
// accepted as an alias of keep_new.
func ParseAction(s string) (Action, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for a, name := range actionNames {
		if name == norm {
			return a, nil
		}
	}
	return 0, common.Invalidf("unknown resolution action %q", s)
}

// bulkAllowed reports whether a can be applied to every pending pair at once.
func bulkAllowed(a Action) bool {
	return a == Keep || a == Delete
}
