package ledger

import (
	"github.com/linchiayu/moneta/internal/models"
)

// Filter narrows the read surface by domain payload fields. The zero value
// matches everything. Filters are evaluated client-side against the active
// record set; SQLite only handles the deletion flag.
type Filter struct {
	Category string
	Kind     models.TransactionKind
	// Occurred range, unix seconds, inclusive. Zero means unbounded.
	From int64
	To   int64
}

// Match reports whether a transaction satisfies the filter.
func (f Filter) Match(t *models.Transaction) bool {
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if f.From != 0 && t.Occurred < f.From {
		return false
	}
	if f.To != 0 && t.Occurred > f.To {
		return false
	}
	return true
}
