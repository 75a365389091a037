package postgres

import (
	"fmt"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// whereBuilder accumulates positional SQL predicates.
type whereBuilder struct {
	clause string
	args   []any
}

func (w *whereBuilder) add(expr string, arg any) {
	w.args = append(w.args, arg)
	w.clause += fmt.Sprintf(" AND "+expr, len(w.args))
}

// timeRange adds the Since/Until bounds of opts on column col.
func (w *whereBuilder) timeRange(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		w.add(col+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		w.add(col+" <= $%d", *opts.Until)
	}
}

// page appends LIMIT/OFFSET for opts.
func (w *whereBuilder) page(opts domain.ListOpts) string {
	var tail string
	if opts.Limit > 0 {
		w.args = append(w.args, opts.Limit)
		tail += fmt.Sprintf(" LIMIT $%d", len(w.args))
	}
	if opts.Offset > 0 {
		w.args = append(w.args, opts.Offset)
		tail += fmt.Sprintf(" OFFSET $%d", len(w.args))
	}
	return tail
}
