package ledger

import (
	"context"
	"fmt"
	"sort"
)

// LocationReport summarizes the trail for one location.
type LocationReport struct {
	ID         string   `json:"id"`
	Appended   uint64   `json:"appended"`
	Consumed   uint64   `json:"consumed"`
	Appends    int      `json:"appends"`
	Consumes   int      `json:"consumes"`
	Violations []string `json:"violations,omitempty"`
}

// Report is the result of Audit.
type Report struct {
	Entries   int              `json:"entries"`
	Locations []LocationReport `json:"locations"`
}

// OK reports whether no location has violations.
func (r *Report) OK() bool {
	for _, l := range r.Locations {
		if len(l.Violations) > 0 {
			return false
		}
	}
	return true
}

type ranges struct {
	appends  []Entry
	consumes []Entry
}

// Audit checks the trail since the last reset. For every location, appended
// ranges must be contiguous from offset zero, consumed ranges must never
// overlap, and every consumed range must lie within appended data.
//
// Entries are journaled after the pool operation completes, so concurrent
// consumers may be recorded out of order. Ranges are therefore sorted by
// offset before checking.
func (l *Ledger) Audit(ctx context.Context) (*Report, error) {
	byLoc := make(map[string]*ranges)
	report := &Report{}

	err := l.Entries(ctx, func(e *Entry) error {
		report.Entries++
		switch e.Kind {
		case KindReset:
			byLoc = make(map[string]*ranges)
			return nil
		case KindAppend, KindConsume:
		default:
			return fmt.Errorf("entry %d has unknown kind %q", e.Seq, e.Kind)
		}
		r, ok := byLoc[e.Location]
		if !ok {
			r = &ranges{}
			byLoc[e.Location] = r
		}
		if e.Kind == KindAppend {
			r.appends = append(r.appends, *e)
		} else {
			r.consumes = append(r.consumes, *e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(byLoc))
	for id := range byLoc {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		report.Locations = append(report.Locations, auditLocation(id, byLoc[id]))
	}
	return report, nil
}

func auditLocation(id string, r *ranges) LocationReport {
	rep := LocationReport{ID: id, Appends: len(r.appends), Consumes: len(r.consumes)}

	byStart := func(s []Entry) {
		sort.Slice(s, func(i, j int) bool { return s[i].Start < s[j].Start })
	}
	byStart(r.appends)
	byStart(r.consumes)

	var end uint64
	for _, a := range r.appends {
		if a.Start != end {
			rep.Violations = append(rep.Violations,
				fmt.Sprintf("append %d starts at %d, expected %d", a.Seq, a.Start, end))
		}
		end = max(end, a.End())
		rep.Appended += a.Length
	}

	var last uint64
	for i, c := range r.consumes {
		if i > 0 && c.Start < last {
			rep.Violations = append(rep.Violations,
				fmt.Sprintf("consume %d [%d,%d) overlaps an earlier range ending at %d", c.Seq, c.Start, c.End(), last))
		}
		if c.End() > end {
			rep.Violations = append(rep.Violations,
				fmt.Sprintf("consume %d [%d,%d) extends past appended data at %d", c.Seq, c.Start, c.End(), end))
		}
		last = max(last, c.End())
		rep.Consumed += c.Length
	}
	return rep
}
