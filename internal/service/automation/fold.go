package automation

import (
	"sort"

	"github.com/google/uuid"

	"automation-engine/internal/model"
)

// FoldEvents reduces raw provider events to one record per recipient.
// Events are grouped by normalised email and applied in date order. A recipient
// with an existing record continues from it; otherwise the first event seeds a
// sent record stamped with that event's date. The result is sorted by email.
func FoldEvents(batchID uuid.UUID, existing map[string]model.SendRecord, events []model.ProviderEvent) []model.SendRecord {
	groups := make(map[string][]model.ProviderEvent)
	for _, ev := range events {
		email := model.NormalizeEmail(ev.Email)
		if email == "" {
			continue
		}
		groups[email] = append(groups[email], ev)
	}

	out := make([]model.SendRecord, 0, len(groups))
	for email, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Date.Before(group[j].Date)
		})

		rec, ok := existing[email]
		if ok {
			rec = rec.Clone()
		} else {
			first := group[0].Date
			rec = model.SendRecord{
				BatchID:        batchID,
				RecipientEmail: email,
				Status:         model.SendStatusSent,
			}
			if !first.IsZero() {
				rec.SentAt = &first
			}
		}

		for _, ev := range group {
			rec.Apply(ev)
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RecipientEmail < out[j].RecipientEmail })
	return out
}
