package pin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/qflow/qflow/internal/platform/clock"
	"github.com/qflow/qflow/internal/platform/kv"
)

// casAttempts bounds the optimistic-write loop. Contention on the day
// document is rare (a handful of clinics, lazy generation), so losing the
// race this many times in a row means something is wrong.
const casAttempts = 5

type repoKV struct {
	store kv.Store
}

// NewKVRepo stores the whole day's PIN state as one JSON document under
// pin:<day>. The single document makes the day-wide uniqueness check and
// the claim one conditional write.
func NewKVRepo(store kv.Store) Repository {
	return &repoKV{store: store}
}

func dayKey(day clock.ServiceDay) string {
	return "pin:" + string(day)
}

type dayDoc struct {
	// Active maps clinic -> current record.
	Active map[string]*PinRecord `json:"active"`
	// Used maps code -> clinic for every code consumed this day.
	Used map[string]string `json:"used"`
	// Retired keeps superseded records for the day's audit trail.
	Retired []*PinRecord `json:"retired,omitempty"`
}

func (r *repoKV) load(ctx context.Context, day clock.ServiceDay) (*dayDoc, int64, error) {
	raw, version, err := r.store.Get(ctx, dayKey(day))
	if errors.Is(err, kv.ErrNotFound) {
		return &dayDoc{Active: map[string]*PinRecord{}, Used: map[string]string{}}, kv.NoVersion, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load pin day %s: %w", day, err)
	}
	var doc dayDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, 0, fmt.Errorf("decode pin day %s: %w", day, err)
	}
	if doc.Active == nil {
		doc.Active = map[string]*PinRecord{}
	}
	if doc.Used == nil {
		doc.Used = map[string]string{}
	}
	return &doc, version, nil
}

func (r *repoKV) Get(ctx context.Context, day clock.ServiceDay, clinic string) (*PinRecord, error) {
	doc, _, err := r.load(ctx, day)
	if err != nil {
		return nil, err
	}
	rec, ok := doc.Active[clinic]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (r *repoKV) Active(ctx context.Context, day clock.ServiceDay) ([]*PinRecord, error) {
	doc, _, err := r.load(ctx, day)
	if err != nil {
		return nil, err
	}
	out := make([]*PinRecord, 0, len(doc.Active))
	for _, rec := range doc.Active {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Clinic < out[j].Clinic })
	return out, nil
}

func (r *repoKV) UsedCodes(ctx context.Context, day clock.ServiceDay) (map[string]string, error) {
	doc, _, err := r.load(ctx, day)
	if err != nil {
		return nil, err
	}
	return doc.Used, nil
}

func (r *repoKV) Claim(ctx context.Context, rec *PinRecord, supersede bool, ttl time.Duration) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		doc, version, err := r.load(ctx, rec.Day)
		if err != nil {
			return err
		}
		if holder, used := doc.Used[rec.Code]; used && holder != rec.Clinic {
			return ErrCodeTaken
		}
		if old, ok := doc.Active[rec.Clinic]; ok {
			if !supersede {
				return ErrAlreadyActive
			}
			doc.Retired = append(doc.Retired, old)
		}
		doc.Active[rec.Clinic] = rec
		doc.Used[rec.Code] = rec.Clinic

		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode pin day %s: %w", rec.Day, err)
		}
		err = r.store.Put(ctx, dayKey(rec.Day), raw, kv.PutOptions{IfVersion: version, TTL: ttl})
		if err == nil {
			return nil
		}
		if !errors.Is(err, kv.ErrVersionConflict) {
			return fmt.Errorf("claim pin for %s: %w", rec.Clinic, err)
		}
	}
	return fmt.Errorf("claim pin for %s: %w", rec.Clinic, kv.ErrVersionConflict)
}
