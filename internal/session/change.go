package session

import (
	"sort"
	"time"

	"smartengo-backend/internal/model"
)

// FieldGroup is a set of toilet columns that are always written together.
// Concurrent writes are checked per group: writes touching disjoint groups
// both apply, writes touching a shared group from a stale snapshot are rejected.
type FieldGroup string

const (
	GroupProfile   FieldGroup = "profile"   // name, location
	GroupStatus    FieldGroup = "status"    // status
	GroupOccupancy FieldGroup = "occupancy" // is_occupied, occupied_since
	GroupPayment   FieldGroup = "payment"   // is_paid, last_payment_time
	GroupOverride  FieldGroup = "override"  // manual_open_enabled
)

// AllGroups lists every field group in a stable order.
var AllGroups = []FieldGroup{GroupProfile, GroupStatus, GroupOccupancy, GroupPayment, GroupOverride}

// ParseFieldGroup returns the group named s.
func ParseFieldGroup(s string) (FieldGroup, bool) {
	for _, g := range AllGroups {
		if string(g) == s {
			return g, true
		}
	}
	return "", false
}

// RevisionColumn is the column holding the group's revision counter.
func (g FieldGroup) RevisionColumn() string {
	return string(g) + "_rev"
}

// Revision returns the group's revision in t.
func (g FieldGroup) Revision(t *model.Toilet) int64 {
	switch g {
	case GroupProfile:
		return t.ProfileRev
	case GroupStatus:
		return t.StatusRev
	case GroupOccupancy:
		return t.OccupancyRev
	case GroupPayment:
		return t.PaymentRev
	case GroupOverride:
		return t.OverrideRev
	}
	return 0
}

func (g FieldGroup) columns(t *model.Toilet) map[string]any {
	switch g {
	case GroupProfile:
		return map[string]any{"name": t.Name, "location": t.Location}
	case GroupStatus:
		return map[string]any{"status": t.Status}
	case GroupOccupancy:
		return map[string]any{"is_occupied": t.IsOccupied, "occupied_since": t.OccupiedSince}
	case GroupPayment:
		return map[string]any{"is_paid": t.IsPaid, "last_payment_time": t.LastPaymentTime}
	case GroupOverride:
		return map[string]any{"manual_open_enabled": t.ManualOpenEnabled}
	}
	return nil
}

// Revisions returns every group revision of t.
func Revisions(t *model.Toilet) map[FieldGroup]int64 {
	revs := make(map[FieldGroup]int64, len(AllGroups))
	for _, g := range AllGroups {
		revs[g] = g.Revision(t)
	}
	return revs
}

// Change is the outcome of a transition: the snapshot it was computed from,
// the resulting toilet, and the groups the transition assigns.
type Change struct {
	Before model.Toilet
	After  model.Toilet

	// Expected holds the revision each touched group must still have when the
	// change is written. It defaults to the revisions in Before.
	Expected map[FieldGroup]int64

	groups map[FieldGroup]struct{}
}

func newChange(t *model.Toilet) *Change {
	return &Change{
		Before:   *t,
		After:    *t,
		Expected: make(map[FieldGroup]int64),
		groups:   make(map[FieldGroup]struct{}),
	}
}

func (c *Change) touch(g FieldGroup) {
	if _, ok := c.groups[g]; ok {
		return
	}
	c.groups[g] = struct{}{}
	c.Expected[g] = g.Revision(&c.Before)
}

// ToiletID is the id of the toilet the change applies to.
func (c *Change) ToiletID() string {
	return c.Before.ID
}

// Touches reports whether the change assigns any column of g.
func (c *Change) Touches(g FieldGroup) bool {
	_, ok := c.groups[g]
	return ok
}

// Groups returns the touched groups in a stable order.
func (c *Change) Groups() []FieldGroup {
	groups := make([]FieldGroup, 0, len(c.groups))
	for g := range c.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups
}

// Empty reports whether the change assigns nothing.
func (c *Change) Empty() bool {
	return len(c.groups) == 0
}

// Columns returns the column values to write, taken from After.
func (c *Change) Columns() map[string]any {
	cols := make(map[string]any)
	for g := range c.groups {
		for k, v := range g.columns(&c.After) {
			cols[k] = v
		}
	}
	return cols
}

// ExpectRevisions overrides the expected revision of touched groups with
// revisions the caller observed earlier. Groups the change does not touch are
// ignored.
func (c *Change) ExpectRevisions(revs map[FieldGroup]int64) {
	for g, rev := range revs {
		if c.Touches(g) {
			c.Expected[g] = rev
		}
	}
}

func (c *Change) setOccupied(now time.Time) {
	c.touch(GroupOccupancy)
	if !c.After.IsOccupied || c.After.OccupiedSince == nil {
		since := now
		c.After.OccupiedSince = &since
	}
	c.After.IsOccupied = true
}

func (c *Change) clearOccupied() {
	c.touch(GroupOccupancy)
	c.After.IsOccupied = false
	c.After.OccupiedSince = nil
}

func (c *Change) setStatus(s model.ToiletStatus) {
	c.touch(GroupStatus)
	c.After.Status = s
}
