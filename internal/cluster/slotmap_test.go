package cluster

import "testing"

func TestSlotMap_AssignAllTo(t *testing.T) {
	m := NewSlotMap()
	m.AssignAllTo("node-a")

	owner, epoch := m.Owner(100)
	if owner != "node-a" {
		t.Errorf("Owner(100) = %q, want node-a", owner)
	}
	if epoch != 0 {
		t.Errorf("epoch = %d, want 0", epoch)
	}
	if got := m.OwnedBy("node-a"); len(got) != SlotCount {
		t.Errorf("OwnedBy(node-a) returned %d slots, want %d", len(got), SlotCount)
	}
}

func TestSlotMap_SetOwner_EpochWins(t *testing.T) {
	m := NewSlotMap()
	m.AssignAllTo("node-a")

	if ok := m.SetOwner(5, "aaa", 0); ok {
		t.Error("SetOwner with equal epoch and lexicographically smaller id should not apply")
	}
	owner, _ := m.Owner(5)
	if owner != "node-a" {
		t.Errorf("Owner(5) = %q, want node-a (claim should have been rejected)", owner)
	}

	if ok := m.SetOwner(5, "zzz", 0); !ok {
		t.Error("SetOwner with equal epoch and lexicographically larger id should apply")
	}
	owner, _ = m.Owner(5)
	if owner != "zzz" {
		t.Errorf("Owner(5) = %q, want zzz", owner)
	}

	if ok := m.SetOwner(5, "node-a", 1); !ok {
		t.Error("SetOwner with a strictly greater epoch should apply regardless of id")
	}
	owner, epoch := m.Owner(5)
	if owner != "node-a" || epoch != 1 {
		t.Errorf("Owner(5) = (%q, %d), want (node-a, 1)", owner, epoch)
	}
}

func TestSlotMap_MigrationLifecycle(t *testing.T) {
	m := NewSlotMap()
	m.AssignAllTo("node-a")

	m.BeginMigrating(10, "node-b")
	state, peer := m.StateOf(10)
	if state != Migrating || peer != "node-b" {
		t.Fatalf("StateOf(10) = (%v, %q), want (Migrating, node-b)", state, peer)
	}

	m.CompleteMigration(10, "node-b", 1)
	state, _ = m.StateOf(10)
	if state != Stable {
		t.Errorf("StateOf(10) after CompleteMigration = %v, want Stable", state)
	}
	owner, epoch := m.Owner(10)
	if owner != "node-b" || epoch != 1 {
		t.Errorf("Owner(10) = (%q, %d), want (node-b, 1)", owner, epoch)
	}
}

func TestSlotMap_AbortMigration(t *testing.T) {
	m := NewSlotMap()
	m.AssignAllTo("node-a")

	m.BeginImporting(20, "node-b")
	m.AbortMigration(20)

	state, peer := m.StateOf(20)
	if state != Stable || peer != "" {
		t.Errorf("StateOf(20) after abort = (%v, %q), want (Stable, \"\")", state, peer)
	}
	owner, _ := m.Owner(20)
	if owner != "node-a" {
		t.Errorf("Owner(20) after abort = %q, want node-a unchanged", owner)
	}
}

func TestSlotMap_Rows(t *testing.T) {
	m := NewSlotMap()
	m.AssignAllTo("node-a")
	for slot := 100; slot < 200; slot++ {
		m.SetOwner(slot, "node-b", 1)
	}

	rows := m.Rows()
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3 (before/owned-range/after)", len(rows))
	}
	if rows[0].Start != 0 || rows[0].End != 99 || rows[0].Owner != "node-a" {
		t.Errorf("row 0 = %+v, want {0 99 node-a}", rows[0])
	}
	if rows[1].Start != 100 || rows[1].End != 199 || rows[1].Owner != "node-b" {
		t.Errorf("row 1 = %+v, want {100 199 node-b}", rows[1])
	}
	if rows[2].Start != 200 || rows[2].End != SlotCount-1 || rows[2].Owner != "node-a" {
		t.Errorf("row 2 = %+v, want {200 %d node-a}", rows[2], SlotCount-1)
	}
}

func TestTargetDistribution(t *testing.T) {
	dist := TargetDistribution([]string{"a", "b", "c"})
	total := 0
	for _, n := range dist {
		total += n
	}
	if total != SlotCount {
		t.Errorf("sum of distribution = %d, want %d", total, SlotCount)
	}
	min, max := SlotCount, 0
	for _, n := range dist {
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	if max-min > 1 {
		t.Errorf("distribution not balanced: min=%d max=%d", min, max)
	}
}

func TestTargetDistribution_Empty(t *testing.T) {
	if got := TargetDistribution(nil); got != nil {
		t.Errorf("TargetDistribution(nil) = %v, want nil", got)
	}
}

func TestSlotMap_CountsByOwner(t *testing.T) {
	m := NewSlotMap()
	m.AssignAllTo("node-a")
	for slot := 0; slot < 50; slot++ {
		m.SetOwner(slot, "node-b", 1)
	}
	counts := m.CountsByOwner()
	if counts["node-b"] != 50 {
		t.Errorf("counts[node-b] = %d, want 50", counts["node-b"])
	}
	if counts["node-a"] != SlotCount-50 {
		t.Errorf("counts[node-a] = %d, want %d", counts["node-a"], SlotCount-50)
	}
}

func TestSlotMap_CountMigrating(t *testing.T) {
	m := NewSlotMap()
	m.AssignAllTo("node-a")
	if n := m.CountMigrating(); n != 0 {
		t.Fatalf("CountMigrating() on a fresh map = %d, want 0", n)
	}

	m.BeginMigrating(1, "node-b")
	m.BeginImporting(2, "node-c")
	if n := m.CountMigrating(); n != 2 {
		t.Errorf("CountMigrating() = %d, want 2", n)
	}

	m.CompleteMigration(1, "node-b", 1)
	if n := m.CountMigrating(); n != 1 {
		t.Errorf("CountMigrating() after completing one = %d, want 1", n)
	}

	m.AbortMigration(2)
	if n := m.CountMigrating(); n != 0 {
		t.Errorf("CountMigrating() after aborting the other = %d, want 0", n)
	}
}
