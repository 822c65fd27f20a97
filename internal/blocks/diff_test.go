package blocks

import "testing"

func snapshotFixture() []Block {
	return []Block{
		{ID: "a", NoteID: "n", Type: "paragraph", Content: `["one"]`, Props: `{}`, Position: 0},
		{ID: "b", NoteID: "n", Type: "paragraph", Content: `["two"]`, Props: `{}`, Position: 1},
		{ID: "c", NoteID: "n", Type: "paragraph", Content: `["three"]`, Props: `{}`, Position: 2},
	}
}

func TestDiffIdenticalListsProduceNothing(t *testing.T) {
	snapshot := snapshotFixture()
	cs := Diff(snapshot, snapshotFixture())
	if !cs.Empty() {
		t.Fatalf("expected empty change set, got %+v", cs)
	}
}

func TestDiffClassifiesCreates(t *testing.T) {
	snapshot := snapshotFixture()
	current := append(snapshotFixture(),
		Block{ID: "", NoteID: "n", Type: "paragraph", Content: `["new"]`, Position: 3},
		Block{ID: "d", NoteID: "n", Type: "paragraph", Content: `["proposed id"]`, Position: 4},
	)

	cs := Diff(snapshot, current)
	if len(cs.Creates) != 2 {
		t.Fatalf("expected 2 creates, got %d", len(cs.Creates))
	}
	if len(cs.Updates) != 0 || len(cs.Deletes) != 0 || len(cs.Reorders) != 0 {
		t.Fatalf("creates must not leak into other sets: %+v", cs)
	}
}

func TestDiffPositionOnlyChangeIsNotAnUpdate(t *testing.T) {
	snapshot := snapshotFixture()
	current := snapshotFixture()
	current[0], current[1] = current[1], current[0]
	current[0].Position = 0
	current[1].Position = 1

	cs := Diff(snapshot, current)
	if len(cs.Updates) != 0 {
		t.Fatalf("position-only change must not qualify as update: %+v", cs.Updates)
	}
	if len(cs.Reorders) != 2 {
		t.Fatalf("expected 2 reorders, got %d", len(cs.Reorders))
	}
	if cs.Reorders[0].ID != "b" || cs.Reorders[0].Position != 0 {
		t.Fatalf("unexpected first reorder: %+v", cs.Reorders[0])
	}
	if cs.Reorders[1].ID != "a" || cs.Reorders[1].Position != 1 {
		t.Fatalf("unexpected second reorder: %+v", cs.Reorders[1])
	}
}

func TestDiffClassifiesContentTypeAndPropsChanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Block)
	}{
		{name: "content", mutate: func(b *Block) { b.Content = `["changed"]` }},
		{name: "type", mutate: func(b *Block) { b.Type = "heading" }},
		{name: "props", mutate: func(b *Block) { b.Props = `{"bold":true}` }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := snapshotFixture()
			tt.mutate(&current[1])

			cs := Diff(snapshotFixture(), current)
			if len(cs.Updates) != 1 || cs.Updates[0].ID != "b" {
				t.Fatalf("expected single update of b, got %+v", cs.Updates)
			}
			if len(cs.Creates) != 0 || len(cs.Deletes) != 0 || len(cs.Reorders) != 0 {
				t.Fatalf("update must not leak into other sets: %+v", cs)
			}
		})
	}
}

func TestDiffClassifiesDeletes(t *testing.T) {
	current := snapshotFixture()[:2]
	cs := Diff(snapshotFixture(), current)
	if len(cs.Deletes) != 1 || cs.Deletes[0] != "c" {
		t.Fatalf("expected c deleted, got %+v", cs.Deletes)
	}
}

func TestDiffSetsPartitionWithoutOverlap(t *testing.T) {
	snapshot := snapshotFixture()
	parent := "a"
	current := []Block{
		{ID: "c", NoteID: "n", Type: "paragraph", Content: `["three updated"]`, Props: `{}`, Position: 0},
		{ID: "a", NoteID: "n", Type: "paragraph", Content: `["one"]`, Props: `{}`, Position: 1},
		{ID: "", NoteID: "n", Type: "paragraph", Content: `["brand new"]`, ParentID: &parent, Position: 0},
	}

	cs := Diff(snapshot, current)

	updated := make(map[string]bool)
	for _, block := range cs.Updates {
		updated[block.ID] = true
	}
	for _, block := range cs.Creates {
		if updated[block.ID] {
			t.Fatalf("block %s in both creates and updates", block.ID)
		}
	}
	for _, id := range cs.Deletes {
		if updated[id] {
			t.Fatalf("block %s in both deletes and updates", id)
		}
		for _, block := range cs.Creates {
			if block.ID == id {
				t.Fatalf("block %s in both creates and deletes", id)
			}
		}
	}

	if len(cs.Creates) != 1 || len(cs.Updates) != 1 || len(cs.Deletes) != 1 || len(cs.Reorders) != 2 {
		t.Fatalf("unexpected change set shape: %+v", cs)
	}
	if cs.Updates[0].ID != "c" {
		t.Fatalf("expected c updated, got %s", cs.Updates[0].ID)
	}
	if cs.Deletes[0] != "b" {
		t.Fatalf("expected b deleted, got %s", cs.Deletes[0])
	}
}
