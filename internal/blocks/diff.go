package blocks

// ChangeSet partitions the difference between a synced snapshot and the
// current flattened editor state. Batches must be applied in create, update,
// delete, reorder order: deletes must not race ahead of creates that re-parent
// onto surviving siblings, and reorder depends on final membership.
type ChangeSet struct {
	Creates  []Block
	Updates  []Block
	Deletes  []string
	Reorders []PositionUpdate
}

// Empty reports whether the change set carries no work.
func (cs ChangeSet) Empty() bool {
	return len(cs.Creates) == 0 && len(cs.Updates) == 0 && len(cs.Deletes) == 0 && len(cs.Reorders) == 0
}

// Diff compares the last-synced snapshot against the current flattened list
// and classifies every divergence.
//
//   - Creates: current blocks with no id, or with an id absent from the snapshot.
//   - Updates: blocks in both whose content, type, or props differ. A change in
//     position alone never qualifies a block for the update set.
//   - Deletes: snapshot ids absent from the current list.
//   - Reorders: blocks in both whose index in the current ordering differs from
//     their index in the snapshot ordering.
func Diff(snapshot []Block, current []Block) ChangeSet {
	snapshotIndex := make(map[string]int, len(snapshot))
	for index, block := range snapshot {
		snapshotIndex[block.ID] = index
	}
	currentIDs := make(map[string]bool, len(current))
	for _, block := range current {
		if block.ID != "" {
			currentIDs[block.ID] = true
		}
	}

	var cs ChangeSet
	for index, block := range current {
		prevIndex, known := snapshotIndex[block.ID]
		if block.ID == "" || !known {
			cs.Creates = append(cs.Creates, block)
			continue
		}
		prev := snapshot[prevIndex]
		if prev.Content != block.Content || prev.Type != block.Type || prev.Props != block.Props {
			cs.Updates = append(cs.Updates, block)
		}
		if prevIndex != index {
			cs.Reorders = append(cs.Reorders, PositionUpdate{
				ID:       block.ID,
				Position: block.Position,
				ParentID: block.ParentID,
			})
		}
	}
	for _, block := range snapshot {
		if !currentIDs[block.ID] {
			cs.Deletes = append(cs.Deletes, block.ID)
		}
	}
	return cs
}
