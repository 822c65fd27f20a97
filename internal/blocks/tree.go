package blocks

import (
	"encoding/json"
	"sort"
)

// Node is the editor-facing nested representation of a block. Content and
// Props stay structured JSON; position is implicit in child order.
type Node struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Content  json.RawMessage `json:"content"`
	Props    json.RawMessage `json:"props"`
	Children []*Node         `json:"children"`
}

var (
	emptyContent = json.RawMessage(`[]`)
	emptyProps   = json.RawMessage(`{}`)
)

// Flatten converts a block tree into the persisted flat representation via a
// depth-first walk. Position is the node's 0-based index among its siblings
// and ParentID the traversal parent, nil at top level.
func Flatten(tree []*Node, noteID string) []Block {
	result := make([]Block, 0, len(tree))
	flattenInto(tree, noteID, nil, &result)
	return result
}

func flattenInto(nodes []*Node, noteID string, parentID *string, result *[]Block) {
	for index, node := range nodes {
		if node == nil {
			continue
		}
		*result = append(*result, Block{
			ID:       node.ID,
			NoteID:   noteID,
			ParentID: parentID,
			Type:     node.Type,
			Content:  rawToString(node.Content, emptyContent),
			Props:    rawToString(node.Props, emptyProps),
			Position: index,
		})
		if len(node.Children) > 0 {
			parent := node.ID
			flattenInto(node.Children, noteID, &parent, result)
		}
	}
}

// Unflatten rebuilds the nested tree from a flat block list. Siblings are
// ordered by Position ascending with ties keeping input order. Malformed
// Content or Props decode to an empty value so one corrupt block never blocks
// rendering of its siblings. Blocks whose parent chain revisits a node are
// dropped rather than looping.
func Unflatten(list []Block) []*Node {
	byParent := make(map[string][]Block, len(list))
	for _, block := range list {
		key := ParentKey(block.ParentID)
		byParent[key] = append(byParent[key], block)
	}
	visited := make(map[string]bool, len(list))
	return buildSubtree(byParent, "", visited)
}

func buildSubtree(byParent map[string][]Block, parentKey string, visited map[string]bool) []*Node {
	group := byParent[parentKey]
	if len(group) == 0 {
		return nil
	}
	sorted := make([]Block, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})

	nodes := make([]*Node, 0, len(sorted))
	for _, block := range sorted {
		if visited[block.ID] {
			continue
		}
		visited[block.ID] = true
		nodes = append(nodes, &Node{
			ID:       block.ID,
			Type:     block.Type,
			Content:  stringToRaw(block.Content, emptyContent),
			Props:    stringToRaw(block.Props, emptyProps),
			Children: buildSubtree(byParent, block.ID, visited),
		})
	}
	return nodes
}

func rawToString(raw json.RawMessage, fallback json.RawMessage) string {
	if len(raw) == 0 {
		return string(fallback)
	}
	return string(raw)
}

func stringToRaw(value string, fallback json.RawMessage) json.RawMessage {
	if value == "" || !json.Valid([]byte(value)) {
		return append(json.RawMessage(nil), fallback...)
	}
	return json.RawMessage(value)
}
