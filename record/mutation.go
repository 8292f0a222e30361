package record

// MutationType is the kind of one DOM mutation.
type MutationType string

const (
	MutationAttributes    MutationType = "attributes"
	MutationCharacterData MutationType = "characterData"
	MutationChildList     MutationType = "childList"
)

// ChildListType distinguishes insertion from removal.
type ChildListType string

const (
	ChildAdd    ChildListType = "add"
	ChildDelete ChildListType = "delete"
)

// Mutation is one element of a DOM_UPDATE batch.
type Mutation struct {
	MType MutationType `json:"mType"`
	Data  MutationData `json:"data"`
}

// MutationData is the union of the three mutation payloads:
//
//	attributes:    nodeId, attr, value
//	characterData: nodeId, value
//	childList:     type, parentId, nodeId, node (add only)
type MutationData struct {
	Type     ChildListType `json:"type,omitempty"`
	ParentID int           `json:"parentId,omitempty"`
	NodeID   int           `json:"nodeId,omitempty"`
	Attr     string        `json:"attr,omitempty"`
	Value    string        `json:"value,omitempty"`
	Node     *VNode        `json:"node,omitempty"` // serialised subtree of an inserted node, ids included
}

// AttributeMutation records attribute attr of node id becoming value.
func AttributeMutation(id int, attr, value string) Mutation {
	return Mutation{MType: MutationAttributes, Data: MutationData{NodeID: id, Attr: attr, Value: value}}
}

// TextMutation records the character data of node id becoming value.
func TextMutation(id int, value string) Mutation {
	return Mutation{MType: MutationCharacterData, Data: MutationData{NodeID: id, Value: value}}
}

// AddMutation records node id being appended to parent. node may be nil
// when the replay side is expected to know the node already.
func AddMutation(parent, id int, node *VNode) Mutation {
	return Mutation{MType: MutationChildList, Data: MutationData{Type: ChildAdd, ParentID: parent, NodeID: id, Node: node}}
}

// RemoveMutation records a child being removed from parent. id is the
// removed node when it was known, 0 otherwise.
func RemoveMutation(parent, id int) Mutation {
	return Mutation{MType: MutationChildList, Data: MutationData{Type: ChildDelete, ParentID: parent, NodeID: id}}
}
