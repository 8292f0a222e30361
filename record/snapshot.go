package record

// NodeKind is the type of a serialised node.
type NodeKind string

const (
	KindDocument NodeKind = "document"
	KindDoctype  NodeKind = "doctype"
	KindElement  NodeKind = "element"
	KindText     NodeKind = "text"
	KindComment  NodeKind = "comment"
)

// Attr is an element attribute. A slice keeps source order, which keeps
// rendering deterministic.
type Attr struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// VNode is the serialised description of a document node and its subtree.
// Snapshot trees leave ID zero: identifiers are implied by depth-first walk
// order. Inserted subtrees carry the ids assigned at recording time.
type VNode struct {
	ID       int      `json:"id,omitempty"`
	Kind     NodeKind `json:"type"`
	Tag      string   `json:"tag,omitempty"`
	Attrs    []Attr   `json:"attrs,omitempty"`
	Text     string   `json:"text,omitempty"`
	Children []*VNode `json:"children,omitempty"`
}

// Snapshot is the full-document baseline captured at session start.
type Snapshot struct {
	Time     string `json:"time,omitempty"`
	NodeTree *VNode `json:"nodeTree"`
	Href     string `json:"href,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Record wraps the snapshot as a SNAPSHOT record so it can travel through
// the same emitter and store as every other record.
func (s Snapshot) Record() (Record, error) {
	body := s
	body.Time = ""
	return New(TypeSnapshot, body, s.Time)
}

// Subtitle is one timed caption of an audio track.
type Subtitle struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Text  string `json:"text"`
}

// Audio references the optional audio track of a segment. Capture and
// encoding happen elsewhere; only presence matters to playback.
type Audio struct {
	Src           string     `json:"src,omitempty"`
	BufferStrList []string   `json:"bufferStrList,omitempty"`
	Subtitles     []Subtitle `json:"subtitles,omitempty"`
}

// Present reports whether a track is available.
func (a *Audio) Present() bool {
	return a != nil && (a.Src != "" || len(a.BufferStrList) > 0)
}

// ReplayData is one recorded segment: snapshot, ordered records and an
// optional audio reference.
type ReplayData struct {
	Snapshot Snapshot `json:"snapshot"`
	Records  []Record `json:"records"`
	Audio    *Audio   `json:"audio,omitempty"`
}
