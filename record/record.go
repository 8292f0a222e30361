// Package record defines the transport shapes produced by the watchers and
// consumed by the player. Any consumer of a recording (stores, exporters,
// custom pipelines) imports this package.
package record

import (
	"encoding/json"
	"fmt"
)

// Type is the category of a Record.
type Type string

const (
	TypeSnapshot     Type = "SNAPSHOT"       // full-document baseline, starts a segment
	TypeMouse        Type = "MOUSE"          // pointer move or click
	TypeDOMUpdate    Type = "DOM_UPDATE"     // batch of document mutations
	TypeFormElUpdate Type = "FORM_EL_UPDATE" // form control input/focus/blur
	TypeTerminate    Type = "TERMINATE"      // session end, always last
)

// Record is one immutable, timestamped unit of captured change. Data is the
// type-specific payload; Time is an encoded timestamp (see package codec).
type Record struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
	Time string          `json:"time"`
}

// New builds a Record by marshalling data. A nil data yields a JSON null.
func New(typ Type, data any, time string) (Record, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Record{}, fmt.Errorf("record: marshal %s data: %w", typ, err)
	}
	return Record{Type: typ, Data: raw, Time: time}, nil
}

// IsSnapshot reports whether r carries a snapshot.
func IsSnapshot(r Record) bool {
	return r.Type == TypeSnapshot
}

// MouseEventType distinguishes pointer records.
type MouseEventType string

const (
	MouseMove  MouseEventType = "MOVE"
	MouseClick MouseEventType = "CLICK"
)

// MouseData is the payload of a MOUSE record.
type MouseData struct {
	Type MouseEventType `json:"type"`
	X    int            `json:"x"`
	Y    int            `json:"y"`
	ID   int            `json:"id,omitempty"` // target node, 0 when unknown
}

// FormType distinguishes form element updates.
type FormType string

const (
	FormInput FormType = "INPUT"
	FormFocus FormType = "FOCUS"
	FormBlur  FormType = "BLUR"
)

// FormData is the payload of a FORM_EL_UPDATE record.
type FormData struct {
	Type  FormType `json:"type"`
	ID    int      `json:"id"`
	Value string   `json:"value,omitempty"`
}

// DOMData is the payload of a DOM_UPDATE record. Mutation order is the
// order they were observed and must be replayed unchanged.
type DOMData struct {
	Mutations []Mutation `json:"mutations"`
}

// Mouse decodes a MOUSE payload.
func (r Record) Mouse() (MouseData, error) {
	var d MouseData
	return d, r.decode(TypeMouse, &d)
}

// DOM decodes a DOM_UPDATE payload.
func (r Record) DOM() (DOMData, error) {
	var d DOMData
	return d, r.decode(TypeDOMUpdate, &d)
}

// Form decodes a FORM_EL_UPDATE payload.
func (r Record) Form() (FormData, error) {
	var d FormData
	return d, r.decode(TypeFormElUpdate, &d)
}

// Snapshot decodes a SNAPSHOT record. The record time becomes the
// snapshot time.
func (r Record) Snapshot() (Snapshot, error) {
	var s Snapshot
	if err := r.decode(TypeSnapshot, &s); err != nil {
		return Snapshot{}, err
	}
	s.Time = r.Time
	return s, nil
}

func (r Record) decode(want Type, v any) error {
	if r.Type != want {
		return fmt.Errorf("record: type %s is not %s", r.Type, want)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("record: decode %s: %w", r.Type, err)
	}
	return nil
}
