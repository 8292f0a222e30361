package record

import (
	"encoding/json"
	"strings"
	"testing"
)

func mustRecord(t *testing.T, typ Type, data any, time string) Record {
	t.Helper()
	r, err := New(typ, data, time)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestMutationWireShape(t *testing.T) {
	r := mustRecord(t, TypeDOMUpdate, DOMData{Mutations: []Mutation{
		AttributeMutation(3, "class", "x"),
	}}, "100")

	data, err := MarshalRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	for _, want := range []string{`"type":"DOM_UPDATE"`, `"mType":"attributes"`, `"nodeId":3`, `"attr":"class"`, `"value":"x"`, `"time":"100"`} {
		if !strings.Contains(got, want) {
			t.Errorf("wire form %s missing %s", got, want)
		}
	}
}

func TestTypedAccessors(t *testing.T) {
	r := mustRecord(t, TypeMouse, MouseData{Type: MouseClick, X: 10, Y: 20}, "5")

	m, err := r.Mouse()
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != MouseClick || m.X != 10 || m.Y != 20 {
		t.Errorf("Mouse: got %+v", m)
	}

	if _, err := r.DOM(); err == nil {
		t.Error("DOM on a MOUSE record: expected error")
	}
}

func TestSnapshotRecord(t *testing.T) {
	s := Snapshot{
		Time:     "1000",
		NodeTree: &VNode{Kind: KindDocument, Children: []*VNode{{Kind: KindElement, Tag: "html"}}},
		Href:     "https://example.com",
	}
	r, err := s.Record()
	if err != nil {
		t.Fatal(err)
	}
	if !IsSnapshot(r) {
		t.Fatal("IsSnapshot: got false")
	}
	if r.Time != "1000" {
		t.Errorf("Time: got %q, want 1000", r.Time)
	}

	got, err := r.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if got.Time != "1000" || got.Href != s.Href {
		t.Errorf("Snapshot: got %+v", got)
	}
	if got.NodeTree == nil || len(got.NodeTree.Children) != 1 || got.NodeTree.Children[0].Tag != "html" {
		t.Errorf("NodeTree: got %+v", got.NodeTree)
	}
	if strings.Contains(string(r.Data), `"time"`) {
		t.Errorf("payload repeats the record time: %s", r.Data)
	}
}

func TestClassify(t *testing.T) {
	snap := func(time string) Record {
		r, err := Snapshot{Time: time, NodeTree: &VNode{Kind: KindDocument}}.Record()
		if err != nil {
			t.Fatal(err)
		}
		return r
	}
	stream := []Record{
		mustRecord(t, TypeMouse, MouseData{Type: MouseMove}, "1"), // no baseline yet
		snap("10"),
		mustRecord(t, TypeMouse, MouseData{Type: MouseMove}, "11"),
		mustRecord(t, TypeTerminate, nil, "12"),
		snap("20"),
		mustRecord(t, TypeMouse, MouseData{Type: MouseClick}, "21"),
	}

	list := Classify(stream)
	if len(list) != 2 {
		t.Fatalf("segments: got %d, want 2", len(list))
	}
	if list[0].Snapshot.Time != "10" || len(list[0].Records) != 2 {
		t.Errorf("segment 0: got time %q with %d records", list[0].Snapshot.Time, len(list[0].Records))
	}
	if list[1].Snapshot.Time != "20" || len(list[1].Records) != 1 {
		t.Errorf("segment 1: got time %q with %d records", list[1].Snapshot.Time, len(list[1].Records))
	}

	flat, err := Flatten(list)
	if err != nil {
		t.Fatal(err)
	}
	if len(flat) != 5 {
		t.Fatalf("Flatten: got %d records, want 5", len(flat))
	}
	if again := Classify(flat); len(again) != 2 || len(again[0].Records) != 2 {
		t.Errorf("Classify(Flatten): got %+v", again)
	}
}

func TestAudioPresent(t *testing.T) {
	var none *Audio
	if none.Present() {
		t.Error("nil audio reported present")
	}
	if (&Audio{}).Present() {
		t.Error("empty audio reported present")
	}
	if !(&Audio{BufferStrList: []string{"AAAA"}}).Present() {
		t.Error("buffered audio reported absent")
	}
}

func TestDataListJSON(t *testing.T) {
	in := []ReplayData{{
		Snapshot: Snapshot{Time: "1", NodeTree: &VNode{Kind: KindDocument}},
		Records:  []Record{mustRecord(t, TypeTerminate, nil, "2")},
	}}
	data, err := MarshalDataList(in)
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(data) {
		t.Fatalf("invalid JSON: %s", data)
	}
	out, err := UnmarshalDataList(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Records[0].Type != TypeTerminate {
		t.Errorf("UnmarshalDataList: got %+v", out)
	}
}
