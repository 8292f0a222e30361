package watcher

import (
	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/record"
)

// FormElement records value changes and focus movement on inputs,
// textareas and selects.
type FormElement struct {
	*base
}

// NewFormElement installs a form element watcher.
func NewFormElement(opts Options) (Watcher, error) {
	b, err := newBase(KindForm, opts)
	if err != nil {
		return nil, err
	}
	f := &FormElement{base: b}
	f.listen(dom.EventInput, f.onValue)
	f.listen(dom.EventChange, f.onValue)
	f.listen(dom.EventFocus, func(e dom.Event) { f.onFocus(record.FormFocus, e) })
	f.listen(dom.EventBlur, func(e dom.Event) { f.onFocus(record.FormBlur, e) })
	return f, nil
}

func (f *FormElement) target(e dom.Event) (int, bool) {
	if !dom.IsFormControl(e.Target) {
		return 0, false
	}
	return f.opts.Nodes.Lookup(e.Target)
}

func (f *FormElement) onValue(e dom.Event) {
	id, ok := f.target(e)
	if !ok {
		return
	}
	value := e.Value
	if value == "" {
		value = f.opts.Context.Value(e.Target)
	}
	f.emit(record.TypeFormElUpdate, record.FormData{Type: record.FormInput, ID: id, Value: value})
}

func (f *FormElement) onFocus(typ record.FormType, e dom.Event) {
	id, ok := f.target(e)
	if !ok {
		return
	}
	f.emit(record.TypeFormElUpdate, record.FormData{Type: typ, ID: id})
}
