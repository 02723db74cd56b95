// Copyright 2024 Kelvin Clement Mwinuka
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package view implements the map/reduce view executor (§4.D): map
// function bodies run sandboxed in an embedded JavaScript VM that
// exposes nothing but `emit` and the candidate document, never the
// store itself. It is grounded on the teacher's own embedded-JS plugin
// system (sugardb/plugin_javascript.go) -- an otto.Otto VM per script,
// Go closures registered as globals, results pulled back out via
// Value.Export -- narrowed from a whole command-handler surface to the
// single `emit` callback the spec allows a map body to see.
package view

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/robertkrimen/otto"

	"github.com/fleetdb/fleetdb/internal/model"
)

// Func is a stored map/reduce view definition (§4.D).
type Func struct {
	Map    string `json:"map"`
	Reduce string `json:"reduce,omitempty"`
}

// Row is one emitted (or reduced) output row.
type Row struct {
	ID    string
	Value interface{}
}

// NotFound is returned by GetObjectView when design or search is
// unknown (§4.D "unknown design/search returns {status_code:404,...}").
type NotFound struct {
	Design string
	Search string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("view %s/%s not found", e.Design, e.Search)
}

// StatusCode satisfies the façade's wire-error shape.
func (e *NotFound) StatusCode() int { return 404 }

// StatusText satisfies the façade's wire-error shape.
func (e *NotFound) StatusText() string {
	return fmt.Sprintf("missing view %s in design %s", e.Search, e.Design)
}

// Executor runs map functions in sandboxed otto VMs, one per document,
// with compiled scripts cached by source body.
type Executor struct {
	mu      sync.Mutex
	scripts map[string]*otto.Script
}

// NewExecutor returns an empty, ready-to-use Executor.
func NewExecutor() *Executor {
	return &Executor{scripts: make(map[string]*otto.Script)}
}

func (e *Executor) compiled(mapBody string) (*otto.Script, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.scripts[mapBody]; ok {
		return s, nil
	}

	src := strings.TrimSpace(mapBody)
	if !strings.HasPrefix(src, "(") {
		src = "(" + src + ")"
	}

	vm := otto.New()
	script, err := vm.Compile("view-map.js", src)
	if err != nil {
		return nil, err
	}
	e.scripts[mapBody] = script
	return script, nil
}

// ApplyView runs fn.Map against every doc in docs, in isolation (a
// fresh VM per document so a map body can never retain a reference
// across documents), then applies fn.Reduce if set (§4.D).
func (e *Executor) ApplyView(fn Func, docs []model.Object) ([]Row, error) {
	script, err := e.compiled(fn.Map)
	if err != nil {
		return nil, fmt.Errorf("view: invalid map function: %w", err)
	}

	var rows []Row
	for _, doc := range docs {
		emitted, err := runOne(script, doc)
		if err != nil {
			log.Printf("view: map failed for document %q: %v", doc.ID(), err)
			continue
		}
		rows = append(rows, emitted...)
	}

	if fn.Reduce == "_stats" {
		return reduceStats(rows), nil
	}
	return rows, nil
}

// runOne evaluates the compiled map script against one document in a
// fresh VM exposing only emit and the document itself.
func runOne(script *otto.Script, doc model.Object) (rows []Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	vm := otto.New()
	_ = vm.Set("emit", func(call otto.FunctionCall) otto.Value {
		key, _ := call.Argument(0).ToString()
		val, _ := call.Argument(1).Export()
		rows = append(rows, Row{ID: key, Value: val})
		return otto.UndefinedValue()
	})

	fnValue, err := vm.Run(script)
	if err != nil {
		return nil, err
	}
	if !fnValue.IsFunction() {
		return nil, fmt.Errorf("map body did not evaluate to a function")
	}

	docValue, err := vm.ToValue(map[string]interface{}(doc))
	if err != nil {
		return nil, err
	}
	if _, err := fnValue.Call(otto.UndefinedValue(), docValue); err != nil {
		return nil, err
	}
	return rows, nil
}

// reduceStats implements the _stats built-in reducer: a single row
// keyed "_stats" whose value is {max} over every emitted value (§4.D).
// Empty input yields no rows.
func reduceStats(rows []Row) []Row {
	if len(rows) == 0 {
		return nil
	}
	var max float64
	have := false
	for _, r := range rows {
		n, ok := toFloat(r.Value)
		if !ok {
			continue
		}
		if !have || n > max {
			max = n
			have = true
		}
	}
	if !have {
		return nil
	}
	return []Row{{ID: "_stats", Value: map[string]interface{}{"max": max}}}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// ObjectReader is the slice of the object store the view executor
// needs: a point lookup for design documents and a sorted range scan
// for the candidate documents a view runs over.
type ObjectReader interface {
	Get(id string) (model.Object, bool)
	RangeByPrefix(prefix string) []model.Object
}

// GetObjectView looks up _design/<design>.views[<search>] and runs it
// over every object in [startkey, endkey] (§4.D).
func (e *Executor) GetObjectView(reader ObjectReader, design, search, startkey, endkey string) ([]Row, error) {
	designDoc, ok := reader.Get("_design/" + design)
	if !ok {
		return nil, &NotFound{Design: design, Search: search}
	}

	raw, ok := designDoc["views"]
	if !ok {
		return nil, &NotFound{Design: design, Search: search}
	}
	viewsJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, &NotFound{Design: design, Search: search}
	}
	var views map[string]Func
	if err := json.Unmarshal(viewsJSON, &views); err != nil {
		return nil, &NotFound{Design: design, Search: search}
	}

	fn, ok := views[search]
	if !ok {
		return nil, &NotFound{Design: design, Search: search}
	}

	docs := reader.RangeByPrefix("")
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })

	var filtered []model.Object
	for _, doc := range docs {
		id := doc.ID()
		if startkey != "" && id < startkey {
			continue
		}
		if endkey != "" && id > endkey {
			continue
		}
		filtered = append(filtered, doc)
	}

	return e.ApplyView(fn, filtered)
}
