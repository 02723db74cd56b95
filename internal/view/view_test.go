package view

import (
	"testing"

	"github.com/fleetdb/fleetdb/internal/model"
)

type fakeReader struct {
	objects map[string]model.Object
}

func (r *fakeReader) Get(id string) (model.Object, bool) {
	o, ok := r.objects[id]
	return o, ok
}

func (r *fakeReader) RangeByPrefix(prefix string) []model.Object {
	var out []model.Object
	for _, o := range r.objects {
		out = append(out, o)
	}
	return out
}

func newWidgets() *fakeReader {
	return &fakeReader{objects: map[string]model.Object{
		"app.widgets.1": {"_id": "app.widgets.1", "price": 10.0},
		"app.widgets.2": {"_id": "app.widgets.2", "price": 25.0},
		"app.widgets.3": {"_id": "app.widgets.3", "price": 5.0},
		"_design/widgets": {
			"_id": "_design/widgets",
			"views": map[string]interface{}{
				"by_price": map[string]interface{}{
					"map":    "function(doc) { if (doc.price) emit(doc._id, doc.price); }",
					"reduce": "_stats",
				},
				"plain": map[string]interface{}{
					"map": "function(doc) { emit(doc._id, doc.price); }",
				},
			},
		},
	}}
}

func TestApplyViewEmitsPerDocument(t *testing.T) {
	e := NewExecutor()
	reader := newWidgets()

	rows, err := e.GetObjectView(reader, "widgets", "plain", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 emitted rows, got %d: %+v", len(rows), rows)
	}
}

func TestApplyViewWithStatsReducesToSingleMaxRow(t *testing.T) {
	e := NewExecutor()
	reader := newWidgets()

	rows, err := e.GetObjectView(reader, "widgets", "by_price", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "_stats" {
		t.Fatalf("expected single _stats row, got %+v", rows)
	}
	value, ok := rows[0].Value.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map value, got %T", rows[0].Value)
	}
	if value["max"].(float64) != 25.0 {
		t.Fatalf("expected max 25, got %v", value["max"])
	}
}

func TestApplyViewEmptyInputYieldsNoStatsRow(t *testing.T) {
	e := NewExecutor()
	rows := reduceStats(nil)
	if rows != nil {
		t.Fatalf("expected nil rows for empty input, got %+v", rows)
	}
	_ = e
}

func TestGetObjectViewUnknownDesignIs404(t *testing.T) {
	e := NewExecutor()
	reader := newWidgets()

	_, err := e.GetObjectView(reader, "ghost", "plain", "", "")
	nf, ok := err.(*NotFound)
	if !ok {
		t.Fatalf("expected *NotFound, got %v", err)
	}
	if nf.StatusCode() != 404 {
		t.Fatalf("expected status code 404, got %d", nf.StatusCode())
	}
}

func TestGetObjectViewUnknownSearchIs404(t *testing.T) {
	e := NewExecutor()
	reader := newWidgets()

	if _, err := e.GetObjectView(reader, "widgets", "ghost", "", ""); err == nil {
		t.Fatalf("expected error for unknown search name")
	}
}

func TestGetObjectViewRespectsStartEndKeys(t *testing.T) {
	e := NewExecutor()
	reader := newWidgets()

	rows, err := e.GetObjectView(reader, "widgets", "plain", "app.widgets.2", "app.widgets.3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows within range, got %d: %+v", len(rows), rows)
	}
}

func TestScriptCompiledOnce(t *testing.T) {
	e := NewExecutor()
	body := "function(doc) { emit(doc._id, 1); }"

	s1, err := e.compiled(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := e.compiled(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected cached script to be reused")
	}
}

func TestMapBodyCannotReachObjectStore(t *testing.T) {
	e := NewExecutor()
	fn := Func{Map: "function(doc) { emit('x', typeof store); }"}

	rows, err := e.ApplyView(fn, []model.Object{{"_id": "a"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].Value != "undefined" {
		t.Fatalf("expected map body to see no store global, got %+v", rows)
	}
}
