package objectstore

import (
	"testing"

	"github.com/fleetdb/fleetdb/internal/acl"
	"github.com/fleetdb/fleetdb/internal/constants"
	"github.com/fleetdb/fleetdb/internal/model"
)

func adminSubject() *model.Subject {
	return &model.Subject{User: constants.AdminUser}
}

func TestSetObjectAssignsIDAndDefaultACL(t *testing.T) {
	s := New(acl.NewEngine(), nil, nil)
	s.SetDefaultACL(model.DefaultACL{Object: model.PermRead << model.ShiftEveryone})

	obj, err := s.SetObject("app.widgets.1", model.Object{"common": map[string]interface{}{"name": "widget"}}, SetOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.ID() != "app.widgets.1" {
		t.Fatalf("expected _id to be assigned, got %q", obj.ID())
	}
	a, ok := obj.ACL()
	if !ok || a.Object != model.PermRead<<model.ShiftEveryone {
		t.Fatalf("expected default ACL to be assigned, got %+v ok=%v", a, ok)
	}
}

func TestSetObjectRejectsInvalidID(t *testing.T) {
	s := New(acl.NewEngine(), nil, nil)
	if _, err := s.SetObject("bad]id", model.Object{}, SetOptions{}); err == nil {
		t.Fatalf("expected invalid id to be rejected")
	}
}

func TestSetObjectInheritsOldACLWhenNewHasNone(t *testing.T) {
	s := New(acl.NewEngine(), nil, nil)
	first, _ := s.SetObject("app.widgets.1", model.Object{}, SetOptions{})
	firstACL, _ := first.ACL()

	second, err := s.SetObject("app.widgets.1", model.Object{"common": map[string]interface{}{"name": "renamed"}}, SetOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	secondACL, ok := second.ACL()
	if !ok || secondACL != firstACL {
		t.Fatalf("expected inherited ACL %+v, got %+v ok=%v", firstACL, secondACL, ok)
	}
}

func TestPreserveSettingsDeletesOnNullCopiesOnAbsence(t *testing.T) {
	s := New(acl.NewEngine(), nil, nil)
	_, _ = s.SetObject("app.widgets.1", model.Object{
		"common": map[string]interface{}{"name": "widget", "tag": "blue"},
	}, SetOptions{})

	result, err := s.SetObject("app.widgets.1", model.Object{
		"common": map[string]interface{}{"name": nil},
	}, SetOptions{PreserveSettings: []string{"common.name", "common.tag"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	common := result.Common()
	if _, has := common["name"]; has {
		t.Fatalf("expected common.name to be deleted by explicit null, got %v", common["name"])
	}
	if common["tag"] != "blue" {
		t.Fatalf("expected common.tag to be copied forward from the old object, got %v", common["tag"])
	}
}

func TestExtendObjectDeepMerges(t *testing.T) {
	s := New(acl.NewEngine(), nil, nil)
	_, _ = s.SetObject("app.widgets.1", model.Object{
		"common": map[string]interface{}{"name": "widget", "tag": "blue"},
	}, SetOptions{})

	result, err := s.ExtendObject("app.widgets.1", map[string]interface{}{
		"common": map[string]interface{}{"tag": "red"},
	}, SetOptions{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	common := result.Common()
	if common["name"] != "widget" {
		t.Fatalf("expected untouched field to survive the merge, got %v", common["name"])
	}
	if common["tag"] != "red" {
		t.Fatalf("expected merged field to be updated, got %v", common["tag"])
	}
}

func TestExtendObjectRejectsNonEditableViolation(t *testing.T) {
	s := New(acl.NewEngine(), nil, nil)
	_, _ = s.SetObject("app.widgets.1", model.Object{
		"common": map[string]interface{}{"nonEdit": true, "tag": "blue"},
	}, SetOptions{})

	checker := func(old, next model.Object) bool { return false }
	if _, err := s.ExtendObject("app.widgets.1", map[string]interface{}{
		"common": map[string]interface{}{"tag": "red"},
	}, SetOptions{}, checker); err == nil {
		t.Fatalf("expected non-editable violation to be rejected")
	}

	stored := s.GetObject("app.widgets.1")
	if stored.Common()["tag"] != "blue" {
		t.Fatalf("expected rejected extend to leave the stored object untouched, got %v", stored.Common()["tag"])
	}
}

func TestDelObjectRefusesDontDelete(t *testing.T) {
	s := New(acl.NewEngine(), nil, nil)
	_, _ = s.SetObject("app.widgets.1", model.Object{
		"common": map[string]interface{}{"dontDelete": true},
	}, SetOptions{})

	if err := s.DelObject("app.widgets.1"); err != ErrDontDelete {
		t.Fatalf("expected ErrDontDelete, got %v", err)
	}
}

func TestDelObjectRemovesFromIndex(t *testing.T) {
	s := New(acl.NewEngine(), nil, nil)
	_, _ = s.SetObject("app.widgets.1", model.Object{}, SetOptions{})
	if err := s.DelObject("app.widgets.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.GetObject("app.widgets.1") != nil {
		t.Fatalf("expected object to be gone after delete")
	}
	keys := s.GetKeys("app.*", adminSubject())
	if len(keys) != 0 {
		t.Fatalf("expected no keys remaining, got %v", keys)
	}
}

func TestGetKeysReturnsSortedMatches(t *testing.T) {
	s := New(acl.NewEngine(), nil, nil)
	_, _ = s.SetObject("app.widgets.2", model.Object{}, SetOptions{})
	_, _ = s.SetObject("app.widgets.1", model.Object{}, SetOptions{})
	_, _ = s.SetObject("other.thing", model.Object{}, SetOptions{})

	keys := s.GetKeys("app.*", adminSubject())
	if len(keys) != 2 || keys[0] != "app.widgets.1" || keys[1] != "app.widgets.2" {
		t.Fatalf("expected sorted app.* matches, got %v", keys)
	}
}

func TestGetObjectListSkipsUnderscoreWhenDocsExcluded(t *testing.T) {
	s := New(acl.NewEngine(), nil, nil)
	_, _ = s.SetObject("_internal.thing", model.Object{}, SetOptions{})
	_, _ = s.SetObject("app.widgets.1", model.Object{}, SetOptions{})

	rows := s.GetObjectList(ListOptions{Sorted: true, IncludeDocs: false}, adminSubject())
	for _, row := range rows {
		if row.ID == "_internal.thing" {
			t.Fatalf("expected underscore-prefixed id to be skipped when include_docs is false")
		}
	}

	rowsWithDocs := s.GetObjectList(ListOptions{Sorted: true, IncludeDocs: true}, adminSubject())
	found := false
	for _, row := range rowsWithDocs {
		if row.ID == "_internal.thing" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected underscore-prefixed id to be present when include_docs is true")
	}
}

func TestFindObjectByNameFallsBackFromID(t *testing.T) {
	s := New(acl.NewEngine(), nil, nil)
	_, _ = s.SetObject("app.widgets.1", model.Object{
		"common": map[string]interface{}{"name": "special-widget"},
	}, SetOptions{})

	obj, ok := s.FindObject("special-widget", "", adminSubject())
	if !ok || obj.ID() != "app.widgets.1" {
		t.Fatalf("expected name-based lookup to find app.widgets.1, got %v ok=%v", obj, ok)
	}
}

func TestDefaultACLBackPropagatesToACLLessObjects(t *testing.T) {
	s := New(acl.NewEngine(), nil, nil)
	_, _ = s.SetObject("app.widgets.1", model.Object{}, SetOptions{})
	if _, has := s.GetObject("app.widgets.1").ACL(); !has {
		t.Fatalf("expected an ACL-less object to still receive the zero-value default on creation")
	}

	_, err := s.SetObject(constants.ConfigObjectID, model.Object{
		"common": map[string]interface{}{
			"defaultNewAcl": map[string]interface{}{"object": float64(0x444)},
		},
	}, SetOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := s.GetObject("app.widgets.1").ACL()
	if a.Object != model.Perm(0x444) {
		t.Fatalf("expected back-propagated default ACL 0x444, got %#x", uint16(a.Object))
	}
}
