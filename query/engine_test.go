package query

import (
	"encoding/json"
	"testing"

	"github.com/junctive/contexd/entity"
)

type staticLister []*entity.Entity

func (s staticLister) Snapshot() []*entity.Entity { return s }

func fixtureEntities() staticLister {
	mk := func(id, entityType, temp string) *entity.Entity {
		e := entity.New(id, entityType)
		e.SetAttr("temperature", &entity.Attribute{Value: json.Number(temp), Type: entity.TypeNumber})
		return e
	}
	return staticLister{
		mk("room1", "Room", "21"),
		mk("room2", "Room", "25"),
		mk("room3", "Room", "29"),
		mk("car1", "Car", "60"),
	}
}

func ids(entities []*entity.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}

func equalIDs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestQueryNoFiltersReturnsAll(t *testing.T) {
	engine := NewEngine(fixtureEntities())

	results, total, err := engine.Query(Request{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
	if !equalIDs(ids(results), []string{"room1", "room2", "room3", "car1"}) {
		t.Errorf("unexpected order: %v", ids(results))
	}
}

func TestQueryTypeFilter(t *testing.T) {
	engine := NewEngine(fixtureEntities())

	results, _, err := engine.Query(Request{
		Filters: []EntityFilter{{Type: "Room"}},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !equalIDs(ids(results), []string{"room1", "room2", "room3"}) {
		t.Errorf("unexpected results: %v", ids(results))
	}
}

func TestQueryIDPattern(t *testing.T) {
	engine := NewEngine(fixtureEntities())

	results, _, err := engine.Query(Request{
		Filters: []EntityFilter{{IDPattern: "room[12]"}},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !equalIDs(ids(results), []string{"room1", "room2"}) {
		t.Errorf("unexpected results: %v", ids(results))
	}
}

func TestQueryIDPatternAnchored(t *testing.T) {
	engine := NewEngine(fixtureEntities())

	// "oom1" is a substring of room1 but must not match
	results, _, err := engine.Query(Request{
		Filters: []EntityFilter{{IDPattern: "oom1"}},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("substring pattern matched: %v", ids(results))
	}
}

func TestQueryInvalidPattern(t *testing.T) {
	engine := NewEngine(fixtureEntities())

	_, _, err := engine.Query(Request{
		Filters: []EntityFilter{{IDPattern: "["}},
	})
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestQueryFiltersAreORed(t *testing.T) {
	engine := NewEngine(fixtureEntities())

	results, _, err := engine.Query(Request{
		Filters: []EntityFilter{{ID: "room1"}, {Type: "Car"}},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !equalIDs(ids(results), []string{"room1", "car1"}) {
		t.Errorf("unexpected results: %v", ids(results))
	}
}

func TestQueryWithExpression(t *testing.T) {
	engine := NewEngine(fixtureEntities())

	expr, err := ParseExpression("temperature>22")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	results, total, err := engine.Query(Request{
		Filters:    []EntityFilter{{Type: "Room"}},
		Expression: expr,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if !equalIDs(ids(results), []string{"room2", "room3"}) {
		t.Errorf("unexpected results: %v", ids(results))
	}
}

func TestQueryPagination(t *testing.T) {
	engine := NewEngine(fixtureEntities())

	page1, total, err := engine.Query(Request{Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
	page2, _, err := engine.Query(Request{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !equalIDs(ids(page1), []string{"room1", "room2"}) {
		t.Errorf("page1: %v", ids(page1))
	}
	if !equalIDs(ids(page2), []string{"room3", "car1"}) {
		t.Errorf("page2: %v", ids(page2))
	}

	// Same offset against an unmodified store returns identical results
	again, _, _ := engine.Query(Request{Limit: 2, Offset: 0})
	if !equalIDs(ids(again), ids(page1)) {
		t.Errorf("pagination unstable: %v vs %v", ids(again), ids(page1))
	}

	empty, _, err := engine.Query(Request{Limit: 2, Offset: 10})
	if err != nil {
		t.Fatalf("query past end: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("offset past end should be empty, got %v", ids(empty))
	}
}
