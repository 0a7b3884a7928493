package query

import (
	"encoding/json"
	"testing"

	"github.com/junctive/contexd/entity"
	"github.com/junctive/contexd/errors"
)

func testRoom(temp string) *entity.Entity {
	e := entity.New("room1", "Room")
	e.SetAttr("temperature", &entity.Attribute{Value: json.Number(temp), Type: entity.TypeNumber})
	e.SetAttr("status", &entity.Attribute{Value: "open", Type: entity.TypeText})
	return e
}

func TestExpressionComparisons(t *testing.T) {
	room := testRoom("25")

	cases := []struct {
		expr string
		want bool
	}{
		{"temperature>22", true},
		{"temperature>26", false},
		{"temperature>=25", true},
		{"temperature<=25", true},
		{"temperature<20", false},
		{"temperature==25", true},
		{"temperature!=25", false},
		{"temperature=25", true}, // legacy single-equals
		{"status==open", true},
		{"status==closed", false},
		{"temperature", true},
		{"humidity", false},
		{"humidity>10", false},
		{"humidity!=10", false},
	}

	for _, tc := range cases {
		expr, err := ParseExpression(tc.expr)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.expr, err)
		}
		if got := expr.Matches(room); got != tc.want {
			t.Errorf("%q: got %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestExpressionRange(t *testing.T) {
	room := testRoom("25")

	cases := []struct {
		expr string
		want bool
	}{
		{"temperature==20..30", true},
		{"temperature==25..25", true}, // bounds are inclusive
		{"temperature==26..30", false},
		{"temperature==10..24", false},
	}

	for _, tc := range cases {
		expr, err := ParseExpression(tc.expr)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.expr, err)
		}
		if got := expr.Matches(room); got != tc.want {
			t.Errorf("%q: got %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestExpressionAndOr(t *testing.T) {
	room := testRoom("25")

	// semicolon is AND within a clause
	expr, err := ParseExpression("temperature>22;status==open")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !expr.Matches(room) {
		t.Error("AND clause should match")
	}

	expr, err = ParseExpression("temperature>22;status==closed")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if expr.Matches(room) {
		t.Error("AND clause with failing term should not match")
	}

	// comma is OR between clauses
	expr, err = ParseExpression("temperature>30,status==open")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !expr.Matches(room) {
		t.Error("OR with one matching clause should match")
	}
}

func TestExpressionStringComparison(t *testing.T) {
	e := entity.New("e1", "Thing")
	e.SetAttr("name", &entity.Attribute{Value: "beta", Type: entity.TypeText})

	expr, err := ParseExpression("name>alpha")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !expr.Matches(e) {
		t.Error("lexicographic comparison should match")
	}
}

func TestExpressionMalformed(t *testing.T) {
	cases := []string{
		"",
		"temperature>",
		"==5",
		"temperature>22;",
		"temperature==1..",
		",",
	}
	for _, src := range cases {
		_, err := ParseExpression(src)
		if err == nil {
			t.Errorf("%q: expected parse error", src)
			continue
		}
		if !errors.IsInvalidExpression(err) {
			t.Errorf("%q: error is not an invalid-expression error: %v", src, err)
		}
	}
}
