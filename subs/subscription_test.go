package subs

import (
	"regexp"
	"testing"
	"time"

	"github.com/junctive/contexd/errors"
)

var idPattern = regexp.MustCompile(`^[a-f0-9]{24}$`)

func validBody() []byte {
	return []byte(`{
		"description": "notify on temperature changes",
		"subject": {
			"entities": [{"idPattern": "room.*", "type": "Room"}],
			"condition": {"attrs": ["temperature"]}
		},
		"notification": {
			"http": {"url": "http://localhost:1028/accumulate"},
			"attrs": ["temperature"]
		},
		"expires": "2040-01-01T14:00:00Z",
		"throttling": 5
	}`)
}

func TestParseSubscription(t *testing.T) {
	sub, err := Parse(validBody())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if !idPattern.MatchString(sub.ID) {
		t.Errorf("id %q is not 24 hex chars", sub.ID)
	}
	if sub.Subject.Entities[0].IDPattern != "room.*" {
		t.Errorf("unexpected subject: %+v", sub.Subject)
	}
	if sub.Notification.HTTP.URL != "http://localhost:1028/accumulate" {
		t.Errorf("unexpected url: %s", sub.Notification.HTTP.URL)
	}
	if sub.Throttling != 5 {
		t.Errorf("throttling = %d", sub.Throttling)
	}
	if sub.Expires == nil || sub.Expires.Year() != 2040 {
		t.Errorf("expires = %v", sub.Expires)
	}
}

func TestParseSubscriptionValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing entities", `{"subject": {"entities": []}, "notification": {"http": {"url": "http://x/"}}}`},
		{"missing url", `{"subject": {"entities": [{"type": "Room"}]}, "notification": {}}`},
		{"bad url", `{"subject": {"entities": [{"type": "Room"}]}, "notification": {"http": {"url": "::::"}}}`},
		{"bad pattern", `{"subject": {"entities": [{"idPattern": "["}]}, "notification": {"http": {"url": "http://x/"}}}`},
		{"bad expires", `{"subject": {"entities": [{"type": "Room"}]}, "notification": {"http": {"url": "http://x/"}}, "expires": "soon"}`},
		{"bad format", `{"subject": {"entities": [{"type": "Room"}]}, "notification": {"http": {"url": "http://x/"}, "attrsFormat": "xml"}}`},
		{"negative throttling", `{"subject": {"entities": [{"type": "Room"}]}, "notification": {"http": {"url": "http://x/"}}, "throttling": -1}`},
	}

	for _, tc := range cases {
		_, err := Parse([]byte(tc.body))
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !errors.IsBadRequest(err) {
			t.Errorf("%s: error is not bad-request: %v", tc.name, err)
		}
	}
}

func TestPatchMergesOneLevel(t *testing.T) {
	sub, err := Parse(validBody())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// Patching notification.attrs must not disturb notification.http
	// or any top-level field not mentioned
	err = sub.Patch([]byte(`{"notification": {"attrs": ["pressure"]}}`))
	if err != nil {
		t.Fatalf("patch: %v", err)
	}

	if sub.Notification.HTTP.URL != "http://localhost:1028/accumulate" {
		t.Error("patch dropped notification.http")
	}
	if len(sub.Notification.Attrs) != 1 || sub.Notification.Attrs[0] != "pressure" {
		t.Errorf("attrs = %v", sub.Notification.Attrs)
	}
	if sub.Throttling != 5 {
		t.Error("patch disturbed throttling")
	}
	if sub.Subject.Entities[0].IDPattern != "room.*" {
		t.Error("patch disturbed subject")
	}

	err = sub.Patch([]byte(`{"subject": {"condition": {"attrs": []}}}`))
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if len(sub.Subject.Condition.Attrs) != 0 {
		t.Errorf("condition = %v", sub.Subject.Condition.Attrs)
	}
	if len(sub.Subject.Entities) != 1 {
		t.Error("patch dropped subject.entities")
	}
}

func TestStatusComputation(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	sub := &Subscription{}
	if got := sub.Status(3, now); got != StatusActive {
		t.Errorf("status = %s, want active", got)
	}

	sub.Expires = &future
	if got := sub.Status(3, now); got != StatusActive {
		t.Errorf("status = %s, want active", got)
	}

	sub.Expires = &past
	if got := sub.Status(3, now); got != StatusExpired {
		t.Errorf("status = %s, want expired", got)
	}

	// Expiration wins over failure
	sub.FailsCounter = 5
	if got := sub.Status(3, now); got != StatusExpired {
		t.Errorf("status = %s, want expired", got)
	}

	sub.Expires = &future
	if got := sub.Status(3, now); got != StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}

	sub.FailsCounter = 2
	if got := sub.Status(3, now); got != StatusActive {
		t.Errorf("status = %s, want active", got)
	}
}

func TestConditionMatches(t *testing.T) {
	sub := &Subscription{}
	sub.Subject.Condition.Attrs = []string{"temperature"}

	if !sub.ConditionMatches([]string{"pressure", "temperature"}) {
		t.Error("intersecting change set should match")
	}
	if sub.ConditionMatches([]string{"pressure"}) {
		t.Error("disjoint change set should not match")
	}

	sub.Subject.Condition.Attrs = nil
	if !sub.ConditionMatches([]string{"anything"}) {
		t.Error("empty condition should match any change")
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if !idPattern.MatchString(id) {
			t.Fatalf("id %q is not 24 hex chars", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestRenderIncludesStatusAndAccounting(t *testing.T) {
	sub, err := Parse(validBody())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sub.TimesSent = 4
	sub.FailsCounter = 1

	out := sub.Render(3, time.Now())
	if out["status"] != StatusActive {
		t.Errorf("status = %v", out["status"])
	}
	notification := out["notification"].(map[string]interface{})
	if notification["timesSent"] != int64(4) {
		t.Errorf("timesSent = %v", notification["timesSent"])
	}
	if notification["attrsFormat"] != FormatNormalized {
		t.Errorf("attrsFormat = %v", notification["attrsFormat"])
	}
}
