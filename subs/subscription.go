// Package subs implements the subscription registry: the subscription
// model, lifecycle status, and durable storage.
package subs

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"time"

	"github.com/junctive/contexd/errors"
	"github.com/junctive/contexd/query"
)

// Subscription statuses. Status is computed, never stored: expiration
// and failure accounting drive all transitions.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusFailed  = "failed"
)

// Attribute rendering formats for notifications.
const (
	FormatNormalized = "normalized"
	FormatKeyValues  = "keyValues"
)

// EntityMatcher selects entities by id, id pattern, or type. Same
// matching rule as query filters.
type EntityMatcher struct {
	ID        string `json:"id,omitempty"`
	IDPattern string `json:"idPattern,omitempty"`
	Type      string `json:"type,omitempty"`
}

// Condition restricts triggering to changes touching the listed
// attributes. An empty list matches any change.
type Condition struct {
	Attrs []string `json:"attrs"`
}

// Subject describes which entity changes a subscription watches.
type Subject struct {
	Entities  []EntityMatcher `json:"entities"`
	Condition Condition       `json:"condition"`
}

// HTTPTarget is the notification receiver endpoint.
type HTTPTarget struct {
	URL string `json:"url"`
}

// Notification describes how matching changes are delivered.
type Notification struct {
	HTTP HTTPTarget `json:"http"`
	// Attrs projects notified entities to the listed attributes.
	Attrs []string `json:"attrs,omitempty"`
	// Metadata projects attribute metadata.
	Metadata []string `json:"metadata,omitempty"`
	// AttrsFormat is normalized or keyValues.
	AttrsFormat string `json:"attrsFormat,omitempty"`
}

// Subscription is a standing rule that triggers an outbound
// notification when watched attributes of matching entities change.
type Subscription struct {
	ID           string
	Description  string
	Subject      Subject
	Notification Notification
	Expires      *time.Time
	// Throttling is the minimum interval between notifications, in
	// seconds. Zero means no throttling.
	Throttling int64

	FailsCounter     int
	TimesSent        int64
	LastNotification *time.Time
	LastFailure      *time.Time
	LastSuccess      *time.Time

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// NewID generates a subscription id: 24 lowercase hex characters.
func NewID() string {
	buf := make([]byte, 12)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Status computes the lifecycle state: expired once the expiration
// timestamp passes, failed once consecutive failures reach the
// threshold, active otherwise.
func (s *Subscription) Status(failThreshold int, now time.Time) string {
	if s.Expires != nil && now.After(*s.Expires) {
		return StatusExpired
	}
	if failThreshold > 0 && s.FailsCounter >= failThreshold {
		return StatusFailed
	}
	return StatusActive
}

// EntityFilters converts the subject matchers to query filters.
func (s *Subscription) EntityFilters() []query.EntityFilter {
	filters := make([]query.EntityFilter, len(s.Subject.Entities))
	for i, m := range s.Subject.Entities {
		filters[i] = query.EntityFilter{ID: m.ID, IDPattern: m.IDPattern, Type: m.Type}
	}
	return filters
}

// ConditionMatches reports whether a changed-attribute set intersects
// the subscription's condition.
func (s *Subscription) ConditionMatches(changedAttrs []string) bool {
	if len(s.Subject.Condition.Attrs) == 0 {
		return true
	}
	for _, watched := range s.Subject.Condition.Attrs {
		for _, changed := range changedAttrs {
			if watched == changed {
				return true
			}
		}
	}
	return false
}

// Clone returns a shallow-safe copy with its own slices.
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.Subject.Entities = append([]EntityMatcher(nil), s.Subject.Entities...)
	c.Subject.Condition.Attrs = append([]string(nil), s.Subject.Condition.Attrs...)
	c.Notification.Attrs = append([]string(nil), s.Notification.Attrs...)
	c.Notification.Metadata = append([]string(nil), s.Notification.Metadata...)
	return &c
}

// subscriptionBody is the request/patch wire form. Pointer fields
// distinguish omitted from empty for merge semantics.
type subscriptionBody struct {
	Description  *string           `json:"description"`
	Subject      *subjectBody      `json:"subject"`
	Notification *notificationBody `json:"notification"`
	Expires      *string           `json:"expires"`
	Throttling   *int64            `json:"throttling"`
}

type subjectBody struct {
	Entities  *[]EntityMatcher `json:"entities"`
	Condition *Condition       `json:"condition"`
}

type notificationBody struct {
	HTTP        *HTTPTarget `json:"http"`
	Attrs       *[]string   `json:"attrs"`
	Metadata    *[]string   `json:"metadata"`
	AttrsFormat *string     `json:"attrsFormat"`
}

// Parse decodes a subscription creation body and validates it.
func Parse(data []byte) (*Subscription, error) {
	var body subscriptionBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errors.BadRequestf("body is not a valid subscription")
	}

	sub := &Subscription{ID: NewID()}
	if err := sub.apply(&body); err != nil {
		return nil, err
	}

	if len(sub.Subject.Entities) == 0 {
		return nil, errors.BadRequestf("subject.entities must not be empty")
	}
	if sub.Notification.HTTP.URL == "" {
		return nil, errors.BadRequestf("notification.http.url is required")
	}
	return sub, nil
}

// Patch merges a partial body into the subscription: only provided
// top-level keys replace, and subject/notification merge one level
// field by field.
func (s *Subscription) Patch(data []byte) error {
	var body subscriptionBody
	if err := json.Unmarshal(data, &body); err != nil {
		return errors.BadRequestf("body is not a valid subscription patch")
	}
	return s.apply(&body)
}

func (s *Subscription) apply(body *subscriptionBody) error {
	if body.Description != nil {
		s.Description = *body.Description
	}
	if body.Subject != nil {
		if body.Subject.Entities != nil {
			entities := *body.Subject.Entities
			for i := range entities {
				f := query.EntityFilter{IDPattern: entities[i].IDPattern}
				if err := f.Compile(); err != nil {
					return err
				}
			}
			s.Subject.Entities = entities
		}
		if body.Subject.Condition != nil {
			s.Subject.Condition = *body.Subject.Condition
		}
	}
	if body.Notification != nil {
		if body.Notification.HTTP != nil {
			target := *body.Notification.HTTP
			if _, err := url.ParseRequestURI(target.URL); err != nil {
				return errors.BadRequestf("invalid notification url: %s", target.URL)
			}
			s.Notification.HTTP = target
		}
		if body.Notification.Attrs != nil {
			s.Notification.Attrs = *body.Notification.Attrs
		}
		if body.Notification.Metadata != nil {
			s.Notification.Metadata = *body.Notification.Metadata
		}
		if body.Notification.AttrsFormat != nil {
			format := *body.Notification.AttrsFormat
			if format != FormatNormalized && format != FormatKeyValues {
				return errors.BadRequestf("invalid attrsFormat: %s", format)
			}
			s.Notification.AttrsFormat = format
		}
	}
	if body.Expires != nil {
		expires, err := time.Parse(time.RFC3339, *body.Expires)
		if err != nil {
			return errors.BadRequestf("invalid expires timestamp: %s", *body.Expires)
		}
		s.Expires = &expires
	}
	if body.Throttling != nil {
		if *body.Throttling < 0 {
			return errors.BadRequestf("throttling must not be negative")
		}
		s.Throttling = *body.Throttling
	}
	return nil
}

// Render produces the wire representation including computed status
// and delivery accounting.
func (s *Subscription) Render(failThreshold int, now time.Time) map[string]interface{} {
	notification := map[string]interface{}{
		"http":         s.Notification.HTTP,
		"attrsFormat":  s.renderFormat(),
		"timesSent":    s.TimesSent,
		"failsCounter": s.FailsCounter,
	}
	if s.Notification.Attrs != nil {
		notification["attrs"] = s.Notification.Attrs
	}
	if s.Notification.Metadata != nil {
		notification["metadata"] = s.Notification.Metadata
	}
	if s.LastNotification != nil {
		notification["lastNotification"] = s.LastNotification.UTC().Format(time.RFC3339)
	}
	if s.LastFailure != nil {
		notification["lastFailure"] = s.LastFailure.UTC().Format(time.RFC3339)
	}
	if s.LastSuccess != nil {
		notification["lastSuccess"] = s.LastSuccess.UTC().Format(time.RFC3339)
	}

	out := map[string]interface{}{
		"id":           s.ID,
		"subject":      s.Subject,
		"notification": notification,
		"status":       s.Status(failThreshold, now),
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if s.Expires != nil {
		out["expires"] = s.Expires.UTC().Format(time.RFC3339)
	}
	if s.Throttling > 0 {
		out["throttling"] = s.Throttling
	}
	return out
}

func (s *Subscription) renderFormat() string {
	if s.Notification.AttrsFormat == "" {
		return FormatNormalized
	}
	return s.Notification.AttrsFormat
}
