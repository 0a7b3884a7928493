package notify

import (
	"bytes"
	"encoding/json"

	"github.com/junctive/contexd/entity"
	"github.com/junctive/contexd/errors"
	"github.com/junctive/contexd/subs"
)

// buildPayload renders the notification body: the subscription id
// plus the post-mutation entity projected per the subscription's
// notification settings.
func buildPayload(sub *subs.Subscription, ent *entity.Entity) ([]byte, error) {
	opts := entity.RenderOptions{
		KeyValues: sub.Notification.AttrsFormat == subs.FormatKeyValues,
	}
	if len(sub.Notification.Attrs) > 0 {
		opts.Attrs = sub.Notification.Attrs
	}
	if sub.Notification.Metadata != nil {
		opts.Metadata = sub.Notification.Metadata
	}

	rendered, err := ent.Render(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "render entity %s for subscription %s", ent.ID, sub.ID)
	}

	subID, err := json.Marshal(sub.ID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"subscriptionId":`)
	buf.Write(subID)
	buf.WriteString(`,"data":[`)
	buf.Write(rendered)
	buf.WriteString(`]}`)
	return buf.Bytes(), nil
}
