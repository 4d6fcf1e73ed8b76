package dto

import "encoding/json"

// MailboxNotification is the provider push payload. Only the account
// reference matters; the sync itself pulls the changes.
type MailboxNotification struct {
	Subscription      string                `json:"subscription"`
	Resource          string                `json:"resource"`
	AccountID         FlexibleString        `json:"accountId"`
	ProviderAccountID FlexibleString        `json:"providerAccountId"`
	Payloads          []NotificationPayload `json:"payloads"`
}

// FlexibleString accepts a JSON string or number. Providers disagree on
// how they encode account ids.
type FlexibleString string

func (f *FlexibleString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexibleString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexibleString(n.String())
	return nil
}

type NotificationPayload struct {
	ChangeType string `json:"changeType"`
	ID         string `json:"id"`
}

// UserWebhookEvent is the identity provider's user lifecycle event.
type UserWebhookEvent struct {
	Type string          `json:"type"`
	Data UserWebhookData `json:"data"`
}

type UserWebhookData struct {
	ID             string             `json:"id"`
	FirstName      *string            `json:"first_name"`
	LastName       *string            `json:"last_name"`
	ImageUrl       *string            `json:"image_url"`
	EmailAddresses []UserWebhookEmail `json:"email_addresses"`
	PrimaryEmailID string             `json:"primary_email_address_id"`
	Deleted        bool               `json:"deleted"`
}

type UserWebhookEmail struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

func (d UserWebhookData) PrimaryEmail() string {
	for _, e := range d.EmailAddresses {
		if e.ID == d.PrimaryEmailID {
			return e.EmailAddress
		}
	}
	if len(d.EmailAddresses) > 0 {
		return d.EmailAddresses[0].EmailAddress
	}
	return ""
}
