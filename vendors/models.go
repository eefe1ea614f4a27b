package vendors

import "time"

// Profile captures the vendor fields this service reads: contact details for
// notifications and the connected payout account for disbursement.
type Profile struct {
	ID                 string
	Name               string
	ContactName        string
	ContactDeviceToken *string
	ContactPlatform    *string
	PayoutAccountID    *string
	CreatedAt          time.Time
}

// CanReceivePayout reports whether the vendor has a connected payout account.
func (p Profile) CanReceivePayout() bool {
	return p.PayoutAccountID != nil && *p.PayoutAccountID != ""
}

// PushTarget returns the device token and platform hint, if the vendor has one.
func (p Profile) PushTarget() (token, platform string, ok bool) {
	if p.ContactDeviceToken == nil || *p.ContactDeviceToken == "" {
		return "", "", false
	}
	if p.ContactPlatform != nil {
		platform = *p.ContactPlatform
	}
	return *p.ContactDeviceToken, platform, true
}
