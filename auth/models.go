package auth

import "time"

type Role string

const (
	RoleManager Role = "manager"
	RoleVendor  Role = "vendor"
)

// Principal is the caller identity carried by a verified token. For vendors
// SubjectID is the vendor id; for managers it is the manager's user id.
type Principal struct {
	SubjectID string
	Role      Role
	ExpiresAt time.Time
}

// IsVendor reports whether the principal acts for the given vendor.
func (p Principal) IsVendor(vendorID string) bool {
	return p.Role == RoleVendor && p.SubjectID == vendorID
}
