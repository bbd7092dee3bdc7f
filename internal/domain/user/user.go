package user

// Role is the marketplace side a user acts on.
type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleVendor Role = "VENDOR"
)

// User is a marketplace participant. Only contact details needed for
// order side effects are kept here.
type User struct {
	ID          string
	Name        string
	Role        Role
	PhoneNumber string
}
