// package models defines the data model for the production control client
package models

// User is the authenticated operator as reported by the backend.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	RoleID   string `json:"roleId,omitempty"`
	RoleName string `json:"roleName,omitempty"`
}

// Ptr returns a pointer to v. Used to build partial telemetry values.
func Ptr[T any](v T) *T {
	return &v
}
