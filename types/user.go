package types

const (
	PermManageBatchJobs = "MANAGE_BATCH_JOBS"
	PermPurgeBatchJobs  = "PURGE_BATCH_JOBS"
)

// User is the caller resolved from a session token.
type User struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
}

func (u *User) Can(permission string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
