package signal

import "strings"

// Permission classes an advisory note may carry.
const (
	PermissionInformational = "informational"
	PermissionAdvisory      = "advisory"
)

// Advisory is optional free-text context attached to a signal by an external generator.
type Advisory struct {
	Text       string `json:"text"`
	Permission string `json:"permission"`
}

// Valid reports whether the advisory has text and an allowed permission class.
func (a *Advisory) Valid() bool {
	if a == nil || strings.TrimSpace(a.Text) == "" {
		return false
	}
	switch strings.ToLower(a.Permission) {
	case PermissionInformational, PermissionAdvisory:
		return true
	default:
		return false
	}
}
