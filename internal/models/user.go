package models

// User represents a registered user in the directory.
type User struct {
	Email       string `json:"email"`
	DisplayName string `json:"name"`
}
