package domain

// User is a directory entry. ID stays nil until the store assigns one.
type User struct {
	ID    *int64 `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NewUser returns a persisted user carrying id.
func NewUser(id int64, name, email string) User {
	return User{ID: &id, Name: name, Email: email}
}

// IDValue returns the assigned id, or 0 when the user has not been persisted.
func (u User) IDValue() int64 {
	if u.ID == nil {
		return 0
	}
	return *u.ID
}

// Clone returns a copy that does not share the id pointer.
func (u User) Clone() User {
	out := User{Name: u.Name, Email: u.Email}
	if u.ID != nil {
		id := *u.ID
		out.ID = &id
	}
	return out
}
