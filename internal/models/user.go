package models

import "time"

type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	IsSuperuser  bool
	LastAccess   time.Time
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

func (u User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// Public strips the credential material before a user leaves the service layer.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		IsSuperuser: u.IsSuperuser,
		LastAccess:  u.LastAccess,
		LastLogin:   u.LastLogin,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		DeletedAt:   u.DeletedAt,
	}
}

type PublicUser struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	IsSuperuser bool       `json:"isSuperuser"`
	LastAccess  time.Time  `json:"lastAccess"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// NewUser carries the fields a repository needs to insert a user.
type NewUser struct {
	Name         string
	Email        string
	PasswordHash string
	IsSuperuser  bool
}

// UserUpdate is a partial update; nil fields are left untouched.
type UserUpdate struct {
	Name         *string
	Email        *string
	PasswordHash *string
	IsSuperuser  *bool
}
