package models

// Credentials to log in with
type Credentials struct {
	Username string `json:"username" validate:"required,alphanum"`
	Password string `json:"password" validate:"required,min=6"`
}

// Details of a new public site user
type RegisterDetails struct {
	Username string `json:"username" validate:"required,alphanum"`
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

func (d RegisterDetails) Credentials() Credentials {
	return Credentials{Username: d.Username, Password: d.Password}
}
