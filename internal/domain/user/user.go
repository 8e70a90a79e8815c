package user

import "time"

// User is the account profile mirrored from the server.
// Everything except ID is optional in server responses.
type User struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Email     string     `json:"email,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Role      Role       `json:"role,omitempty"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	Verified  bool       `json:"verified,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Vehicle describes the car a driver operates.
type Vehicle struct {
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
	Color string `json:"color,omitempty"`
	Plate string `json:"plate,omitempty"`
	Year  int    `json:"year,omitempty"`
	Seats int    `json:"seats,omitempty"`
}

// Driver is a User with vehicle and availability fields.
type Driver struct {
	User
	Vehicle Vehicle  `json:"vehicle"`
	Online  bool     `json:"online"`
	Rating  *float64 `json:"rating,omitempty"`
}

// Describe returns a short label such as "White Toyota Prius (ABC-123)".
func (v Vehicle) Describe() string {
	label := ""
	for _, part := range []string{v.Color, v.Make, v.Model} {
		if part == "" {
			continue
		}
		if label != "" {
			label += " "
		}
		label += part
	}
	if v.Plate != "" {
		if label != "" {
			label += " "
		}
		label += "(" + v.Plate + ")"
	}
	return label
}
