package models

import "github.com/google/uuid"

// Address - адрес доставки из профиля пользователя.
type Address struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	RecipientName string    `json:"recipient_name"`
	Phone         string    `json:"phone,omitempty"`
	Street        string    `json:"street"`
	Number        string    `json:"number"`
	Complement    string    `json:"complement,omitempty"`
	Neighborhood  string    `json:"neighborhood"`
	City          string    `json:"city"`
	State         string    `json:"state"`
	Zipcode       string    `json:"zipcode"`
}
