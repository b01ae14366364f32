package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Name         string    `json:"name"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id         int       `json:"id"`
	Token      string    `json:"token"`
	CustomerId int       `json:"customer_id"`
	AgentId    int       `json:"agent_id,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

type Agent struct {
	Id         int       `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	RoomToken  string    `json:"room_token,omitempty"`
	LastActive time.Time `json:"last_active"`
}
