package database

import "time"

type User struct {
	Id           int
	Name         string
	EmailAddress string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id         int
	Token      string
	CustomerId int
	AgentId    int
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type CreateAccountParams struct {
	Name         string
	EmailAddress string
	PasswordHash string
	Role         string
}

type CreateRoomParams struct {
	Token      string
	CustomerId int
	Status     string
}
