package database

import (
	"database/sql"
	"time"
)

func (db *PgSupportChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO accounts (name, email, password_hash, role, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, name, email, role, created_at, updated_at",
		params.Name,
		params.EmailAddress,
		params.PasswordHash,
		params.Role,
		now,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Name,
		&u.EmailAddress,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgSupportChatRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, email, role, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Name,
		&user.EmailAddress,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgSupportChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, email, password_hash, role, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Name,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgSupportChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO chat_rooms (token, customer_id, status, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, token, customer_id, status, created_at, updated_at",
		params.Token,
		params.CustomerId,
		params.Status,
		now,
	)

	var room Room
	err := res.Scan(
		&room.Id,
		&room.Token,
		&room.CustomerId,
		&room.Status,
		&room.CreatedAt,
		&room.UpdatedAt,
	)

	return room, err
}

func (db *PgSupportChatRepository) GetRoomByToken(token string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, token, customer_id, agent_id, status, created_at, updated_at FROM chat_rooms "+
			"WHERE token = $1 LIMIT 1",
		token,
	)

	var room Room
	var agentId sql.NullInt64
	err := row.Scan(
		&room.Id,
		&room.Token,
		&room.CustomerId,
		&agentId,
		&room.Status,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if agentId.Valid {
		room.AgentId = int(agentId.Int64)
	}

	return room, err
}
