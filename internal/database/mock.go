package database

import (
	"github.com/stretchr/testify/mock"
)

type MockSupportChatRepository struct {
	mock.Mock
}

func (m *MockSupportChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockSupportChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSupportChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSupportChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSupportChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockSupportChatRepository) GetRoomByToken(token string) (Room, error) {
	args := m.Called(token)
	return args.Get(0).(Room), args.Error(1)
}
