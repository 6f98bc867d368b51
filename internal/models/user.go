package models

import "time"

type User struct {
	ID             int64     `yaml:"id" json:"id"`
	Login          string    `yaml:"login" json:"login"`
	FirstName      string    `yaml:"first_name" json:"first_name"`
	LastName       string    `yaml:"last_name" json:"last_name,omitempty"`
	Email          string    `yaml:"email" json:"email,omitempty"`
	TelegramChatID int64     `yaml:"telegram_chat_id" json:"telegram_chat_id,omitempty"`
	IsAdmin        bool      `yaml:"is_admin" json:"is_admin"`
	CreatedAt      time.Time `yaml:"-" json:"created_at"`
	UpdatedAt      time.Time `yaml:"-" json:"updated_at"`
}

func (u *User) DisplayName() string {
	if u.LastName == "" {
		if u.FirstName == "" {
			return u.Login
		}
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
