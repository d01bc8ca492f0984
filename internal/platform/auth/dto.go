package auth

import "time"

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token          string  `json:"token"`
	Username       string  `json:"username"`
	Role           Role    `json:"role"`
	ReaderCardCode *string `json:"reader_card_code,omitempty"`
}

type RegisterRequest struct {
	Username string  `json:"username" binding:"required"`
	Password string  `json:"password" binding:"required"`
	Email    string  `json:"email" binding:"required"`
	FullName *string `json:"full_name,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Address  *string `json:"address,omitempty"`
}

type CreateUserRequest struct {
	Username string  `json:"username" binding:"required"`
	Password string  `json:"password" binding:"required"`
	Email    string  `json:"email" binding:"required"`
	Role     Role    `json:"role" binding:"required"`
	FullName *string `json:"full_name,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Address  *string `json:"address,omitempty"`
}

type CreateUserResponse struct {
	UserID         int64   `json:"user_id"`
	ReaderCardCode *string `json:"reader_card_code,omitempty"`
}

type UserResponse struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Role           Role      `json:"role"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	ReaderCardCode *string   `json:"reader_card_code"`
}

type ResetPasswordRequest struct {
	NewPassword string `json:"new_password" binding:"required"`
}

type ToggleActiveResponse struct {
	UserID   int64 `json:"user_id"`
	IsActive bool  `json:"is_active"`
}

type CreateReaderCardRequest struct {
	FullName *string `json:"full_name,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Address  *string `json:"address,omitempty"`
}

type ReaderCardResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	CardCode  string    `json:"card_code"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone"`
	Address   *string   `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateMissingCardsResponse struct {
	Created int `json:"created"`
}

func toCardResponse(c ReaderCard) ReaderCardResponse {
	return ReaderCardResponse{
		ID:        c.ID,
		UserID:    c.UserID,
		CardCode:  c.CardCode,
		FullName:  c.FullName,
		Email:     c.Email,
		Phone:     nullToPtr(c.Phone),
		Address:   nullToPtr(c.Address),
		CreatedAt: c.CreatedAt,
	}
}
