package model

// Роли пользователей.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Principal — аутентифицированный пользователь, от имени которого
// выполняется операция. Данные уже проверены middleware.
type Principal struct {
	UserID string
	Role   string
}

// IsAdmin проверяет роль администратора.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// IsAnonymous — запрос без токена.
func (p Principal) IsAnonymous() bool {
	return p.UserID == ""
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}
