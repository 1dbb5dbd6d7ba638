package domain

// AuthorizeOwner проверяет, что действующий пользователь является владельцем ресурса.
// Используется перед каждой мутацией заведений, продуктов и заказов.
func AuthorizeOwner(actorID, ownerID string) error {
	if actorID == "" {
		return ErrUnauthenticated
	}
	if actorID != ownerID {
		return ErrPermissionDenied
	}
	return nil
}
