package handlers

import "net/http"

type contextKey string

// UserIDContextKey carries the authenticated telegram user ID (decimal
// string) set by the JWT middleware.
const UserIDContextKey contextKey = "user_id"

func userID(r *http.Request) string {
	id, _ := r.Context().Value(UserIDContextKey).(string)
	return id
}
