package models

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse - стандартная структура для ответа об ошибке в формате JSON.
// Code содержит ErrorKind (например, "not-found"), Message - человекочитаемое описание.
type ErrorResponse struct {
	Code    ErrorKind `json:"code"`
	Message string    `json:"message"`
}

// SendJSONError отправляет стандартизированный ответ об ошибке в формате JSON.
func SendJSONError(w http.ResponseWriter, kind ErrorKind, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Code: kind, Message: message})
}

// HTTPStatusForKind возвращает HTTP статус для ErrorKind.
func HTTPStatusForKind(kind ErrorKind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindFailedPrecondition:
		return http.StatusConflict
	case KindOutOfRange:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
