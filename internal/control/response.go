package control

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/lexiqai/pronunciation-coach/internal/errors"
)

// Response is the envelope of every API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody describes a failed action
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// writeError reports err together with data, usually the resulting session view
func writeError(w http.ResponseWriter, err error, data interface{}) {
	appErr := toAppError(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus())
	json.NewEncoder(w).Encode(Response{
		Success: false,
		Data:    data,
		Error:   &ErrorBody{Code: string(appErr.Code), Message: appErr.Message},
	})
}

func toAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}
	return apperrors.Wrap(apperrors.ErrInternal, "internal error", err)
}

func errorBody(err error) ErrorBody {
	appErr := toAppError(err)
	return ErrorBody{Code: string(appErr.Code), Message: appErr.Message}
}
