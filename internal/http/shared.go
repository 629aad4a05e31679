// Package httpapi is the thin HTTP layer. Handlers decode, delegate to the
// domain services and encode; business logic stays out of this package.
package httpapi

import (
	"encoding/json"
	"net/http"

	dErrors "carelink/pkg/domain-errors"
)

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeUnauthorized:            http.StatusUnauthorized,
	dErrors.CodeAuthenticationNotFound:  http.StatusUnauthorized,
	dErrors.CodeForbidden:               http.StatusForbidden,
	dErrors.CodeNotFound:                http.StatusNotFound,
	dErrors.CodeValidation:              http.StatusBadRequest,
	dErrors.CodeInvalidInput:            http.StatusBadRequest,
	dErrors.CodeBadRequest:              http.StatusBadRequest,
	dErrors.CodeDuplicatePatientUser:    http.StatusConflict,
	dErrors.CodeInvalidFamilyType:       http.StatusConflict,
	dErrors.CodeConflict:                http.StatusConflict,
	dErrors.CodeInternal:                http.StatusInternalServerError,
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError translates a coded domain error into the JSON error envelope.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Error: string(code), Message: dErrors.MessageOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}
