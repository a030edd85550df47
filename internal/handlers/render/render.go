package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/veltradev/veltra/internal/apperrors"
	"github.com/veltradev/veltra/internal/i18n"
)

var validate = newValidator()

type Struct any

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func JSON(w http.ResponseWriter, data any) {
	JSONWithStatus(w, data, http.StatusOK)
}

// Render error as its stable kind with message in request language
// Not well known errors are rendered as internal error without details
func Error(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperrors.KindOf(err)

	response := ErrorResponse{
		Error:   kind,
		Message: i18n.Message(i18n.ResolveTag(r), kind),
	}

	JSONWithStatus(w, response, apperrors.StatusOf(err))
}

// Render json DecodeError
func DecodeError(w http.ResponseWriter, r *http.Request, err error) {
	response := ErrorResponse{
		Error:   apperrors.KindDecodingFailed,
		Message: i18n.Message(i18n.ResolveTag(r), apperrors.KindDecodingFailed),
	}

	// Try to provide more specific error message based on error type
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		response.Fields = map[string]string{typeErr.Field: fmt.Sprintf("Invalid data type, expected %s", typeErr.Type)}
	default:
		response.Fields = map[string]string{"body": err.Error()}
	}

	JSONWithStatus(w, response, http.StatusBadRequest)
}

// Render ValidationErrors
func ValidationErrors(w http.ResponseWriter, r *http.Request, errs validator.ValidationErrors) {
	response := ErrorResponse{
		Error:   apperrors.KindValidationFailed,
		Message: i18n.Message(i18n.ResolveTag(r), apperrors.KindValidationFailed),
		Fields:  make(map[string]string, len(errs)),
	}

	for _, fieldError := range errs {
		response.Fields[fieldError.Field()] = fieldMessage(fieldError)
	}

	JSONWithStatus(w, response, http.StatusBadRequest)
}

// BindAndValidate decodes JSON request body into type T and validates it using struct tags.
// Returns the decoded value and writes appropriate error responses for decoding or validation failures.
func BindAndValidate[T Struct](w http.ResponseWriter, r *http.Request) (T, error) {
	var value T

	err := json.NewDecoder(r.Body).Decode(&value)
	if err != nil {
		DecodeError(w, r, err)
		return value, err
	}

	err = validate.Struct(value)
	if err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			Error(w, r, err)
			return value, err
		}
		ValidationErrors(w, r, errs)
		return value, err
	}

	return value, nil
}

// JSONWithStatus sends data as json and enforces status code
func JSONWithStatus(w http.ResponseWriter, data any, code int) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)

	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
