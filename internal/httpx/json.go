// internal/httpx/json.go
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"librarycatalog/internal/errs"
)

const maxBodyBytes = 1 << 20

// Envelope is the top-level JSON object of every response, e.g. {"loan": {...}}.
type Envelope map[string]any

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	js, err := json.Marshal(data)
	if err != nil {
		return err
	}
	js = append(js, '\n')

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(js)
	return err
}

// ReadJSON decodes exactly one JSON value into dst and validates it against its `validate` tags.
// Decoding and validation failures come back as errs.KindInvalidInput.
func ReadJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	const op = "httpx.read_json"

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return &errs.Error{Kind: errs.KindInvalidInput, Op: op, Reason: "malformed JSON body", Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errs.InvalidInput(op, "body must only contain a single JSON value")
	}

	return Validate(dst)
}

// Validate runs struct validation and flattens field errors into one InvalidInput error.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &errs.Error{Kind: errs.KindInvalidInput, Op: "httpx.validate", Err: err}
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()))
	}
	return errs.InvalidInput("httpx.validate", strings.Join(msgs, "; "))
}

// UUIDParam parses the named chi URL parameter as a UUID.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errs.InvalidInput("httpx.url_param", "invalid "+name+" parameter")
	}
	return id, nil
}
