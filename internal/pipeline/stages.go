package pipeline

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mmynk/blueledger/internal/apperr"
	"github.com/mmynk/blueledger/internal/auth"
	"github.com/mmynk/blueledger/internal/middleware"
	"github.com/mmynk/blueledger/internal/validate"
)

// maxBodyBytes caps request bodies read by Validate.
const maxBodyBytes = 1 << 20

type inputKey struct{}

// Validate decodes the JSON body against schema and stores the typed value
// for Input. A body that fails any rule never reaches later stages.
func Validate[T any](schema validate.Schema) Stage {
	return func(r *http.Request) (*http.Request, error) {
		in, err := validate.Decode[T](schema, http.MaxBytesReader(nil, r.Body, maxBodyBytes))
		if err != nil {
			return r, err
		}
		return r.WithContext(context.WithValue(r.Context(), inputKey{}, in)), nil
	}
}

// Input returns the value stored by Validate[T].
func Input[T any](r *http.Request) T {
	in, _ := r.Context().Value(inputKey{}).(T)
	return in
}

// PathID checks that the named route variable is a well-formed id.
func PathID(name string) Stage {
	return func(r *http.Request) (*http.Request, error) {
		if !validate.IsID(mux.Vars(r)[name]) {
			return r, apperr.Validation("invalid "+name, apperr.FieldError{
				Field:   name,
				Rule:    validate.RuleFormat,
				Message: "must be a valid id",
			})
		}
		return r, nil
	}
}

// Authenticate resolves the caller through gate and stores the Identity.
func Authenticate(gate *auth.Gate) Stage {
	return func(r *http.Request) (*http.Request, error) {
		id, err := gate.Authorize(r)
		if err != nil {
			return r, err
		}
		ctx := auth.WithIdentity(r.Context(), id)
		middleware.SetUserID(ctx, id.UserID)
		return r.WithContext(ctx), nil
	}
}

// Identity returns the caller stored by Authenticate.
func Identity(r *http.Request) *auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
