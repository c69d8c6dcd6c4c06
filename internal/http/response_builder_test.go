package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"payinsights/internal/core"
	"payinsights/internal/manifest"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("X-Test", "1").
		Data(map[string]int{"n": 1}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if w.Header().Get("X-Test") != "1" || w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("unexpected headers %v", w.Header())
	}
	if strings.TrimSpace(w.Body.String()) != `{"n":1}` {
		t.Errorf("Body = %q", w.Body.String())
	}
}

func TestJSONResponseBuilder_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Data(math.NaN()).Write(w)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Status code = %d, want 500", w.Code)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		builder *JSONResponseBuilder
		status  int
	}{
		{"bad request", BadRequestError("bad"), http.StatusBadRequest},
		{"not found", NotFoundError("missing"), http.StatusNotFound},
		{"unprocessable", UnprocessableEntityError("nope"), http.StatusUnprocessableEntity},
		{"internal", InternalServerError("oops"), http.StatusInternalServerError},
		{"unavailable", ServiceUnavailableError("later"), http.StatusServiceUnavailable},
		{"method", MethodNotAllowedError(), http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			var body errorBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.Error == "" {
				t.Fatalf("body %q is not an error envelope: %v", w.Body.String(), err)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.InvalidDimension("colour"), http.StatusBadRequest},
		{fmt.Errorf("%w: kind x", manifest.ErrInvalidSection), http.StatusBadRequest},
		{fmt.Errorf("%w: top", ErrBadParam), http.StatusBadRequest},
		{fmt.Errorf("%w: \"x\"", core.ErrUnknownView), http.StatusNotFound},
		{fmt.Errorf("%w: \"x\"", core.ErrUnknownTable), http.StatusNotFound},
		{fmt.Errorf("%w: payment_method", core.ErrMissingColumn), http.StatusUnprocessableEntity},
		{ErrNotReady, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestErrorFrom_HidesInternalErrors(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorFrom(errors.New("secret path /var/db")).Write(w)
	if strings.Contains(w.Body.String(), "secret") {
		t.Fatalf("internal error leaked: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	ErrorFrom(core.InvalidDimension("colour")).Write(w)
	if !strings.Contains(w.Body.String(), "colour") {
		t.Fatalf("client error should be echoed: %s", w.Body.String())
	}
}
