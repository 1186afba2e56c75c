package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{Validation("min %v > max %v", 5, 1), http.StatusBadRequest},
		{Auth("bad credential"), http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", NotFound("device d1")), http.StatusNotFound},
		{Conflict("threshold"), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestValidationMessage(t *testing.T) {
	err := Validation("parameter %q unknown", "co2")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation")
	}
	if err.Error() != `validation error: parameter "co2" unknown` {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
