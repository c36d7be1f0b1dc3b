package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retailpos/retailpos/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("stock: product: %w", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("purchasing: %w", shared.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("stock: %w", shared.ErrConflict), http.StatusConflict},
		{shared.ErrIdempotencyConflict, http.StatusConflict},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
		if tc.status == http.StatusInternalServerError {
			require.Empty(t, body.Detail)
		}
	}
}

type sample struct {
	Name string `json:"name" validate:"required"`
	Qty  int64  `json:"qty" validate:"gt=0"`
}

func TestDecodeAndValidate(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"rice","qty":2}`))
	var s sample
	require.NoError(t, DecodeAndValidate(req, &s))
	require.Equal(t, int64(2), s.Qty)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"qty":0}`))
	err := DecodeAndValidate(req, &sample{})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "sample.Name")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	require.ErrorIs(t, DecodeAndValidate(req, &sample{}), shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","qty":1,"extra":true}`))
	require.ErrorIs(t, DecodeJSON(req, &sample{}), shared.ErrValidation)
}

func TestIsClientError(t *testing.T) {
	require.True(t, IsClientError(fmt.Errorf("x: %w", shared.ErrValidation)))
	require.True(t, IsClientError(shared.ErrIdempotencyConflict))
	require.False(t, IsClientError(errors.New("boom")))
}
