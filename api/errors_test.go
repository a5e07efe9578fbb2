package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sushazhi/fnos-logmanager/credential"
	"github.com/sushazhi/fnos-logmanager/logfiles"
	"github.com/sushazhi/fnos-logmanager/pathguard"
)

func TestMapError(t *testing.T) {
	a := &API{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("storing hash: %w", credential.ErrConflict), http.StatusConflict, CodeConflict},
		{credential.ErrMismatch, http.StatusBadRequest, CodeValidation},
		{fmt.Errorf("x: %w", pathguard.ErrPathRejected), http.StatusForbidden, CodePathRejected},
		{logfiles.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{logfiles.ErrArchiveTimeout, http.StatusGatewayTimeout, CodeInternal},
		{logfiles.ErrNotArchive, http.StatusBadRequest, CodeValidation},
		{errRateLimited, http.StatusTooManyRequests, CodeRateLimit},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.mapError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}
