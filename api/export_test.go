package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/pajakflow/tax-docs-service/internal/auth"
	"github.com/pajakflow/tax-docs-service/internal/models"
)

func TestExportBatchRejectsUnknownFormats(t *testing.T) {
	h := NewHandler(&models.Config{}, nil, nil, nil)
	claims := &auth.Claims{UserID: uuid.New()}

	tests := []struct {
		format  string
		message string
	}{
		// pdf gets an explicit refusal rather than the generic message.
		{"pdf", "pdf export is not supported; use excel or csv"},
		{"docx", "format must be excel or csv"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/batches/ignored/export/"+tt.format, nil)
			req = req.WithContext(auth.WithClaims(req.Context(), claims))
			req = mux.SetURLVars(req, map[string]string{
				"id":     uuid.New().String(),
				"format": tt.format,
			})
			rec := httptest.NewRecorder()

			h.ExportBatch(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), CodeValidation)
			assert.Contains(t, rec.Body.String(), tt.message)
		})
	}
}
