package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectlink/backend/internal/interfaces/http/dto"
)

func TestSetupValidator(t *testing.T) {
	SetupValidator()

	v, ok := binding.Validator.Engine().(*validator.Validate)
	require.True(t, ok)
	require.NotNil(t, v)
}

func TestDomainValidationTags(t *testing.T) {
	SetupValidator()
	gin.SetMode(gin.TestMode)

	type triggerRunRequest struct {
		Provider   string `json:"provider" binding:"required,providercode"`
		EntityType string `json:"entity_type" binding:"required,entitytype"`
		ScopeKind  string `json:"scope_kind" binding:"omitempty,scopekind"`
	}

	router := gin.New()
	router.POST("/api/v1/sync/runs", func(c *gin.Context) {
		var req triggerRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/runs", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("accepts known provider and entity type", func(t *testing.T) {
		w := post(`{"provider": "jira", "entity_type": "user", "scope_kind": "organization"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		w := post(`{"provider": "github", "entity_type": "user"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Unknown provider code")
	})

	t.Run("rejects unknown entity type", func(t *testing.T) {
		w := post(`{"provider": "entra", "entity_type": "repository"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Unknown entity type")
	})

	t.Run("rejects unknown scope kind", func(t *testing.T) {
		w := post(`{"provider": "entra", "entity_type": "group", "scope_kind": "galaxy"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Unknown scope kind")
	})
}

func TestFormatValidationErrors(t *testing.T) {
	SetupValidator()
	gin.SetMode(gin.TestMode)

	type lookupRequest struct {
		ExternalID string `json:"external_id" binding:"required"`
		PageSize   int    `json:"page_size" binding:"required,min=1"`
	}

	router := gin.New()
	router.POST("/api/v1/sync/entities", func(c *gin.Context) {
		var req lookupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	t.Run("reports one detail per failing field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/entities",
			strings.NewReader(`{"external_id": "", "page_size": 0}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "ERR_VALIDATION", resp.Error.Code)
		assert.Equal(t, "Request validation failed", resp.Error.Message)
		assert.Len(t, resp.Error.Details, 2)

		// field names come from json tags, not Go field names
		fields := []string{resp.Error.Details[0].Field, resp.Error.Details[1].Field}
		assert.Contains(t, fields, "external_id")
		assert.Contains(t, fields, "page_size")
	})

	t.Run("passes valid input through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/entities",
			strings.NewReader(`{"external_id": "JIRA-42", "page_size": 50}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGetValidationMessage(t *testing.T) {
	type probe struct {
		Required string `binding:"required"`
		Email    string `binding:"email"`
		Min      string `binding:"min=5"`
		Max      string `binding:"max=10"`
		Len      string `binding:"len=5"`
		UUID     string `binding:"uuid"`
		OneOf    string `binding:"oneof=asc desc"`
		URL      string `binding:"url"`
	}

	tests := []struct {
		field    string
		value    probe
		expected string
	}{
		{"Required", probe{}, "This field is required"},
		{"Email", probe{Required: "x", Email: "not-an-email"}, "Invalid email format"},
		{"Min", probe{Required: "x", Min: "ab"}, "Must be at least 5 characters"},
		{"Max", probe{Required: "x", Max: "this is way too long"}, "Must be at most 10 characters"},
		{"Len", probe{Required: "x", Len: "ab"}, "Must be exactly 5 characters"},
		{"UUID", probe{Required: "x", UUID: "not-a-uuid"}, "Invalid UUID format"},
		{"OneOf", probe{Required: "x", OneOf: "sideways"}, "Must be one of: asc desc"},
		{"URL", probe{Required: "x", URL: "not a url"}, "Invalid URL format"},
	}

	v := validator.New()
	v.SetTagName("binding")
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			err := v.Struct(tt.value)
			require.Error(t, err)

			for _, e := range err.(validator.ValidationErrors) {
				if e.Field() == tt.field {
					assert.Equal(t, tt.expected, getValidationMessage(e))
					return
				}
			}
			t.Fatalf("no validation error produced for field %s", tt.field)
		})
	}
}

func TestHandleValidationErrorCarriesRequestID(t *testing.T) {
	SetupValidator()
	gin.SetMode(gin.TestMode)

	type input struct {
		Name string `json:"name" binding:"required"`
	}

	router := gin.New()
	router.POST("/api/v1/sync/runs", func(c *gin.Context) {
		c.Set(RequestIDKey, "req-99")
		var in input
		if err := c.ShouldBindJSON(&in); err != nil {
			HandleValidationError(c, err)
			return
		}
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/runs", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ERR_VALIDATION", resp.Error.Code)
	assert.Equal(t, "req-99", resp.Error.RequestID)
}
