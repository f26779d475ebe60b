package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestIDRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFromContext(c))
	})
	return router
}

func getID(router *gin.Engine, incoming string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	if incoming != "" {
		req.Header.Set(RequestIDHeader, incoming)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestRequestIDEchoesIncomingHeader(t *testing.T) {
	resp := getID(requestIDRouter(), "abc")

	assert.Equal(t, "abc", resp.Body.String())
	assert.Equal(t, "abc", resp.Header().Get(RequestIDHeader))
}

func TestRequestIDGeneratesTimeOrderedID(t *testing.T) {
	router := requestIDRouter()

	first := getID(router, "").Body.String()
	second := getID(router, "").Body.String()

	require.True(t, strings.HasPrefix(first, "pp-"), first)
	parsed, err := uuid.Parse(strings.TrimPrefix(first, "pp-"))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, first, second)
}

func TestRequestIDReplacesMalformedHeader(t *testing.T) {
	router := requestIDRouter()

	for _, incoming := range []string{
		"two words",
		"tab\there",
		"café",
		strings.Repeat("x", maxRequestIDLen+1),
	} {
		resp := getID(router, incoming)
		id := resp.Body.String()
		assert.NotEqual(t, incoming, id)
		assert.True(t, strings.HasPrefix(id, "pp-"), id)
		assert.Equal(t, id, resp.Header().Get(RequestIDHeader))
	}

	long := strings.Repeat("x", maxRequestIDLen)
	assert.Equal(t, long, getID(router, long).Body.String())
}
