package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	var dest struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"audit"}`))
	require.NoError(t, ParseJSON(req, &dest))
	assert.Equal(t, "audit", dest.Name)

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{broken`))
	assert.Error(t, ParseJSON(req, &dest))
}

func TestParsePathInt64(t *testing.T) {
	router := mux.NewRouter()
	var id int64
	var parseErr error
	router.HandleFunc("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, parseErr = ParsePathInt64(r, "id")
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/items/42", nil))
	require.NoError(t, parseErr)
	assert.Equal(t, int64(42), id)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/items/abc", nil))
	assert.Error(t, parseErr)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/?page=3&bad=x", nil)

	assert.Equal(t, 3, QueryInt(req, "page", 1))
	assert.Equal(t, 1, QueryInt(req, "bad", 1))
	assert.Equal(t, 25, QueryInt(req, "missing", 25))
}
