package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nimbusdata/schema-registry/internal/schema/logclient"
	"github.com/nimbusdata/schema-registry/internal/schema/replica"
	"github.com/nimbusdata/schema-registry/internal/schema/store"
	"github.com/nimbusdata/schema-registry/internal/schema/types"
	"github.com/nimbusdata/schema-registry/internal/schema/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tp = logclient.TopicPartition{Topic: "_schemas", Partition: 0}

func newTestRouter() *httptest.Server {
	client := logclient.NewMemoryClient()
	w := writer.New(writer.Config{Client: client, Topic: tp, Store: store.New(types.Backward), NodeID: "test-node"})
	r := replica.New(client, tp, types.Backward, w.Notifier(), nil)
	Init(w, r)
	return httptest.NewServer(SetupRouter())
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestRegisterAndFetchSchema(t *testing.T) {
	srv := newTestRouter()
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/subjects/s1/versions", SchemaRequest{Schema: "D1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created SchemaResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, 1, created.ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/subjects/s1/versions/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched SchemaRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fetched))
	resp.Body.Close()
	assert.Equal(t, "D1", fetched.Schema)
	assert.Equal(t, 1, fetched.ID)
}

func TestGetSchemaVersion_UnknownSubjectIs404(t *testing.T) {
	srv := newTestRouter()
	defer srv.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/subjects/missing/versions/1", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfigRoundTrip(t *testing.T) {
	srv := newTestRouter()
	defer srv.Close()

	resp := doJSON(t, http.MethodPut, srv.URL+"/config", ConfigRequest{Compatibility: "FULL"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg ConfigResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	resp.Body.Close()
	assert.Equal(t, "FULL", cfg.CompatibilityLevel)
}

func TestDeleteSubjectThenPermanent(t *testing.T) {
	srv := newTestRouter()
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/subjects/s1/versions", SchemaRequest{Schema: "D1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodDelete, srv.URL+"/subjects/s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodDelete, srv.URL+"/subjects/s1?permanent=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var versions []int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&versions))
	resp.Body.Close()
	assert.Equal(t, []int{1}, versions)
}

func TestSubjectsListing(t *testing.T) {
	srv := newTestRouter()
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/subjects/s1/versions", SchemaRequest{Schema: "D1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/subjects", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var subjects []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&subjects))
	resp.Body.Close()
	assert.Equal(t, []string{"s1"}, subjects)
}
