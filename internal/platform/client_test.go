package platform

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendRecordSuccess(t *testing.T) {
	var gotAuth string
	var gotBody DeliveryRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"execution_id":"abc"}`))
	}))
	defer srv.Close()

	c := NewClient("", "", discardLogger())
	err := c.SendRecord(context.Background(), srv.URL, "secret-token", "wf-1", map[string]any{
		"record_ref": "p-1",
		"name":       "chair",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "wf-1", gotBody.WorkflowID)
	assert.Equal(t, "p-1", gotBody.Parameters["record_ref"])
	assert.Equal(t, "chair", gotBody.Parameters["name"])
}

func TestSendRecordNon200IsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("workflow not found"))
	}))
	defer srv.Close()

	c := NewClient("", "", discardLogger())
	err := c.SendRecord(context.Background(), srv.URL, "t", "wf-1", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "workflow not found")
}

func TestSendRecordTransportError(t *testing.T) {
	c := NewClient("", "", discardLogger())
	// Nothing listens here.
	err := c.SendRecord(context.Background(), "http://127.0.0.1:1", "t", "wf-1", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform unreachable")
}

func TestSendRecordFallsBackToDefaults(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "default-token", discardLogger())
	err := c.SendRecord(context.Background(), "", "", "wf-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer default-token", gotAuth)
}

func TestSendRecordNoEndpointConfigured(t *testing.T) {
	c := NewClient("", "", discardLogger())
	err := c.SendRecord(context.Background(), "", "", "wf-1", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no platform endpoint")
}
