package moonraker

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spoolsync/spoolsync/cmd/spoolsync/helper"
	"github.com/stretchr/testify/assert"
)

func TestSetSpoolAndFilament(t *testing.T) {
	helper.InitTestLogging()

	var gotPath string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL + "/")
	err := client.SetSpoolAndFilament(5, 2, 0)
	assert.NoError(t, err)

	assert.Equal(t, "/api/printer/command", gotPath)
	assert.JSONEq(t, `{"commands":["MMU_GATE_MAP GATE=0 SPOOLID=5"]}`, string(gotBody))
}

func TestSetSpoolAndFilamentNonZeroGate(t *testing.T) {
	helper.InitTestLogging()

	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	assert.NoError(t, client.SetSpoolAndFilament(7, 3, 2))
	assert.JSONEq(t, `{"commands":["MMU_GATE_MAP GATE=2 SPOOLID=7"]}`, string(gotBody))
}

func TestSetSpoolAndFilamentRejectsNon200(t *testing.T) {
	helper.InitTestLogging()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.SetSpoolAndFilament(5, 2, 0)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "moonraker")
}

func TestSetSpoolAndFilamentUnreachable(t *testing.T) {
	helper.InitTestLogging()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL)
	assert.Error(t, client.SetSpoolAndFilament(5, 2, 0))
}
