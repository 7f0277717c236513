package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rawblock/joinmarket-unmix/internal/errs"
)

func TestFetch_ParsesWellFormedTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"txid": "deadbeef",
			"vin": []map[string]interface{}{
				{"prevout": map[string]interface{}{"value": 1_000_050, "scriptpubkey_address": "addr1"}},
				{"prevout": map[string]interface{}{"value": 1_000_100, "scriptpubkey_address": "addr2"}},
			},
			"vout": []map[string]interface{}{
				{"value": 1_000_000, "scriptpubkey_address": "addr3"},
				{"value": 1_000_000, "scriptpubkey_address": "addr4"},
				{"value": 150, "scriptpubkey_address": "addr5"},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	tx, err := client.Fetch(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.N != 2 {
		t.Errorf("expected N=2, got %d", tx.N)
	}
	if tx.NumInputs() != 2 {
		t.Errorf("expected 2 inputs, got %d", tx.NumInputs())
	}
}

func TestFetch_NotFoundSurfacesInputError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Fetch(context.Background(), "missing")

	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindInputError {
		t.Fatalf("expected InputError, got %v", err)
	}
}
