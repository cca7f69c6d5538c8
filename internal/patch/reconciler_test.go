package patch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/example/storesheet/internal/model"
)

func newTestReconciler(t *testing.T) *Reconciler {
	t.Helper()
	r := NewReconciler("http://reconcile.test", 5*time.Second, nil, nil)
	httpmock.ActivateNonDefault(r.HTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return r
}

func oneChange() []RowChange {
	return []RowChange{{Row: 6, ProductName: "beta", Price: 250, Stock: 2}}
}

func TestReconcileSuccess(t *testing.T) {
	r := newTestReconciler(t)
	patched := []byte("patched-xlsx-bytes")

	httpmock.RegisterResponder(http.MethodPost, "http://reconcile.test/download-excel/",
		func(req *http.Request) (*http.Response, error) {
			if err := req.ParseMultipartForm(10 << 20); err != nil {
				t.Fatalf("parse multipart: %v", err)
			}
			if req.FormValue("original_filename") != "inventory.xlsx" {
				t.Fatalf("original_filename = %q", req.FormValue("original_filename"))
			}
			if req.FormValue("modifications") == "" {
				t.Fatal("modifications field missing")
			}
			if _, _, err := req.FormFile("excel_file"); err != nil {
				t.Fatalf("excel_file part missing: %v", err)
			}
			resp := httpmock.NewBytesResponse(http.StatusOK, patched)
			resp.Header.Set("Content-Disposition", `attachment; filename="inventory_fixed.xlsx"`)
			return resp, nil
		})

	file, err := r.Reconcile(context.Background(), []byte("original"), "inventory.xlsx", oneChange())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if string(file.Data) != string(patched) {
		t.Fatalf("data = %q", file.Data)
	}
	if file.Filename != "inventory_fixed.xlsx" {
		t.Fatalf("filename = %q, want the header-supplied name", file.Filename)
	}
}

func TestReconcileDerivesFilenameWithoutHeader(t *testing.T) {
	r := newTestReconciler(t)
	httpmock.RegisterResponder(http.MethodPost, "http://reconcile.test/download-excel/",
		httpmock.NewBytesResponder(http.StatusOK, []byte("bytes")))

	file, err := r.Reconcile(context.Background(), []byte("original"), "inventory.xlsx", oneChange())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if file.Filename != "inventory_modified.xlsx" {
		t.Fatalf("filename = %q, want derived fallback", file.Filename)
	}
}

func TestReconcileSurfacesJSONErrorBody(t *testing.T) {
	r := newTestReconciler(t)
	httpmock.RegisterResponder(http.MethodPost, "http://reconcile.test/download-excel/",
		httpmock.NewJsonResponderOrPanic(http.StatusBadRequest,
			map[string]string{"error": "row 6 is out of range"}))

	_, err := r.Reconcile(context.Background(), []byte("original"), "inventory.xlsx", oneChange())
	var recErr *model.ReconcileError
	if !errors.As(err, &recErr) {
		t.Fatalf("err = %v, want ReconcileError", err)
	}
	if recErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", recErr.StatusCode)
	}
	if recErr.Message != "row 6 is out of range" {
		t.Fatalf("message = %q, want the service's own words", recErr.Message)
	}
}

func TestReconcileSurfacesPlainTextErrorBody(t *testing.T) {
	r := newTestReconciler(t)
	httpmock.RegisterResponder(http.MethodPost, "http://reconcile.test/download-excel/",
		httpmock.NewStringResponder(http.StatusInternalServerError, "backend exploded\n"))

	_, err := r.Reconcile(context.Background(), []byte("original"), "inventory.xlsx", oneChange())
	var recErr *model.ReconcileError
	if !errors.As(err, &recErr) {
		t.Fatalf("err = %v, want ReconcileError", err)
	}
	if recErr.Message != "backend exploded" {
		t.Fatalf("message = %q", recErr.Message)
	}
}

func TestReconcileRejectsEmptyFile(t *testing.T) {
	r := newTestReconciler(t)
	httpmock.RegisterResponder(http.MethodPost, "http://reconcile.test/download-excel/",
		httpmock.NewBytesResponder(http.StatusOK, nil))

	_, err := r.Reconcile(context.Background(), []byte("original"), "inventory.xlsx", oneChange())
	var recErr *model.ReconcileError
	if !errors.As(err, &recErr) {
		t.Fatalf("err = %v, want ReconcileError for empty body", err)
	}
}

func TestReconcileTransportError(t *testing.T) {
	r := newTestReconciler(t)
	httpmock.RegisterResponder(http.MethodPost, "http://reconcile.test/download-excel/",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := r.Reconcile(context.Background(), []byte("original"), "inventory.xlsx", oneChange())
	var recErr *model.ReconcileError
	if !errors.As(err, &recErr) {
		t.Fatalf("err = %v, want ReconcileError", err)
	}
	if recErr.StatusCode != 0 {
		t.Fatalf("transport failure must not carry an HTTP status, got %d", recErr.StatusCode)
	}
}

func TestReconcileRefusesEmptyChangeSet(t *testing.T) {
	r := newTestReconciler(t)
	if _, err := r.Reconcile(context.Background(), []byte("original"), "inventory.xlsx", nil); !errors.Is(err, model.ErrNothingToPatch) {
		t.Fatalf("err = %v, want ErrNothingToPatch", err)
	}
}
