package tariffs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/erg/core/tariff"
)

func setup(t *testing.T) (http.Handler, *tariff.Store) {
	t.Helper()
	store := tariff.NewStore(nil)
	h := NewHandler(store, time.UTC, nil)
	h.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	h.Routes(r)
	return r, store
}

func serve(h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, url, strings.NewReader(body)))
	return rr
}

func TestImportReplacesTariffs(t *testing.T) {
	h, store := setup(t)
	rr := serve(h, http.MethodPut, "/api/tariffs", `
periods:
  - start: "23:00"
    end: "07:00"
    import_price: 0.12
  - name: Peak
    start: "07:00"
    end: "23:00"
    import_price: 0.30
    feed_in_price: 0.08
`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, store.Tariffs(), 2)
	assert.Equal(t, "Tariff 1 (23:00-07:00)", store.Tariffs()[0].Name)

	rr = serve(h, http.MethodGet, "/api/tariffs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"name":"Peak"`)

	rr = serve(h, http.MethodGet, "/api/tariffs/periods", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var periods []tariff.Period
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &periods))
	var total time.Duration
	for _, p := range periods {
		total += p.End.Sub(p.Start)
	}
	assert.Equal(t, 24*time.Hour, total)
}

func TestImportRejectsInvalidDocuments(t *testing.T) {
	h, store := setup(t)
	store.Replace([]tariff.Tariff{{Name: "keep"}})
	for _, body := range []string{
		``,
		`- start: "25:00"
  end: "07:00"`,
		`- start: "01:00"
  end: "07:00"
  import_price: cheap`,
	} {
		rr := serve(h, http.MethodPut, "/api/tariffs", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
	require.Len(t, store.Tariffs(), 1)
	assert.Equal(t, "keep", store.Tariffs()[0].Name)
}

func TestPeriodsRejectsBadRange(t *testing.T) {
	h, _ := setup(t)
	rr := serve(h, http.MethodGet, "/api/tariffs/periods?start=2025-06-02T00:00:00Z&end=2025-06-01T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = serve(h, http.MethodGet, "/api/tariffs/periods?end=tomorrow", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
