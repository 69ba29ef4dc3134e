package transfer_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/transfer"
)

func TestArrivalHandlerReportsDuplicatesAsConflict(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	r.Use(shared.ActorMiddleware)
	r.Route("/api/transfers", transfer.NewHandler(nil, f.svc).MountRoutes)

	post := func(path, body string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set(shared.HeaderActorRole, "operator")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}
	path := fmt.Sprintf("/api/transfers/arrivals/%d", f.batch.ID)

	require.Equal(t, http.StatusBadRequest, post("/api/transfers/arrivals/abc", ""))
	require.Equal(t, http.StatusOK, post(path, ""))
	require.Equal(t, http.StatusConflict, post(path, ""))
	require.Equal(t, http.StatusNotFound, post("/api/transfers/arrivals/9999", `{"destination_warehouse_id":2}`))
}
