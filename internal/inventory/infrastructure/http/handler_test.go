package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/application"
	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/infrastructure/memory"
	"github.com/dmehra2102/order-inventory-choreography/pkg/metrics"
	"github.com/dmehra2102/order-inventory-choreography/pkg/outbox"
)

func newTestAPI(t *testing.T) (http.Handler, *application.Service) {
	t.Helper()
	store := memory.NewStore(outbox.NewMemoryStore())
	svc := application.NewService(zap.NewNop(), store, store, metrics.New(prometheus.NewRegistry()))
	return NewHandler(zap.NewNop(), svc).Routes(), svc
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestProductLifecycle(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := do(h, http.MethodPost, "/products", `{"name":"Teclado","price":"149.90","stock":3}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":1,"name":"Teclado","price":"149.9","stock":3}`, rec.Body.String())

	rec = do(h, http.MethodPut, "/products/1", `{"name":"Teclado ABNT2","price":139.9,"stock":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ABNT2")

	rec = do(h, http.MethodGet, "/products", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stock":5`)

	rec = do(h, http.MethodDelete, "/products/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(h, http.MethodGet, "/products/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateProductValidation(t *testing.T) {
	h, _ := newTestAPI(t)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/products", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/products", `{"name":"x","price":"1","stock":-1}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/products/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/products", `{"name":"x","price":"9.999","stock":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/products", `{"name":"x","price":"1000000000000","stock":1}`).Code)

	require.Equal(t, http.StatusCreated, do(h, http.MethodPost, "/products", `{"name":"x","price":"9.99","stock":1}`).Code)
	rec := do(h, http.MethodPut, "/products/1", `{"name":"x","price":"9.991","stock":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(h, http.MethodGet, "/products/1", "")
	assert.Contains(t, rec.Body.String(), `"price":"9.99"`)
}

func TestReserveEndpoint(t *testing.T) {
	h, svc := newTestAPI(t)
	p, err := svc.CreateProduct(context.Background(), "Mouse", decimal.NewFromInt(50), 2)
	require.NoError(t, err)
	target := "/products/" + strconv.FormatInt(p.ID, 10) + "/reserve"

	rec := do(h, http.MethodPost, target+"?quantity=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reserved":true}`, rec.Body.String())

	rec = do(h, http.MethodPost, target+"?quantity=1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, target+"?quantity=0", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/products/99/reserve?quantity=1", "").Code)

	got, err := svc.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.Stock)
}
