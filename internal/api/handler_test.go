package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"reservation-service/internal/lock"
	"reservation-service/internal/models"
	"reservation-service/internal/notify"
	"reservation-service/internal/redisclient"
	"reservation-service/internal/saga"
	"reservation-service/internal/service"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

type silentNotifier struct{}

func (silentNotifier) Notify(context.Context, string, notify.Recipient, map[string]string) (notify.Receipt, error) {
	return notify.Receipt{Channel: "test", Status: notify.StatusSent}, nil
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func newRouter(t *testing.T, pinger Pinger, rc *redisclient.Client) (*gin.Engine, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.CreateProperty(ctx, &models.Property{ID: "p1", OwnerID: "o1", Name: "Sea View", Address: "1 Beach Rd"}))
	require.NoError(t, mem.CreateUser(ctx, &models.User{ID: "g1", Name: "Ana", Email: "ana@example.com", Role: models.UserRoleGuest}))
	require.NoError(t, mem.CreateUser(ctx, &models.User{ID: "o1", Name: "Olu", Email: "olu@example.com", Role: models.UserRoleOwner}))

	wf := service.NewWorkflows(mem, service.NewTaskFactory(mem, 150), silentNotifier{}, "USD")
	payments := service.NewPaymentProcessor(mem, silentNotifier{}, service.DefaultDistributionSettings(), "USD")
	reg, err := service.BuildRegistry(wf, payments)
	require.NoError(t, err)
	svc := service.NewReservationService(mem, saga.NewExecutor(reg, saga.WithJournal(mem)), payments, lock.NewKeyedMutex(), nil, "USD")

	if pinger == nil {
		pinger = mem
	}
	router := gin.New()
	NewHandler(svc, pinger, rc).SetupRoutes(router)
	return router, mem
}

func do(router *gin.Engine, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success     bool            `json:"success"`
	ExecutionID string          `json:"execution_id"`
	Code        string          `json:"code"`
	Error       string          `json:"error"`
	FailedStep  string          `json:"failed_step"`
	Data        json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func createReservation(t *testing.T, router *gin.Engine, total int64) string {
	t.Helper()
	checkIn := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Hour)
	w := do(router, http.MethodPost, "/api/v1/reservations", gin.H{
		"property_id":  "p1",
		"guest_id":     "g1",
		"check_in":     checkIn,
		"check_out":    checkIn.Add(72 * time.Hour),
		"total_amount": total,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var r models.Reservation
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &r))
	assert.Equal(t, models.ReservationStatusPending, r.Status)
	assert.Equal(t, "USD", r.Currency)
	return r.ID
}

func TestReservationLifecycleOverHTTP(t *testing.T) {
	router, _ := newRouter(t, nil, nil)
	id := createReservation(t, router, 500)

	w := do(router, http.MethodPost, "/api/v1/reservations/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode(t, w).Success)

	w = do(router, http.MethodPost, "/api/v1/reservations/"+id+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	env := decode(t, w)
	assert.Equal(t, "INVALID_STATE", env.Code)
	assert.Equal(t, "validate", env.FailedStep)

	w = do(router, http.MethodGet, "/api/v1/reservations/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view service.ReservationView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, models.ReservationStatusConfirmed, view.Reservation.Status)
	assert.Len(t, view.Tasks, 2)
	assert.Len(t, view.Transactions, 1)

	w = do(router, http.MethodPost, "/api/v1/reservations/"+id+"/cancel", gin.H{"reason": "guest request"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(router, http.MethodPost, "/api/v1/reservations/"+id+"/check-in", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateReservationValidation(t *testing.T) {
	router, _ := newRouter(t, nil, nil)
	checkIn := time.Now().UTC().Add(24 * time.Hour)

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"missing fields", gin.H{"property_id": "p1"}, http.StatusBadRequest},
		{"check-out before check-in", gin.H{
			"property_id": "p1", "guest_id": "g1", "total_amount": 100,
			"check_in": checkIn, "check_out": checkIn.Add(-time.Hour),
		}, http.StatusBadRequest},
		{"unknown property", gin.H{
			"property_id": "nope", "guest_id": "g1", "total_amount": 100,
			"check_in": checkIn, "check_out": checkIn.Add(time.Hour),
		}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/api/v1/reservations", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestUnknownReservationIsNotFound(t *testing.T) {
	router, _ := newRouter(t, nil, nil)

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/v1/reservations/missing", nil).Code)
	w := do(router, http.MethodPost, "/api/v1/reservations/missing/confirm", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w).Code)
}

func TestPaymentIdempotencyKey(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rc := redisclient.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	router, mem := newRouter(t, nil, rc)
	id := createReservation(t, router, 500)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/v1/reservations/"+id+"/confirm", nil).Code)

	payment := gin.H{"amount": 100, "method": "card"}
	w := do(router, http.MethodPost, "/api/v1/reservations/"+id+"/payments", payment, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(router, http.MethodPost, "/api/v1/reservations/"+id+"/payments", payment, "Idempotency-Key", "k1")
	assert.Equal(t, http.StatusConflict, w.Code)

	// A rejected payment frees its key.
	w = do(router, http.MethodPost, "/api/v1/reservations/"+id+"/payments", gin.H{"amount": 1000}, "Idempotency-Key", "k2")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mr.Exists("idempotency:payment:"+id+":k2"))

	r, err := mem.FindReservation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), r.PaidAmount)
	assert.Equal(t, models.PaymentStatusPartial, r.PaymentStatus)
}

func TestOwnerPayoutOverHTTP(t *testing.T) {
	router, mem := newRouter(t, nil, nil)
	id := createReservation(t, router, 1000)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/v1/reservations/"+id+"/confirm", nil).Code)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/v1/reservations/"+id+"/payments", gin.H{"amount": 1000}).Code)

	payouts, err := mem.ListTransactions(context.Background(), models.TransactionFilter{
		ReservationID: id,
		Types:         []models.TransactionType{models.TransactionTypeOwnerPayout},
	})
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, int64(700), payouts[0].Amount)

	path := "/api/v1/payouts/" + payouts[0].ID + "/complete"
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, path, gin.H{}).Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodPost, path, gin.H{"method": "bank_transfer"}).Code)
	assert.Equal(t, http.StatusConflict, do(router, http.MethodPost, path, gin.H{"method": "bank_transfer"}).Code)
}

func TestExecutionStepsOverHTTP(t *testing.T) {
	router, _ := newRouter(t, nil, nil)
	id := createReservation(t, router, 500)

	w := do(router, http.MethodPost, "/api/v1/reservations/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	execID := decode(t, w).ExecutionID
	require.NotEmpty(t, execID)

	w = do(router, http.MethodGet, "/api/v1/executions/"+execID+"/steps", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Steps []models.StepRecord `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Steps)
	assert.Equal(t, "validate", body.Steps[0].Step)
	for _, step := range body.Steps {
		assert.Equal(t, execID, step.ExecutionID)
	}

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/v1/executions/missing/steps", nil).Code)
}

func TestPreviewDistribution(t *testing.T) {
	router, _ := newRouter(t, nil, nil)

	w := do(router, http.MethodGet, "/api/v1/distribution?amount=1000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var d models.Distribution
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, int64(700), d.OwnerPayout)
	assert.Equal(t, int64(250), d.PlatformFee)
	assert.Equal(t, int64(50), d.AgentFee)

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/api/v1/distribution?amount=abc", nil).Code)
}

func TestReadiness(t *testing.T) {
	router, _ := newRouter(t, nil, nil)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/ready", nil).Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health", nil).Code)

	router, _ = newRouter(t, downStore{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(router, http.MethodGet, "/ready", nil).Code)
}
