package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrade/internal/auth"
	"copytrade/internal/events"
	"copytrade/internal/replication"
	"copytrade/internal/venue"
)

type memStore struct {
	data map[string]string
}

func (s *memStore) Get(key string) (string, error) { return s.data[key], nil }

func (s *memStore) Set(key, value string) error {
	s.data[key] = value
	return nil
}

type plainCipher struct{}

func (plainCipher) Encrypt(plaintext string) string { return plaintext }
func (plainCipher) Decrypt(envelope string) string  { return envelope }

type stubTransport struct {
	loginID string
}

func (t *stubTransport) Authorize(_ context.Context, _ string) (*venue.AuthInfo, error) {
	return &venue.AuthInfo{LoginID: t.loginID, Balance: 100}, nil
}

func (t *stubTransport) Send(_ context.Context, _ venue.Request) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (t *stubTransport) SubscribeBalance(_ context.Context) (<-chan venue.BalanceUpdate, error) {
	ch := make(chan venue.BalanceUpdate)
	close(ch)

	return ch, nil
}

func (t *stubTransport) Close() error { return nil }

type stubDialer struct{}

func (stubDialer) Dial(_ context.Context) (venue.Transport, error) {
	return &stubTransport{loginID: "CR900"}, nil
}

type apiFixture struct {
	server *httptest.Server
	token  string
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &memStore{data: make(map[string]string)}

	manager := replication.NewManager(store, plainCipher{}, stubDialer{}, logger)
	replicator := replication.NewReplicator(manager, logger, replication.WithSpacing(time.Millisecond))

	bus := events.NewBus()
	teardown := replication.InitReplicator(bus, replicator)
	t.Cleanup(teardown)

	authService := auth.NewService("test-secret", time.Hour)
	hash, err := authService.HashPassword("swordfish")
	require.NoError(t, err)

	h := New(manager, replicator, bus, authService, hash, logger)

	server := httptest.NewServer(h.SetupRouter())
	t.Cleanup(server.Close)

	token, err := authService.GenerateToken("operator")
	require.NoError(t, err)

	return &apiFixture{server: server, token: token}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func TestHealth_NoAuthRequired(t *testing.T) {
	f := setupAPI(t)

	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogin(t *testing.T) {
	f := setupAPI(t)

	resp, err := http.Post(f.server.URL+"/api/auth/login", "application/json",
		bytes.NewBufferString(`{"password":"swordfish"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Token)
}

func TestLogin_WrongPassword(t *testing.T) {
	f := setupAPI(t)

	resp, err := http.Post(f.server.URL+"/api/auth/login", "application/json",
		bytes.NewBufferString(`{"password":"nope"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRoutes_RejectMissingToken(t *testing.T) {
	f := setupAPI(t)

	resp, err := http.Get(f.server.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRoutes_RejectBadToken(t *testing.T) {
	f := setupAPI(t)
	f.token = "garbage"

	resp := f.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMasterLifecycle(t *testing.T) {
	f := setupAPI(t)

	resp := f.do(t, http.MethodPost, "/api/master/connect", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/master/token", map[string]string{"token": "master-tok"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/master/connect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "master-tok", "credentials must never appear in responses")

	var master masterView
	require.NoError(t, json.Unmarshal(raw, &master))
	assert.True(t, master.HasToken)
	assert.Equal(t, "CR900", master.AccountID)
	assert.Equal(t, replication.StatusConnected, master.Status)

	resp = f.do(t, http.MethodPost, "/api/master/disconnect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/status", nil)
	status := decodeBody[statusResponse](t, resp)
	assert.Equal(t, replication.StatusDisconnected, status.Master.Status)
}

func TestCopierLifecycle(t *testing.T) {
	f := setupAPI(t)

	resp := f.do(t, http.MethodPost, "/api/copiers", map[string]string{"token": "cop-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "cop-1", "credentials must never appear in responses")

	var copier copierView
	require.NoError(t, json.Unmarshal(raw, &copier))
	assert.NotEmpty(t, copier.ID)
	assert.True(t, copier.Enabled)

	resp = f.do(t, http.MethodPost, "/api/copiers", map[string]string{"token": "cop-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/copiers", map[string]string{"token": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/copiers/"+copier.ID+"/connect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/copiers/"+copier.ID+"/enabled", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/status", nil)
	status := decodeBody[statusResponse](t, resp)
	require.Len(t, status.Copiers, 1)
	assert.False(t, status.Copiers[0].Enabled)
	assert.Equal(t, replication.StatusConnected, status.Copiers[0].Status)

	resp = f.do(t, http.MethodDelete, "/api/copiers/"+copier.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/status", nil)
	status = decodeBody[statusResponse](t, resp)
	assert.Empty(t, status.Copiers)
}

func TestEnableCopier_UnknownID(t *testing.T) {
	f := setupAPI(t)

	resp := f.do(t, http.MethodPut, "/api/copiers/missing/enabled", map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSettings(t *testing.T) {
	f := setupAPI(t)

	resp := f.do(t, http.MethodPut, "/api/settings/replication", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	settings := decodeBody[replication.Settings](t, resp)
	assert.True(t, settings.ReplicationEnabled)

	resp = f.do(t, http.MethodPut, "/api/settings/stake-multiplier", map[string]float64{"stakeMultiplier": 2.5})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	settings = decodeBody[replication.Settings](t, resp)
	assert.Equal(t, 2.5, settings.StakeMultiplier)

	limit := 50.0
	resp = f.do(t, http.MethodPut, "/api/settings/stake-cap", map[string]*float64{"stakeCap": &limit})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	settings = decodeBody[replication.Settings](t, resp)
	require.NotNil(t, settings.StakeCap)
	assert.Equal(t, 50.0, *settings.StakeCap)

	resp = f.do(t, http.MethodPut, "/api/settings/stake-cap", map[string]*float64{"stakeCap": nil})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	settings = decodeBody[replication.Settings](t, resp)
	assert.Nil(t, settings.StakeCap)
}

func TestLogs_EmptyByDefault(t *testing.T) {
	f := setupAPI(t)

	resp := f.do(t, http.MethodGet, "/api/logs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	logs := decodeBody[[]replication.TradeLogEntry](t, resp)
	assert.Empty(t, logs)
}

func TestPurchase_RejectsEmptyRequest(t *testing.T) {
	f := setupAPI(t)

	resp := f.do(t, http.MethodPost, "/api/purchase", map[string]any{"contract_type": "CALL"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPurchase_FansOutToLog(t *testing.T) {
	f := setupAPI(t)

	resp := f.do(t, http.MethodPut, "/api/master/token", map[string]string{"token": "master-tok"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/api/master/connect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, http.MethodPut, "/api/settings/replication", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/purchase", map[string]any{
		"contract_type": "CALL",
		"mode":          "parameters",
		"request": map[string]any{
			"buy":        1,
			"price":      10,
			"parameters": map[string]any{"amount": 10.0, "currency": "USD"},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/logs", nil)
		if err != nil {
			return false
		}
		req.Header.Set("Authorization", "Bearer "+f.token)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		var logs []replication.TradeLogEntry

		return json.NewDecoder(resp.Body).Decode(&logs) == nil && len(logs) == 1
	}, time.Second, 10*time.Millisecond)
}
