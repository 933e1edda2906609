package web

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/meterpay/meterpay/adapters/clock"
	"github.com/meterpay/meterpay/adapters/hasher"
	"github.com/meterpay/meterpay/adapters/idgen"
	"github.com/meterpay/meterpay/adapters/memory"
	"github.com/meterpay/meterpay/adapters/metrics"
	"github.com/meterpay/meterpay/adapters/random"
	"github.com/meterpay/meterpay/adapters/scheduler"
	"github.com/meterpay/meterpay/adapters/signer"
	"github.com/meterpay/meterpay/app"
	"github.com/meterpay/meterpay/domain/attest"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type apiFixture struct {
	srv    *httptest.Server
	clock  *clock.Fake
	signer *signer.Ed25519Signer
	engine *app.SettlementService
	sched  *scheduler.Memory
}

func newAPIFixture(t *testing.T, apiKey string) *apiFixture {
	t.Helper()

	sig, err := signer.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	fakeClock := clock.NewFake(t0)
	sched := scheduler.NewMemory(scheduler.Config{Granularity: time.Second})
	collector := metrics.NewWithRegistry(prometheus.NewRegistry())

	engine := app.NewSettlementService(app.SettlementDeps{
		Streams:  memory.NewStreamStore(),
		Sched:    sched,
		Verifier: signer.Ed25519Verifier{},
		Payouts:  memory.NewLedger(),
		Events:   memory.NewEventRecorder(),
		Clock:    fakeClock,
		IDGen:    idgen.NewSequential("evt"),
		Prober:   app.NewProber(sched, random.NewDeterministic(1), zerolog.Nop(), collector),
		Logger:   zerolog.Nop(),
		Metrics:  collector,
	}, app.SettlementConfig{})

	h := hasher.Fake{}
	var keyHash []byte
	if apiKey != "" {
		keyHash, _ = h.Hash(apiKey)
	}
	handler := NewHandler(Deps{
		Engine:     engine,
		Hasher:     h,
		APIKeyHash: keyHash,
		Logger:     zerolog.Nop(),
	})

	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, clock: fakeClock, signer: sig, engine: engine, sched: sched}
}

func (f *apiFixture) do(t *testing.T, method, path, apiKey string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func (f *apiFixture) createBody() map[string]any {
	return map[string]any{
		"payer":                    "payer-1",
		"payee":                    "payee-1",
		"authorized_reporter":      f.signer.Identity(),
		"base_rate_per_unit":       100,
		"max_pay_per_interval":     10_000,
		"settlement_interval_secs": 3600,
		"deposit":                  1000,
	}
}

func TestHealthIsPublic(t *testing.T) {
	f := newAPIFixture(t, "secret")

	resp, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %+v", body)
	}
}

func TestAuthMiddleware(t *testing.T) {
	f := newAPIFixture(t, "secret")

	resp, _ := f.do(t, http.MethodGet, "/streams", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/streams", "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/streams", "secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid key: status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	f := newAPIFixture(t, "")

	resp, _ := f.do(t, http.MethodGet, "/streams", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", resp.StatusCode)
	}
}

func TestCreateAndGetStream(t *testing.T) {
	f := newAPIFixture(t, "")

	resp, body := f.do(t, http.MethodPost, "/streams", "", f.createBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status = %d, body %+v", resp.StatusCode, body)
	}
	if body["id"] != float64(1) {
		t.Errorf("id = %v, want 1", body["id"])
	}
	if body["status"] != "active" {
		t.Errorf("status = %v, want active", body["status"])
	}

	resp, body = f.do(t, http.MethodGet, "/streams/1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status = %d", resp.StatusCode)
	}
	if body["deposit_balance"] != float64(1000) {
		t.Errorf("deposit_balance = %v, want 1000", body["deposit_balance"])
	}

	resp, _ = f.do(t, http.MethodGet, "/streams/99", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing stream: status = %d, want 404", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodGet, "/streams/zero", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateStreamValidation(t *testing.T) {
	f := newAPIFixture(t, "")

	body := f.createBody()
	body["deposit"] = 0
	resp, _ := f.do(t, http.MethodPost, "/streams", "", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateStreamPausedWhenSchedulerFull(t *testing.T) {
	f := newAPIFixture(t, "")

	// Saturate the desired slot and every slot the prober can back off into.
	desired := t0.Add(time.Hour)
	for off := -1; off <= 300; off++ {
		f.sched.FillSlot(desired.Add(time.Duration(off) * time.Second))
	}

	resp, body := f.do(t, http.MethodPost, "/streams", "", f.createBody())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %+v", resp.StatusCode, body)
	}
	if body["status"] != "paused" {
		t.Errorf("status = %v, want paused", body["status"])
	}
	if body["id"] != float64(1) {
		t.Errorf("id = %v, want 1", body["id"])
	}
}

func TestSubmitReportOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "")

	resp, _ := f.do(t, http.MethodPost, "/streams", "", f.createBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatal("create failed")
	}

	signed := f.signer.Sign(attest.Report{
		StreamID:        1,
		CumulativeUsage: 5,
		BaseRate:        100,
		CongestionBps:   10_000,
		Timestamp:       f.clock.Now().Unix(),
		Nonce:           1,
	})
	reportBody := map[string]any{
		"cumulative_usage": signed.CumulativeUsage,
		"base_rate":        signed.BaseRate,
		"congestion_bps":   signed.CongestionBps,
		"timestamp":        signed.Timestamp,
		"nonce":            signed.Nonce,
		"signature":        hex.EncodeToString(signed.Signature),
	}

	resp, body := f.do(t, http.MethodPost, "/streams/1/report", "", reportBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report: status = %d, body %+v", resp.StatusCode, body)
	}

	// Replay is a conflict.
	resp, _ = f.do(t, http.MethodPost, "/streams/1/report", "", reportBody)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("replay: status = %d, want 409", resp.StatusCode)
	}

	// A well-formed follow-up report carrying the previous signature passes
	// every ledger check and must fail on the signature alone.
	reportBody["nonce"] = 2
	reportBody["cumulative_usage"] = 10
	resp, _ = f.do(t, http.MethodPost, "/streams/1/report", "", reportBody)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad signature: status = %d, want 401", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodGet, "/streams/1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatal("get failed")
	}
	if body["accrued_amount"] != float64(500) {
		t.Errorf("accrued_amount = %v, want 500", body["accrued_amount"])
	}
}

func TestTopUpAndStop(t *testing.T) {
	f := newAPIFixture(t, "")

	if resp, _ := f.do(t, http.MethodPost, "/streams", "", f.createBody()); resp.StatusCode != http.StatusCreated {
		t.Fatal("create failed")
	}

	resp, body := f.do(t, http.MethodPost, "/streams/1/topup", "", map[string]any{"caller": "payer-1", "amount": 250})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("topup: status = %d", resp.StatusCode)
	}
	if body["deposit_balance"] != float64(1250) {
		t.Errorf("deposit_balance = %v, want 1250", body["deposit_balance"])
	}

	resp, _ = f.do(t, http.MethodPost, "/streams/1/topup", "", map[string]any{"caller": "payee-1", "amount": 250})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("payee topup: status = %d, want 403", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/streams/1/stop", "", map[string]any{"caller": "stranger"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("stranger stop: status = %d, want 403", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodPost, "/streams/1/stop", "", map[string]any{"caller": "payee-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: status = %d, body %+v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodPost, "/streams/1/stop", "", map[string]any{"caller": "payer-1"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("double stop: status = %d, want 409", resp.StatusCode)
	}
}

func TestPricingHistoryEndpoint(t *testing.T) {
	f := newAPIFixture(t, "")

	if resp, _ := f.do(t, http.MethodPost, "/streams", "", f.createBody()); resp.StatusCode != http.StatusCreated {
		t.Fatal("create failed")
	}

	resp, body := f.do(t, http.MethodGet, "/streams/1/pricing", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	history, ok := body["history"].([]any)
	if !ok || len(history) != 1 {
		t.Fatalf("history = %+v, want one seed entry", body["history"])
	}
	entry := history[0].(map[string]any)
	if entry["effective_rate"] != float64(100) {
		t.Errorf("seed effective_rate = %v, want 100", entry["effective_rate"])
	}
}

func TestListStreams(t *testing.T) {
	f := newAPIFixture(t, "")

	for i := 0; i < 3; i++ {
		body := f.createBody()
		body["payee"] = fmt.Sprintf("payee-%d", i)
		if resp, _ := f.do(t, http.MethodPost, "/streams", "", body); resp.StatusCode != http.StatusCreated {
			t.Fatal("create failed")
		}
	}

	resp, body := f.do(t, http.MethodGet, "/streams", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	streams, ok := body["streams"].([]any)
	if !ok || len(streams) != 3 {
		t.Errorf("streams = %+v, want 3 entries", body["streams"])
	}
}
