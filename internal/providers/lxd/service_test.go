package lxd

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	integrationdomain "github.com/smallbiznis/accessportal/internal/integration/domain"
	"github.com/smallbiznis/accessportal/internal/providers/providertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLXD struct {
	mu          sync.Mutex
	opPolls     int
	lastState   stateRequest
	clientCerts int
	failOp      bool
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func async(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]any{
		"type": "async", "status": "Operation created", "status_code": 100,
		"operation": "/1.0/operations/op-1", "metadata": map[string]any{"id": "op-1"},
	})
}

func (f *fakeLXD) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		f.clientCerts++
	}

	switch {
	case r.URL.Path == "/1.0":
		writeJSON(w, http.StatusOK, map[string]any{
			"type": "sync", "status_code": 200,
			"metadata": map[string]any{"auth": "trusted", "api_version": "1.0"},
		})
	case r.URL.Path == "/1.0/instances" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"type": "sync", "status_code": 200,
			"metadata": []map[string]any{{"name": "jumpbox", "status": "Running", "type": "container"}},
		})
	case r.URL.Path == "/1.0/instances" && r.Method == http.MethodPost:
		async(w)
	case r.URL.Path == "/1.0/instances/jumpbox/state":
		_ = json.NewDecoder(r.Body).Decode(&f.lastState)
		async(w)
	case r.URL.Path == "/1.0/instances/jumpbox/exec":
		async(w)
	case r.URL.Path == "/1.0/instances/jumpbox/logs/exec-output/stdout.log":
		_, _ = w.Write([]byte("hello\n"))
	case r.URL.Path == "/1.0/operations/op-1":
		f.opPolls++
		op := map[string]any{"id": "op-1", "status": "Running", "status_code": 103}
		if f.opPolls >= 2 {
			op["status"], op["status_code"] = "Success", 200
			op["metadata"] = map[string]any{
				"return": 0,
				"output": map[string]any{"1": "/1.0/instances/jumpbox/logs/exec-output/stdout.log"},
			}
			if f.failOp {
				op["status"], op["status_code"], op["err"] = "Failure", 400, "instance is busy"
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"type": "sync", "status_code": 200, "metadata": op})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"type": "error", "error": "not found", "error_code": 404})
	}
}

func newTestService(t *testing.T, fake *fakeLXD) (*Service, *providertest.Env, *httptest.Server) {
	t.Helper()
	srv := httptest.NewUnstartedServer(fake)
	srv.TLS = &tls.Config{ClientAuth: tls.RequireAnyClientCert}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	env := providertest.New(t)
	settings := providertest.Settings("")
	svc := New(Params{
		Log:          zap.NewNop(),
		Settings:     settings,
		Resolver:     env.Integrations,
		Integrations: env.Integrations,
		Secrets:      env.Secrets,
	})
	return svc, env, srv
}

func serverCertPEM(srv *httptest.Server) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}))
}

func setup(t *testing.T, svc *Service, srv *httptest.Server) *SetupResult {
	t.Helper()
	result, err := svc.SetupIntegration(context.Background(), 5, SetupRequest{
		ServerName:        "lxd-1",
		EndpointURL:       srv.URL,
		ServerCertificate: serverCertPEM(srv),
	})
	require.NoError(t, err)
	return result
}

func TestSetupIntegrationGeneratesCertificate(t *testing.T) {
	fake := &fakeLXD{}
	svc, env, srv := newTestService(t, fake)

	result := setup(t, svc, srv)
	assert.True(t, result.Generated)
	assert.True(t, result.Trusted)
	assert.Contains(t, result.ClientCertificate, "BEGIN CERTIFICATE")
	assert.Equal(t, 1, fake.clientCerts)

	row, err := env.Integrations.Get(context.Background(), 5, integrationdomain.ProviderLXD)
	require.NoError(t, err)
	assert.Equal(t, "lxd-1", row.ExternalID)
	assert.Equal(t, srv.URL, row.EndpointURL)
}

func TestInstanceOperationsAwaitCompletion(t *testing.T) {
	fake := &fakeLXD{}
	svc, _, srv := newTestService(t, fake)
	setup(t, svc, srv)
	ctx := context.Background()

	instances, err := svc.ListInstances(ctx, 5)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "jumpbox", instances[0].Name)

	op, err := svc.StopInstance(ctx, 5, "jumpbox", true)
	require.NoError(t, err)
	assert.Equal(t, "Success", op.Status)
	assert.Equal(t, "stop", fake.lastState.Action)
	assert.True(t, fake.lastState.Force)
	assert.Equal(t, 2, fake.opPolls)
}

func TestExecCollectsOutput(t *testing.T) {
	fake := &fakeLXD{}
	svc, _, srv := newTestService(t, fake)
	setup(t, svc, srv)

	result, err := svc.Exec(context.Background(), 5, "jumpbox", ExecRequest{Command: []string{"echo", "hello"}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ReturnCode)
	assert.Equal(t, "hello\n", result.Stdout)

	_, err = svc.Exec(context.Background(), 5, "jumpbox", ExecRequest{})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestFailedOperationIsReported(t *testing.T) {
	fake := &fakeLXD{failOp: true}
	svc, _, srv := newTestService(t, fake)
	setup(t, svc, srv)

	_, err := svc.StartInstance(context.Background(), 5, "jumpbox")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOperationFailed))
	assert.Contains(t, err.Error(), "instance is busy")
}

func TestSetupIntegrationRejectsPlainHTTP(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeLXD{})
	_, err := svc.SetupIntegration(context.Background(), 5, SetupRequest{EndpointURL: "http://lxd.internal:8443"})
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestGenerateClientCertificate(t *testing.T) {
	cred, err := GenerateClientCertificate("portal", time.Hour, time.Now())
	require.NoError(t, err)
	_, err = tls.X509KeyPair([]byte(cred.CertificatePEM), []byte(cred.PrivateKeyPEM))
	assert.NoError(t, err)
}
