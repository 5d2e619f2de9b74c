package e2e

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/postdispatch/internal/authcore"
	"github.com/dropDatabas3/postdispatch/internal/config"
	"github.com/dropDatabas3/postdispatch/internal/dpop"
	"github.com/dropDatabas3/postdispatch/internal/networkclient"
	"github.com/dropDatabas3/postdispatch/internal/oauthstate"
	"github.com/dropDatabas3/postdispatch/internal/postservice"
	"github.com/dropDatabas3/postdispatch/internal/rate"
)

// testConfig apunta el token endpoint y el API base al httptest.Server de
// cada escenario; el resto de Auth (authorize/identity) no se ejercita por
// estos tests ya que las sesiones se siembran directamente en el store.
func testConfig(apiBase string) *config.Config {
	var cfg config.Config
	cfg.Auth.APIBaseURL = apiBase
	cfg.Auth.TokenEndpoint = apiBase + "/oauth/token"
	cfg.Auth.IdentityEndpoint = "/xrpc/com.atproto.server.getSession"
	cfg.Auth.ClientID = "e2e-suite-client"
	return &cfg
}

// newPostService arma el mismo grafo de dependencias que cmd/dispatcherd
// (authcore + rate.Gate + networkclient + postservice), apuntado al
// httptest.Server del escenario en vez de a la red federada real.
func (h *harness) newPostService(t *testing.T, apiBase string) *postservice.Service {
	t.Helper()
	cfg := testConfig(apiBase)

	state := oauthstate.New()
	nonces := dpop.NewNonceStore()
	auth := authcore.New(cfg, h.store, state, nonces)

	limiter, err := rate.NewMulti(rate.Config{Backend: "memory"})
	require.NoError(t, err)
	gate := rate.NewGate(limiter)
	gate.Register("api", 1000, time.Minute)
	gate.Register("oauth", 1000, time.Minute)

	nc := networkclient.New(h.store, auth, gate, nonces, apiBase)
	return postservice.New(h.store, nc)
}
