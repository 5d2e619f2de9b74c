// Package authcore implementa el flujo OAuth 2.0 + PKCE + DPoP contra la red
// federada (spec.md §4.2): AuthCore es el cliente OAuth, nunca un servidor
// de autorización — a diferencia del internal/oauth del profesor, que emite
// tokens para terceros. La forma de coordinar el refresh (single-flight por
// clave) sigue siendo la misma idea de "una operación en vuelo por recurso"
// que internal/jwt/keystore.go usa para la rotación de claves, adaptada a
// golang.org/x/sync/singleflight en vez de un mutex manual.
package authcore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/postdispatch/internal/config"
	"github.com/dropDatabas3/postdispatch/internal/coreerr"
	"github.com/dropDatabas3/postdispatch/internal/dpop"
	"github.com/dropDatabas3/postdispatch/internal/metrics"
	"github.com/dropDatabas3/postdispatch/internal/oauthstate"
	"github.com/dropDatabas3/postdispatch/internal/observability/logger"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

const nonceHeader = "DPoP-Nonce"

// AuthCore agrupa las dependencias del flujo de autorización y refresh.
type AuthCore struct {
	cfg    *config.Config
	store  *store.Store
	state  *oauthstate.Store
	nonces *dpop.NonceStore
	client *http.Client
	sf     singleflight.Group
}

func New(cfg *config.Config, st *store.Store, state *oauthstate.Store, nonces *dpop.NonceStore) *AuthCore {
	return &AuthCore{
		cfg:    cfg,
		store:  st,
		state:  state,
		nonces: nonces,
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

// Identity es el resultado del paso 4 (identity fetch) del flujo.
type Identity struct {
	DID    string
	Handle string
}

// StartAuthorization implementa spec.md §4.2.4 paso 1: genera PKCE
// verifier/challenge y state, construye la URL de autorización. El state y
// el verifier se devuelven además de quedar guardados server-side, para que
// el caller HTTP (§6) pueda reflejarlos en las cookies oauth_state y
// code_verifier.
func (a *AuthCore) StartAuthorization(ctx context.Context) (authURL, state, verifier string, err error) {
	verifier = oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	state = randomState()

	a.state.Put(state, oauthstate.Entry{
		Verifier:    verifier,
		RedirectURI: a.cfg.Auth.RedirectURL,
	})

	q := []string{
		"client_id=" + urlEscape(a.cfg.Auth.ClientID),
		"redirect_uri=" + urlEscape(a.cfg.Auth.RedirectURL),
		"response_type=code",
		"scope=" + urlEscape(strings.Join(a.cfg.Auth.Scopes, " ")),
		"state=" + urlEscape(state),
		"code_challenge=" + urlEscape(challenge),
		"code_challenge_method=S256",
	}
	sep := "?"
	if strings.Contains(a.cfg.Auth.AuthorizationEndpoint, "?") {
		sep = "&"
	}
	return a.cfg.Auth.AuthorizationEndpoint + sep + strings.Join(q, "&"), state, verifier, nil
}

// CompleteAuthorization implementa los pasos 2-5: valida el state, ejecuta
// el intercambio de código por tokens con DPoP, obtiene la identidad, y
// persiste el User+AuthSession.
func (a *AuthCore) CompleteAuthorization(ctx context.Context, code, state, userAgent, sourceAddr string) (*store.User, string, error) {
	entry, ok := a.state.TakeAndDelete(state)
	if !ok {
		return nil, "", coreerr.New(coreerr.KindAuthRejected, "unknown or expired oauth state")
	}

	kp, err := dpop.GenerateKeyPair()
	if err != nil {
		return nil, "", coreerr.Wrap(coreerr.KindCryptoFailure, "generate dpop key", err)
	}

	tokResp, err := a.exchangeCode(ctx, code, entry.Verifier, entry.RedirectURI, kp, "")
	if err != nil {
		return nil, "", err
	}

	identity, err := a.fetchIdentity(ctx, tokResp.AccessToken, kp, "")
	if err != nil {
		return nil, "", err
	}

	u := &store.User{DID: identity.DID, Handle: identity.Handle, DisplayName: identity.Handle}
	if err := a.store.CreateUser(ctx, u); err != nil {
		return nil, "", fmt.Errorf("authcore: persist user: %w", err)
	}

	privJWK, err := dpop.MarshalPrivateJWK(kp)
	if err != nil {
		return nil, "", coreerr.Wrap(coreerr.KindCryptoFailure, "marshal dpop private key", err)
	}
	pubJWK, err := dpop.PublicJWK(kp.Public)
	if err != nil {
		return nil, "", coreerr.Wrap(coreerr.KindCryptoFailure, "marshal dpop public key", err)
	}

	now := time.Now().UTC()
	sessionID, err := a.store.PutSession(ctx, u.ID, tokResp.AccessToken, tokResp.RefreshToken,
		privJWK, pubJWK, kp.KeyID,
		now.Add(time.Duration(tokResp.ExpiresIn)*time.Second), now.Add(90*24*time.Hour),
		userAgent, sourceAddr)
	if err != nil {
		return nil, "", fmt.Errorf("authcore: persist session: %w", err)
	}

	return u, sessionID, nil
}

// Refresh implementa spec.md §4.2.5: single-flight por sessionId, con
// reclasificación de fallos (invalid_grant es permanente, 5xx/red es
// transitorio con retry acotado fuera de este método).
func (a *AuthCore) Refresh(ctx context.Context, sessionID string) (*store.SessionPlain, error) {
	v, err, _ := a.sf.Do(sessionID, func() (any, error) {
		return a.doRefresh(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.SessionPlain), nil
}

func (a *AuthCore) doRefresh(ctx context.Context, sessionID string) (*store.SessionPlain, error) {
	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		metrics.AuthRefreshTotal.WithLabelValues("load_session_failed").Inc()
		return nil, err
	}

	kp, err := dpop.ParsePrivateJWK(sess.DPoPPrivateKey)
	if err != nil {
		metrics.AuthRefreshTotal.WithLabelValues("crypto_failure").Inc()
		return nil, coreerr.Wrap(coreerr.KindCryptoFailure, "parse dpop private key", err)
	}

	host := hostOf(a.cfg.Auth.TokenEndpoint)
	nonce, _ := a.nonces.Get(sess.UserID, host)

	tokResp, err := a.doTokenRequest(ctx, sess.UserID, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": sess.RefreshToken,
		"client_id":     a.cfg.Auth.ClientID,
	}, kp, nonce)
	if err != nil {
		if isInvalidGrant(err) {
			_ = a.store.RevokeSession(ctx, sessionID, "refresh_rejected")
			logger.From(ctx).Warn("refresh rejected, session revoked", logger.SessionID(sessionID))
			metrics.AuthRefreshTotal.WithLabelValues("rejected").Inc()
			return nil, coreerr.Wrap(coreerr.KindAuthRejected, "refresh rejected by token endpoint", nil)
		}
		metrics.AuthRefreshTotal.WithLabelValues("transport_error").Inc()
		return nil, err
	}

	accessExpiry := time.Now().UTC().Add(time.Duration(tokResp.ExpiresIn) * time.Second)
	refreshExpiry := time.Now().UTC().Add(90 * 24 * time.Hour)

	if err := a.store.RotateSession(ctx, sessionID, tokResp.AccessToken, tokResp.RefreshToken,
		accessExpiry, refreshExpiry, "", "", ""); err != nil {
		metrics.AuthRefreshTotal.WithLabelValues("persist_failed").Inc()
		return nil, err
	}

	metrics.AuthRefreshTotal.WithLabelValues("success").Inc()
	return a.store.GetSession(ctx, sessionID)
}

// tokenResponse es la forma mínima de la respuesta del token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (a *AuthCore) exchangeCode(ctx context.Context, code, verifier, redirectURI string, kp *dpop.KeyPair, nonce string) (*tokenResponse, error) {
	return a.doTokenRequest(ctx, "", map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"redirect_uri":  redirectURI,
		"code_verifier": verifier,
		"client_id":     a.cfg.Auth.ClientID,
	}, kp, nonce)
}

// doTokenRequest envía la solicitud al token endpoint con una prueba DPoP;
// en un desafío de nonce, reintenta una sola vez (spec.md §4.2.3/§4.2.4.3).
func (a *AuthCore) doTokenRequest(ctx context.Context, userID string, form map[string]string, kp *dpop.KeyPair, nonce string) (*tokenResponse, error) {
	resp, retryNonce, err := a.postForm(ctx, userID, a.cfg.Auth.TokenEndpoint, form, kp, nonce)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if strings.Contains(string(body), "use_dpop_nonce") && retryNonce != "" {
			resp, _, err = a.postForm(ctx, userID, a.cfg.Auth.TokenEndpoint, form, kp, retryNonce)
			if err != nil {
				return nil, err
			}
		} else {
			if strings.Contains(string(body), "invalid_grant") {
				return nil, coreerr.Wrap(coreerr.KindAuthRejected, "invalid_grant", fmt.Errorf("%s", body))
			}
			return nil, coreerr.Wrap(coreerr.KindAuthRejected, "token endpoint rejected request", fmt.Errorf("%s", body))
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, coreerr.Transient
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, coreerr.Wrap(coreerr.KindPermanent, "token endpoint error", fmt.Errorf("%s", body))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("authcore: decode token response: %w", err)
	}
	return &tr, nil
}

func (a *AuthCore) postForm(ctx context.Context, userID string, endpoint string, form map[string]string, kp *dpop.KeyPair, nonce string) (*http.Response, string, error) {
	proof, err := dpop.Mint(kp, http.MethodPost, endpoint, nonce)
	if err != nil {
		return nil, "", coreerr.Wrap(coreerr.KindCryptoFailure, "mint dpop proof", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encodeForm(form)))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("DPoP", proof.Value)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", coreerr.Wrap(coreerr.KindTransient, "token endpoint request failed", err)
	}

	newNonce := resp.Header.Get(nonceHeader)
	if newNonce != "" {
		a.nonces.Store(userID, hostOf(endpoint), newNonce)
	}
	return resp, newNonce, nil
}

// fetchIdentity implementa spec.md §4.2.4 paso 4.
func (a *AuthCore) fetchIdentity(ctx context.Context, accessToken string, kp *dpop.KeyPair, nonce string) (*Identity, error) {
	endpoint := a.cfg.Auth.APIBaseURL + a.cfg.Auth.IdentityEndpoint

	proof, err := dpop.Mint(kp, http.MethodGet, endpoint, nonce)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindCryptoFailure, "mint dpop proof", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "DPoP "+accessToken)
	req.Header.Set("DPoP", proof.Value)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindTransient, "identity endpoint request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, coreerr.New(coreerr.KindPermanent, fmt.Sprintf("identity endpoint returned %d", resp.StatusCode))
	}

	var out struct {
		DID    string `json:"did"`
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("authcore: decode identity response: %w", err)
	}
	return &Identity{DID: out.DID, Handle: out.Handle}, nil
}

func isInvalidGrant(err error) bool {
	return strings.Contains(err.Error(), "invalid_grant")
}

func hostOf(rawURL string) string {
	rawURL = strings.TrimPrefix(rawURL, "https://")
	rawURL = strings.TrimPrefix(rawURL, "http://")
	if i := strings.IndexByte(rawURL, '/'); i >= 0 {
		rawURL = rawURL[:i]
	}
	return rawURL
}
