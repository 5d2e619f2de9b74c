// Package networkclient implementa toda solicitud saliente hacia la API de
// la red federada, siguiendo el flujo de 7 pasos de spec.md §4.3: carga de
// sesión, refresh proactivo, paso por RateGate, prueba DPoP, envío,
// captura de nonce y clasificación de la respuesta.
package networkclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dropDatabas3/postdispatch/internal/authcore"
	"github.com/dropDatabas3/postdispatch/internal/coreerr"
	"github.com/dropDatabas3/postdispatch/internal/dpop"
	"github.com/dropDatabas3/postdispatch/internal/rate"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

const refreshSkew = 30 * time.Second

// Response es el resultado exitoso de Do: cuerpo decodificado o crudo.
type Response struct {
	StatusCode int
	Body       []byte
}

// JSON decodifica el cuerpo en out.
func (r *Response) JSON(out any) error { return json.Unmarshal(r.Body, out) }

// Client implementa NetworkClient. spec.md §4.3.
type Client struct {
	store   *store.Store
	auth    *authcore.AuthCore
	gate    *rate.Gate
	nonces  *dpop.NonceStore
	http    *http.Client
	apiBase string
}

func New(st *store.Store, auth *authcore.AuthCore, gate *rate.Gate, nonces *dpop.NonceStore, apiBase string) *Client {
	return &Client{
		store:   st,
		auth:    auth,
		gate:    gate,
		nonces:  nonces,
		http:    &http.Client{Timeout: 30 * time.Second},
		apiBase: apiBase,
	}
}

// Do implementa el contrato Do(userId, method, endpoint, body) →
// (response, error) de spec.md §4.3.
func (c *Client) Do(ctx context.Context, userID, method, endpoint string, body any) (*Response, error) {
	sess, err := c.store.GetMostRecentActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	if time.Until(sess.AccessExpiry) < refreshSkew {
		refreshed, err := c.auth.Refresh(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		sess = refreshed
	}

	// Paso 3 de spec.md §4.3: "Pass through RateGate for the endpoint's
	// class." spec.md §5 lista "any RateGate wait" como punto de
	// suspensión de primera clase, de modo que el caller espera en lugar
	// de fallar de inmediato; WaitForAvailability honra la cancelación
	// del ctx con coreerr.Cancelled.
	if err := c.gate.WaitForAvailability(ctx, "api:"+userID, 1); err != nil {
		return nil, err
	}
	if _, err := c.gate.Record(ctx, "api:"+userID, 1); err != nil {
		return nil, fmt.Errorf("networkclient: rate gate record: %w", err)
	}

	resp, err := c.send(ctx, sess, method, endpoint, body, false)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, sess *store.SessionPlain, method, endpoint string, body any, isRetry bool) (*Response, error) {
	url := c.apiBase + endpoint

	kp, err := dpop.ParsePrivateJWK(sess.DPoPPrivateKey)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindCryptoFailure, "parse dpop private key", err)
	}

	nonce, _ := c.nonces.Get(sess.UserID, hostOf(url))
	proof, err := dpop.Mint(kp, method, url, nonce)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindCryptoFailure, "mint dpop proof", err)
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("networkclient: encode body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "DPoP "+sess.AccessToken)
	req.Header.Set("DPoP", proof.Value)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindTransient, "request failed", err)
	}
	defer resp.Body.Close()

	if newNonce := resp.Header.Get("DPoP-Nonce"); newNonce != "" {
		c.nonces.Store(sess.UserID, hostOf(url), newNonce)
	}

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil

	case resp.StatusCode == http.StatusUnauthorized && containsNonceChallenge(respBody):
		if isRetry {
			c.nonces.Clear(sess.UserID, hostOf(url))
			return nil, coreerr.New(coreerr.KindAuthNonce, "dpop nonce challenge failed twice")
		}
		return c.send(ctx, sess, method, endpoint, body, true)

	case resp.StatusCode == http.StatusUnauthorized && containsExpiredToken(respBody):
		if isRetry {
			if err := c.store.RevokeSession(ctx, sess.ID, "invalid_token_after_refresh"); err != nil {
				return nil, fmt.Errorf("networkclient: revoke session: %w", err)
			}
			return nil, coreerr.AuthExpired
		}
		refreshed, err := c.auth.Refresh(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		return c.send(ctx, refreshed, method, endpoint, body, true)

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 60 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, coreerr.Wrap(coreerr.KindRateLimited, fmt.Sprintf("retry after %s", retryAfter), nil)

	case resp.StatusCode >= 500:
		return nil, coreerr.Wrap(coreerr.KindTransient, fmt.Sprintf("upstream %d", resp.StatusCode), nil)

	default:
		return nil, coreerr.Wrap(coreerr.KindPermanent, fmt.Sprintf("upstream %d: %s", resp.StatusCode, respBody), nil)
	}
}

func containsNonceChallenge(body []byte) bool {
	return bytes.Contains(body, []byte("use_dpop_nonce"))
}

func containsExpiredToken(body []byte) bool {
	return bytes.Contains(body, []byte("invalid_token")) || bytes.Contains(body, []byte("expired_access_token"))
}

func hostOf(rawURL string) string {
	rawURL = trimPrefix(rawURL, "https://")
	rawURL = trimPrefix(rawURL, "http://")
	for i := 0; i < len(rawURL); i++ {
		if rawURL[i] == '/' {
			return rawURL[:i]
		}
	}
	return rawURL
}

func trimPrefix(s, prefix string) string {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}
