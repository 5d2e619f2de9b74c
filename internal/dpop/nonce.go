package dpop

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NonceStore es el PendingNonce de spec.md §3: mapa en memoria, por proceso,
// del último nonce emitido por el servidor para (User, host). Efímero; se
// pierde al reiniciar el proceso, igual que internal/cache/memory/memory.go
// del profesor envuelve go-cache para estado efímero.
type NonceStore struct {
	c *gocache.Cache
}

// NewNonceStore crea el almacén; sin expiración por defecto porque el nonce
// se reemplaza en cada respuesta, no vence por sí mismo.
func NewNonceStore() *NonceStore {
	return &NonceStore{c: gocache.New(gocache.NoExpiration, 10*time.Minute)}
}

func key(userID, host string) string { return userID + "|" + host }

// Store reemplaza el nonce conocido para (userID, host).
func (n *NonceStore) Store(userID, host, nonce string) {
	if nonce == "" {
		return
	}
	n.c.Set(key(userID, host), nonce, gocache.NoExpiration)
}

// Get devuelve el último nonce conocido, si existe.
func (n *NonceStore) Get(userID, host string) (string, bool) {
	v, ok := n.c.Get(key(userID, host))
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// Clear descarta el nonce conocido, usado tras un segundo fallo consecutivo
// (spec.md §4.2.3: "a second consecutive nonce failure is surfaced as a hard
// auth error" — se limpia para no reintentar con un valor ya rechazado).
func (n *NonceStore) Clear(userID, host string) {
	n.c.Delete(key(userID, host))
}
