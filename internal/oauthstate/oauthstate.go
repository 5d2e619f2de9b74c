// Package oauthstate mantiene el mapa state→{verifier, redirectUri,
// expiresAt} del paso 1 del flujo de autorización (spec.md §4.2.4): un mapa
// en memoria acotado con TTL de 10 minutos y barrido periódico, grounded en
// el mismo patrón go-cache que internal/cache/memory/memory.go del profesor.
package oauthstate

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const defaultTTL = 10 * time.Minute

// Entry es el valor guardado por state.
type Entry struct {
	Verifier    string
	RedirectURI string
}

// Store es el mapa state→Entry, de un solo uso.
type Store struct {
	c *gocache.Cache
}

func New() *Store {
	return &Store{c: gocache.New(defaultTTL, time.Minute)}
}

// Put registra un nuevo state pendiente.
func (s *Store) Put(state string, e Entry) {
	s.c.Set(state, e, defaultTTL)
}

// TakeAndDelete verifica que el state exista y no haya vencido, y lo borra
// de inmediato (single-use), según spec.md §4.2.4 paso 2.
func (s *Store) TakeAndDelete(state string) (Entry, bool) {
	v, ok := s.c.Get(state)
	if !ok {
		return Entry{}, false
	}
	s.c.Delete(state)
	e, ok := v.(Entry)
	return e, ok
}
