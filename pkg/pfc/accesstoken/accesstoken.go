/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package accesstoken hands out small opaque handles that let a File
// reference itself across the ResourceMonitor queue boundary without
// carrying a pointer or a full LFN string through every record.
package accesstoken

import (
	"sync"

	"github.com/rs/xid"
)

// Token correlates queue records with the File and DirState node they
// originated from. It is cleared once the close record referencing it has
// been processed.
type Token struct {
	ID  string
	LFN string
	Dir string
}

// Registry is the process-wide table of outstanding tokens. A File obtains
// one on open and releases it once its close record has drained from the
// ResourceMonitor's queues.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewRegistry constructs an empty token registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]*Token)}
}

// Issue allocates a new Token for lfn, resolved against dir (the DirState
// path it will charge usage against).
func (r *Registry) Issue(lfn, dir string) *Token {
	tok := &Token{ID: xid.New().String(), LFN: lfn, Dir: dir}
	r.mu.Lock()
	r.tokens[tok.ID] = tok
	r.mu.Unlock()
	return tok
}

// Release clears a token once its close record has been processed.
func (r *Registry) Release(tok *Token) {
	if tok == nil {
		return
	}
	r.mu.Lock()
	delete(r.tokens, tok.ID)
	r.mu.Unlock()
}

// Lookup resolves an ID back to its Token, for replaying a queue record
// whose payload only carries the ID.
func (r *Registry) Lookup(id string) (*Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[id]
	return tok, ok
}

// Outstanding returns every token still registered.
func (r *Registry) Outstanding() []*Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Token, 0, len(r.tokens))
	for _, tok := range r.tokens {
		out = append(out, tok)
	}
	return out
}
