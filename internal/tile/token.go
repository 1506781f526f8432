package tile

// Token tracks the readiness of one tile slot. It is resolved exactly once,
// by the executor, when the kernel invocation producing the slot's value has
// finished (or failed). Consumers wait on every input token before reading
// the tiles behind them; a grid slot's token is superseded whenever a new
// invocation takes the slot over, and the old token must not be consumed
// afterwards.
type Token struct {
	done chan struct{}
	err  error
}

// NewToken returns an unresolved token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Ready returns a token that is already resolved without error. Freshly
// initialised grid slots carry ready tokens.
func Ready() *Token {
	t := NewToken()
	close(t.done)
	return t
}

// Resolve marks the token done, recording the producing kernel's error, if
// any. Resolving a token twice panics; the executor is the only resolver.
func (t *Token) Resolve(err error) {
	t.err = err
	close(t.done)
}

// Wait blocks until the token is resolved and returns the producer's error.
// A nil token is treated as ready.
func (t *Token) Wait() error {
	if t == nil {
		return nil
	}
	<-t.done
	return t.err
}

// Resolved reports whether the token is done, without blocking.
func (t *Token) Resolved() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// WaitAll waits on every token in order and returns the first error seen.
func WaitAll(tokens ...*Token) error {
	var first error
	for _, t := range tokens {
		if err := t.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
