package event

import "sync"

// Token owns one subscription. Release removes it; calling Release more than
// once, or on a nil Token, does nothing.
type Token struct {
	once    sync.Once
	release func()
}

// Release unsubscribes the callback this token was issued for. Publishes that
// already took their snapshot may still deliver to it once.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}

// Tokens collects the subscriptions of a consumer that binds to several
// signals so they can be dropped together.
type Tokens []*Token

// Add appends tokens to the set.
func (ts *Tokens) Add(tokens ...*Token) {
	*ts = append(*ts, tokens...)
}

// ReleaseAll releases every token and empties the set.
func (ts *Tokens) ReleaseAll() {
	for _, t := range *ts {
		t.Release()
	}
	*ts = nil
}
