package client

import (
	"context"
	"sync"

	"github.com/safar/souk/internal/models"
)

// Toggle is a like button. Flip shows the new state at once, then commits
// it; if the commit fails the local change is undone.
type Toggle struct {
	commit func(ctx context.Context, on bool) (models.LikeResponse, error)

	mu       sync.Mutex
	on       bool
	count    int
	gen      uint64
	inFlight int

	// last state the server acknowledged
	confirmedOn    bool
	confirmedCount int
}

func NewToggle(on bool, count int, commit func(ctx context.Context, on bool) (models.LikeResponse, error)) *Toggle {
	return &Toggle{
		commit:         commit,
		on:             on,
		count:          count,
		confirmedOn:    on,
		confirmedCount: count,
	}
}

// LikeToggle binds a Toggle to a product's like endpoint.
func (c *Client) LikeToggle(productID, userID int64, liked bool, likes int) *Toggle {
	return NewToggle(liked, likes, func(ctx context.Context, on bool) (models.LikeResponse, error) {
		return c.SetLike(ctx, productID, userID, on)
	})
}

func (t *Toggle) State() (on bool, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.on, t.count
}

// Flip inverts the state locally and commits it. When flips overlap, the
// newest one owns the displayed state; once none is in flight the display
// falls back to what the server last acknowledged. A failed flip returns
// the commit error.
func (t *Toggle) Flip(ctx context.Context) error {
	t.mu.Lock()
	t.on = !t.on
	if t.on {
		t.count++
	} else {
		t.count--
	}
	t.gen++
	t.inFlight++
	target, gen := t.on, t.gen
	t.mu.Unlock()

	resp, err := t.commit(ctx, target)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight--
	if err == nil {
		t.confirmedOn, t.confirmedCount = resp.Liked, resp.Likes
	}

	switch {
	case t.inFlight == 0:
		t.on, t.count = t.confirmedOn, t.confirmedCount
	case err == nil && t.gen == gen:
		t.on, t.count = resp.Liked, resp.Likes
	}
	return err
}
