package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/safar/souk/internal/models"
)

// Pager walks a user's order history one page at a time. Only one fetch
// runs at once; calls to Next made while one is running are dropped.
type Pager struct {
	client *Client
	userID int64
	limit  int

	loading atomic.Bool

	mu     sync.Mutex
	cursor string
	done   bool
	orders []models.Order
}

func (c *Client) OrderPager(userID int64, limit int) *Pager {
	return &Pager{client: c, userID: userID, limit: limit}
}

// Next loads the following page. loaded is false when the call was dropped
// because another fetch was in flight or when there is nothing left.
func (p *Pager) Next(ctx context.Context) (loaded bool, err error) {
	if !p.loading.CompareAndSwap(false, true) {
		return false, nil
	}
	defer p.loading.Store(false)

	p.mu.Lock()
	cursor, done := p.cursor, p.done
	p.mu.Unlock()
	if done {
		return false, nil
	}

	page, err := p.client.ListOrders(ctx, p.userID, cursor, p.limit)
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, page.Items...)
	p.cursor = page.NextCursor
	p.done = !page.HasMore || page.NextCursor == ""
	return true, nil
}

// Orders returns a copy of everything loaded so far.
func (p *Pager) Orders() []models.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Order(nil), p.orders...)
}

func (p *Pager) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Pager) Loading() bool { return p.loading.Load() }
