package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/inventory-tracker/internal/parsing"
)

var (
	// ErrQuotaExceeded marks items skipped because the owner's plan is full
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrInvalidItem marks items that cannot be stored as given
	ErrInvalidItem = errors.New("invalid item")
)

// Candidate is an item accepted by the operator and ready to store
type Candidate struct {
	Name        string        `json:"name"`
	Category    string        `json:"category,omitempty"`
	Quantity    int           `json:"quantity"`
	UnitPrice   parsing.Money `json:"unit_price"`
	Description string        `json:"description,omitempty"`
}

// Committed is a stored candidate
type Committed struct {
	Index int   `json:"index"`
	Item  *Item `json:"item"`
}

// Failure is a candidate that was not stored
type Failure struct {
	Index     int       `json:"index"`
	Candidate Candidate `json:"candidate"`
	Reason    string    `json:"reason"`
	Err       error     `json:"-"`
}

// CommitResult lists outcomes in input order
type CommitResult struct {
	Succeeded []Committed `json:"succeeded"`
	Failed    []Failure   `json:"failed"`
}

// Summary counts the outcomes of a commit
type Summary struct {
	Succeeded     int `json:"succeeded"`
	Failed        int `json:"failed"`
	QuotaExceeded int `json:"quota_exceeded"`
}

// Summary counts succeeded and failed items
func (r *CommitResult) Summary() Summary {
	s := Summary{Succeeded: len(r.Succeeded), Failed: len(r.Failed)}
	for _, f := range r.Failed {
		if errors.Is(f.Err, ErrQuotaExceeded) {
			s.QuotaExceeded++
		}
	}
	return s
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d added", s.Succeeded)
	if s.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", s.Failed)
	}
	if s.QuotaExceeded > 0 {
		fmt.Fprintf(&b, " (%d skipped: plan limit reached)", s.QuotaExceeded)
	}
	return b.String()
}

// CommitOption configures a Committer
type CommitOption func(*Committer)

// Sequential stores one item at a time. This is the default.
func Sequential() CommitOption {
	return func(c *Committer) {
		c.concurrency = 1
	}
}

// WithConcurrency stores up to n items at once
func WithConcurrency(n int) CommitOption {
	return func(c *Committer) {
		c.concurrency = max(n, 1)
	}
}

// Committer stores batches of candidates through a Store. Commits for the
// same owner run one at a time so each sees the allowance left by the last.
type Committer struct {
	store       Store
	quota       Quota
	concurrency int
	owners      ownerLocks
}

// NewCommitter creates a Committer. A nil quota means unlimited.
func NewCommitter(store Store, quota Quota, opts ...CommitOption) *Committer {
	c := &Committer{store: store, quota: quota, concurrency: 1, owners: ownerLocks{held: map[string]*ownerLock{}}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit stores each candidate independently for ownerKey. A failing item
// never stops the others. When the owner's remaining allowance is smaller
// than the batch, the excess is failed with ErrQuotaExceeded up front and
// never reaches the store. The returned error is set only when the quota
// cannot be read, in which case nothing is stored.
func (c *Committer) Commit(ctx context.Context, candidates []Candidate, ownerKey string) (*CommitResult, error) {
	unlock := c.owners.lock(ownerKey)
	defer unlock()

	attempt := len(candidates)
	if c.quota != nil && attempt > 0 {
		allowance, err := c.quota.RemainingAllowance(ctx, ownerKey, ResourceInventoryItems)
		if err != nil {
			return nil, fmt.Errorf("checking quota: %w", err)
		}
		if allowance >= 0 && allowance < attempt {
			slog.Info("Truncating commit to remaining allowance",
				"owner", ownerKey,
				"requested", len(candidates),
				"allowance", allowance,
			)
			attempt = allowance
		}
	}

	// One slot per candidate; each goroutine writes only its own index
	stored := make([]*Item, len(candidates))
	errs := make([]error, len(candidates))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i := range attempt {
		g.Go(func() error {
			stored[i], errs[i] = c.commitOne(ctx, candidates[i], ownerKey)
			if errs[i] != nil {
				slog.Warn("Failed to store item", "owner", ownerKey, "index", i, "name", candidates[i].Name, "error", errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	for i := attempt; i < len(candidates); i++ {
		errs[i] = fmt.Errorf("%w: plan allows %d more items", ErrQuotaExceeded, attempt)
	}

	result := &CommitResult{
		Succeeded: make([]Committed, 0, attempt),
		Failed:    make([]Failure, 0),
	}
	for i, candidate := range candidates {
		if errs[i] != nil {
			result.Failed = append(result.Failed, Failure{
				Index:     i,
				Candidate: candidate,
				Reason:    errs[i].Error(),
				Err:       errs[i],
			})
			continue
		}
		result.Succeeded = append(result.Succeeded, Committed{Index: i, Item: stored[i]})
	}

	slog.Info("Committed items", "owner", ownerKey, "succeeded", len(result.Succeeded), "failed", len(result.Failed))
	return result, nil
}

func (c *Committer) commitOne(ctx context.Context, candidate Candidate, ownerKey string) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, err := candidate.toItem()
	if err != nil {
		return nil, err
	}
	stored, err := c.store.AddItem(ctx, item, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("adding item: %w", err)
	}
	return stored, nil
}

func (c Candidate) toItem() (*Item, error) {
	name := strings.Join(strings.Fields(c.Name), " ")
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidItem)
	case c.Quantity < 0:
		return nil, fmt.Errorf("%w: negative quantity %d", ErrInvalidItem, c.Quantity)
	case c.UnitPrice < 0:
		return nil, fmt.Errorf("%w: negative unit price %s", ErrInvalidItem, c.UnitPrice)
	}
	return &Item{
		Name:        name,
		Category:    strings.TrimSpace(c.Category),
		Quantity:    c.Quantity,
		UnitPrice:   c.UnitPrice,
		Description: strings.TrimSpace(c.Description),
	}, nil
}

// ownerLocks hands out one mutex per owner, dropped when nobody holds or
// waits for it
type ownerLocks struct {
	mu   sync.Mutex
	held map[string]*ownerLock
}

type ownerLock struct {
	sync.Mutex
	refs int
}

func (l *ownerLocks) lock(ownerKey string) func() {
	l.mu.Lock()
	ol, ok := l.held[ownerKey]
	if !ok {
		ol = &ownerLock{}
		l.held[ownerKey] = ol
	}
	ol.refs++
	l.mu.Unlock()

	ol.Lock()
	return func() {
		ol.Unlock()
		l.mu.Lock()
		ol.refs--
		if ol.refs == 0 {
			delete(l.held, ownerKey)
		}
		l.mu.Unlock()
	}
}
