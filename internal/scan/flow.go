// Package scan drives one receipt through capture, cropping, recognition,
// review and commit as an explicit state machine.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/inventory-tracker/internal/capture"
	"github.com/zombor/inventory-tracker/internal/inventory"
	"github.com/zombor/inventory-tracker/internal/parsing"
	"github.com/zombor/inventory-tracker/internal/recognition"
	"github.com/zombor/inventory-tracker/internal/review"
)

// Committer stores reviewed items
type Committer interface {
	Commit(ctx context.Context, items []inventory.Candidate, ownerKey string) (*inventory.CommitResult, error)
}

// Options tune recognition
type Options struct {
	// Language is passed to the OCR engine as a hint
	Language string
	// Enhance applies grayscale, contrast and sharpening before recognition
	Enhance bool
	// Retention is how long a done, failed or cancelled flow stays
	// available after its last change. Zero means DefaultRetention.
	Retention time.Duration
	// IdleTimeout drops unfinished flows nobody has touched for this long.
	// Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// Defaults for Options
const (
	DefaultRetention   = 15 * time.Minute
	DefaultIdleTimeout = 2 * time.Hour
)

// deps are shared by every flow of a Manager
type deps struct {
	factory   recognition.Factory
	parser    *parsing.Parser
	committer Committer
	storage   Storage
	opts      Options
	now       func() time.Time
}

// Snapshot is a point-in-time view of a flow
type Snapshot struct {
	ID       string                  `json:"id"`
	State    State                   `json:"state"`
	Progress int                     `json:"progress"`
	Width    int                     `json:"width,omitempty"`
	Height   int                     `json:"height,omitempty"`
	Region   *capture.CropRegion     `json:"region,omitempty"`
	Text     string                  `json:"text,omitempty"`
	Items    []review.Item           `json:"items,omitempty"`
	Total    parsing.Money           `json:"total"`
	Result   *inventory.CommitResult `json:"result,omitempty"`
	Archive  string                  `json:"archive,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// Flow is one scan attempt. Its methods are safe for concurrent use; an
// operation that is not valid in the current state fails with
// ErrInvalidTransition.
type Flow struct {
	id       string
	ownerKey string
	deps     *deps

	mu       sync.Mutex
	state    State
	updated  time.Time
	filename string
	image    *capture.RawImage
	width    int
	height   int
	region   capture.CropRegion
	cropped  *capture.RawImage
	text     string
	progress int
	draft    *review.Draft
	result   *inventory.CommitResult
	archive  string
	lastErr  error
	cancel   context.CancelFunc
}

func newFlow(id, ownerKey string, d *deps) *Flow {
	return &Flow{id: id, ownerKey: ownerKey, deps: d, state: StateIdle, updated: d.now()}
}

// ID returns the scan ID
func (f *Flow) ID() string {
	return f.id
}

// OwnerKey returns the owner the flow belongs to
func (f *Flow) OwnerKey() string {
	return f.ownerKey
}

// State returns the current state
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// transition must be called with mu held
func (f *Flow) transition(to State) error {
	if !f.state.CanTransition(to) {
		return transitionError(f.state, to)
	}
	slog.Debug("Scan state change", "scan", f.id, "from", f.state, "to", to)
	f.setState(to)
	return nil
}

// setState must be called with mu held. Terminal states drop the images,
// which are only needed while the flow can still recognize or archive.
func (f *Flow) setState(to State) {
	f.state = to
	f.updated = f.deps.now()
	if to.Terminal() {
		f.image = nil
		f.cropped = nil
	}
}

// expired reports whether the flow has outlived its retention at now
func (f *Flow) expired(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	limit := f.deps.opts.IdleTimeout
	if f.state.Terminal() {
		limit = f.deps.opts.Retention
	}
	return now.Sub(f.updated) >= limit
}

// Capture decodes the uploaded image. The whole image is the initial crop
// region. Capturing again from Cropping replaces the image.
func (f *Flow) Capture(data []byte, filename string) error {
	f.mu.Lock()
	if err := f.transition(StateCapturing); err != nil {
		f.mu.Unlock()
		return err
	}
	previous := f.image
	f.mu.Unlock()

	img, err := capture.Load(data)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.lastErr = err
		back := StateIdle
		if previous != nil {
			back = StateCropping
		}
		f.setState(back)
		return err
	}

	f.image = img
	f.width, f.height = img.Width(), img.Height()
	f.filename = filename
	f.region = capture.FullRegion(img)
	f.cropped = nil
	f.lastErr = nil
	slog.Info("Captured receipt image", "scan", f.id, "format", img.Format(), "width", img.Width(), "height", img.Height())
	return f.transition(StateCropping)
}

// Crop sets the region of interest from a rectangle drawn on the displayed
// image
func (f *Flow) Crop(displayed capture.Rect, displayedDims capture.Dimensions) (capture.CropRegion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateCropping {
		return capture.CropRegion{}, fmt.Errorf("%w: cannot crop while %s", ErrInvalidTransition, f.state)
	}

	region, err := capture.SetRegion(displayed, displayedDims, f.image.Dimensions())
	if err != nil {
		return capture.CropRegion{}, err
	}
	f.region = region
	f.updated = f.deps.now()
	return region, nil
}

// Recognize extracts the region, runs OCR on it with a freshly acquired
// engine and parses the text. The engine is released on every exit path.
// An empty parse returns ErrNoItemsFound and puts the flow back into
// Cropping; so do engine failures. Cancel aborts a running recognition.
func (f *Flow) Recognize(ctx context.Context) error {
	f.mu.Lock()
	if err := f.transition(StateRecognizing); err != nil {
		f.mu.Unlock()
		return err
	}
	img, region := f.image, f.region
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.progress = 0
	f.lastErr = nil
	f.mu.Unlock()
	defer cancel()

	text, cropped, err := f.recognize(ctx, img, region)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancel = nil

	if f.state == StateCancelled {
		return fmt.Errorf("%w: scan cancelled", recognition.ErrCancelled)
	}

	if err != nil {
		f.lastErr = err
		switch {
		case errors.Is(err, recognition.ErrCancelled):
			f.setState(StateCancelled)
		case errors.Is(err, recognition.ErrEngineUnavailable), errors.Is(err, recognition.ErrRecognitionFailed):
			f.setState(StateCropping)
		default:
			f.setState(StateFailed)
		}
		slog.Warn("Recognition did not complete", "scan", f.id, "state", f.state, "error", err)
		return err
	}

	f.cropped = cropped
	f.text = text

	items, err := f.deps.parser.Parse(text)
	if err != nil {
		f.lastErr = err
		f.setState(StateCropping)
		slog.Info("No items found on receipt", "scan", f.id, "chars", len(text))
		return err
	}

	f.draft = review.NewDraft(items)
	f.progress = 100
	slog.Info("Parsed receipt", "scan", f.id, "items", len(items))
	return f.transition(StateParsed)
}

func (f *Flow) recognize(ctx context.Context, img *capture.RawImage, region capture.CropRegion) (string, *capture.RawImage, error) {
	cropped, err := capture.Extract(img, region)
	if err != nil {
		return "", nil, fmt.Errorf("extracting region: %w", err)
	}
	input := cropped
	if f.deps.opts.Enhance {
		input = capture.Enhance(cropped)
	}

	recognizer, release, err := recognition.Acquire(ctx, f.deps.factory, f.deps.opts.Language)
	if err != nil {
		return "", nil, err
	}
	defer release()

	start := time.Now()
	text, err := recognition.Wait(recognizer.Recognize(ctx, input), func(p int) {
		f.mu.Lock()
		f.progress = p
		f.mu.Unlock()
	})
	if err != nil {
		return "", nil, err
	}
	slog.Info("Recognized receipt text", "scan", f.id, "duration", time.Since(start), "chars", len(text))
	return text, cropped, nil
}

// EditItem changes one field of a staged item
func (f *Flow) EditItem(index int, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateParsed {
		return fmt.Errorf("%w: cannot edit items while %s", ErrInvalidTransition, f.state)
	}
	f.updated = f.deps.now()
	return f.draft.Edit(index, field, value)
}

// RemoveItem drops a staged item
func (f *Flow) RemoveItem(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateParsed {
		return fmt.Errorf("%w: cannot remove items while %s", ErrInvalidTransition, f.state)
	}
	f.updated = f.deps.now()
	return f.draft.Remove(index)
}

// Commit stores the staged items. Per-item failures are part of the result;
// the flow still ends in Done. An error from the committer itself fails the
// flow. On Done the cropped image is archived and both images are released.
func (f *Flow) Commit(ctx context.Context) (*inventory.CommitResult, error) {
	f.mu.Lock()
	if err := f.transition(StateCommitting); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	entries := f.draft.Items()
	f.mu.Unlock()

	candidates := make([]inventory.Candidate, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, inventory.Candidate{
			Name:        e.Name,
			Category:    e.Category,
			Quantity:    e.Quantity,
			UnitPrice:   e.UnitPrice,
			Description: e.Description,
		})
	}

	result, err := f.deps.committer.Commit(ctx, candidates, f.ownerKey)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.lastErr = err
		f.setState(StateFailed)
		return nil, fmt.Errorf("committing items: %w", err)
	}
	f.result = result
	f.archiveLocked()
	return result, f.transition(StateDone)
}

// archiveLocked saves the cropped image; failures are logged only
func (f *Flow) archiveLocked() {
	if f.deps.storage == nil || f.cropped == nil {
		return
	}
	data, err := f.cropped.PNG()
	if err != nil {
		slog.Warn("Failed to encode receipt for archive", "scan", f.id, "error", err)
		return
	}
	path, err := f.deps.storage.Save(archiveName(f.id, f.filename), data)
	if err != nil {
		slog.Warn("Failed to archive receipt", "scan", f.id, "error", err)
		return
	}
	f.archive = path
}

// ErrNoArchive is returned when the flow has not archived an image
var ErrNoArchive = errors.New("no archived image")

// ArchivedImage returns the PNG archived when the flow completed
func (f *Flow) ArchivedImage() ([]byte, error) {
	f.mu.Lock()
	path := f.archive
	f.mu.Unlock()
	if path == "" || f.deps.storage == nil {
		return nil, ErrNoArchive
	}
	data, err := f.deps.storage.Get(path)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	return data, nil
}

// Cancel abandons the scan. It is valid while recognizing, which aborts the
// engine, or while reviewing parsed items. Nothing is persisted.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transition(StateCancelled); err != nil {
		return err
	}
	if f.cancel != nil {
		f.cancel()
	}
	f.draft = nil
	slog.Info("Scan cancelled", "scan", f.id)
	return nil
}

// Snapshot returns the flow's current view
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Snapshot{
		ID:       f.id,
		State:    f.state,
		Progress: f.progress,
		Text:     f.text,
		Result:   f.result,
		Archive:  f.archive,
	}
	if f.width > 0 {
		s.Width, s.Height = f.width, f.height
		region := f.region
		s.Region = &region
	}
	if f.draft != nil && f.state != StateCancelled {
		s.Items = f.draft.Items()
		s.Total = f.draft.Total()
	}
	if f.lastErr != nil {
		s.Error = f.lastErr.Error()
	}
	return s
}
