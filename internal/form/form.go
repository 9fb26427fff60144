// Package form holds the state of the upload form: staged files, staged
// URLs and per-file upload progress.
package form

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/grimoire/internal/models"
)

// Uploader sends staged items to the ingestion endpoint.
// It is implemented by *client.Client.
type Uploader interface {
	UploadFile(ctx context.Context, path string, onProgress func(sent, total int64)) ([]models.Source, error)
	SubmitURL(ctx context.Context, url string) ([]models.Source, error)
}

// Selection is one file picked by the user.
type Selection struct {
	Path string
	Size int64
}

// FileItem is a staged file and its upload state.
type FileItem struct {
	ID       string
	Path     string
	Name     string
	Size     int64
	Progress int // 0-100
	Uploaded bool
	Err      error
}

// State is a point-in-time copy of the form.
type State struct {
	Files      []FileItem
	URLs       []string
	Submitting bool
}

// ItemResult is the outcome of one submitted item.
type ItemResult struct {
	// Name is the file name, or the URL for URL items.
	Name    string
	IsURL   bool
	Sources []models.Source
	Err     error
}

// Report summarises a submission.
type Report struct {
	Items    []ItemResult
	Duration time.Duration
}

// Succeeded returns the number of items the server acknowledged.
func (r Report) Succeeded() int {
	n := 0
	for _, it := range r.Items {
		if it.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the number of items that were not acknowledged.
func (r Report) Failed() int {
	return len(r.Items) - r.Succeeded()
}

// Form is safe for concurrent use.
type Form struct {
	mu         sync.Mutex
	files      []FileItem
	urls       []string
	submitting bool
	seq        int

	logger *slog.Logger
	now    func() time.Time
	// onChange is called after every state change, outside the lock.
	onChange func()
}

// Option configures a Form.
type Option func(*Form)

// WithLogger sets the logger used for per-item failures.
func WithLogger(l *slog.Logger) Option {
	return func(f *Form) { f.logger = l }
}

// WithOnChange registers a callback fired after any state change,
// including progress updates from upload goroutines.
func WithOnChange(fn func()) Option {
	return func(f *Form) { f.onChange = fn }
}

// WithClock overrides the time source used for item IDs.
func WithClock(now func() time.Time) Option {
	return func(f *Form) { f.now = now }
}

// New creates an empty form.
func New(opts ...Option) *Form {
	f := &Form{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Form) changed() {
	if f.onChange != nil {
		f.onChange()
	}
}

// AddFiles stages one item per selection. Duplicates are allowed.
func (f *Form) AddFiles(selection []Selection) {
	if len(selection) == 0 {
		return
	}
	f.mu.Lock()
	stamp := f.now().UnixMilli()
	for _, sel := range selection {
		name := fileName(sel.Path)
		f.seq++
		f.files = append(f.files, FileItem{
			ID:   fmt.Sprintf("%s-%d-%d", name, stamp, f.seq),
			Path: sel.Path,
			Name: name,
			Size: sel.Size,
		})
	}
	f.mu.Unlock()
	f.changed()
}

// RemoveFile unstages the item with the given id, if present.
func (f *Form) RemoveFile(id string) {
	f.mu.Lock()
	before := len(f.files)
	f.files = slices.DeleteFunc(f.files, func(it FileItem) bool { return it.ID == id })
	removed := len(f.files) != before
	f.mu.Unlock()
	if removed {
		f.changed()
	}
}

// AddURL stages text after trimming it. Blank input is ignored and
// reported as false.
func (f *Form) AddURL(text string) bool {
	u := strings.TrimSpace(text)
	if u == "" {
		return false
	}
	f.mu.Lock()
	f.urls = append(f.urls, u)
	f.mu.Unlock()
	f.changed()
	return true
}

// RemoveURL unstages every URL exactly equal to value.
func (f *Form) RemoveURL(value string) {
	f.mu.Lock()
	before := len(f.urls)
	f.urls = slices.DeleteFunc(f.urls, func(u string) bool { return u == value })
	removed := len(f.urls) != before
	f.mu.Unlock()
	if removed {
		f.changed()
	}
}

// CanSubmit reports whether something is staged and no submission is running.
func (f *Form) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canSubmitLocked()
}

func (f *Form) canSubmitLocked() bool {
	return !f.submitting && (len(f.files) > 0 || len(f.urls) > 0)
}

// Snapshot returns a copy of the current state.
func (f *Form) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return State{
		Files:      slices.Clone(f.files),
		URLs:       slices.Clone(f.urls),
		Submitting: f.submitting,
	}
}

// Submit uploads every staged file and URL concurrently, one request per
// item, and waits for all of them. A failed item is logged and recorded in
// the report; it does not stop the others. Afterwards both staged lists are
// cleared regardless of outcome. Submit is a no-op returning an empty report
// when nothing is staged or a submission is already running.
func (f *Form) Submit(ctx context.Context, up Uploader) Report {
	f.mu.Lock()
	if !f.canSubmitLocked() {
		f.mu.Unlock()
		return Report{}
	}
	f.submitting = true
	files := slices.Clone(f.files)
	urls := slices.Clone(f.urls)
	f.mu.Unlock()
	f.changed()

	start := time.Now()
	results := make([]ItemResult, len(files)+len(urls))

	// Each goroutine reports its own outcome; none returns an error so a
	// failure never cancels siblings.
	var g errgroup.Group
	for i, item := range files {
		g.Go(func() error {
			results[i] = f.uploadFile(ctx, up, item)
			return nil
		})
	}
	for i, u := range urls {
		g.Go(func() error {
			results[len(files)+i] = f.submitURL(ctx, up, u)
			return nil
		})
	}
	_ = g.Wait()

	f.mu.Lock()
	f.files = nil
	f.urls = nil
	f.submitting = false
	f.mu.Unlock()
	f.changed()

	report := Report{Items: results, Duration: time.Since(start)}
	f.logger.Info("submission finished",
		"items", len(results), "failed", report.Failed(), "duration_ms", report.Duration.Milliseconds())
	return report
}

func (f *Form) uploadFile(ctx context.Context, up Uploader, item FileItem) ItemResult {
	sources, err := up.UploadFile(ctx, item.Path, func(sent, total int64) {
		f.setProgress(item.ID, percent(sent, total))
	})
	if err != nil {
		f.logger.Error("upload failed for file", "file", item.Name, "error", err)
		f.update(item.ID, func(it *FileItem) { it.Err = err })
		return ItemResult{Name: item.Name, Err: err}
	}
	f.update(item.ID, func(it *FileItem) {
		it.Progress = 100
		it.Uploaded = true
	})
	return ItemResult{Name: item.Name, Sources: sources}
}

func (f *Form) submitURL(ctx context.Context, up Uploader, u string) ItemResult {
	sources, err := up.SubmitURL(ctx, u)
	if err != nil {
		f.logger.Error("upload failed for url", "url", u, "error", err)
	}
	return ItemResult{Name: u, IsURL: true, Sources: sources, Err: err}
}

// setProgress raises an item's progress; it never lowers it.
func (f *Form) setProgress(id string, pct int) {
	f.update(id, func(it *FileItem) {
		if pct > it.Progress {
			it.Progress = pct
		}
	})
}

func (f *Form) update(id string, fn func(*FileItem)) {
	f.mu.Lock()
	found := false
	for i := range f.files {
		if f.files[i].ID == id {
			fn(&f.files[i])
			found = true
			break
		}
	}
	f.mu.Unlock()
	if found {
		f.changed()
	}
}

// percent rounds sent/total to 0-100. An empty file counts as complete.
func percent(sent, total int64) int {
	if total <= 0 {
		return 100
	}
	p := int((sent*100 + total/2) / total)
	return min(max(p, 0), 100)
}

func fileName(path string) string {
	path = strings.TrimRight(path, `/\`)
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
