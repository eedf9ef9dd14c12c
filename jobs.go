package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
	"github.com/tonimelisma/gdrive-go/internal/session"
)

type jobKind string

const (
	jobDownload jobKind = "get"
	jobUpload   jobKind = "put"
)

// progressInterval throttles progress events per job. The final chunk is
// always reported.
const progressInterval = 250 * time.Millisecond

const eventBuffer = 64

var (
	errNoSuchJob           = errors.New("no such job")
	errUploadNotCancelable = errors.New("uploads cannot be canceled")
)

// transferEvent is posted by a transfer goroutine to the render loop.
type transferEvent struct {
	JobID    int
	Kind     jobKind
	Name     string
	Progress session.Progress
	Done     bool
	Err      error
	Result   string // saved path for downloads, new item ID for uploads
}

type job struct {
	id      int
	kind    jobKind
	name    string
	started time.Time
	cancel  context.CancelFunc // nil for uploads

	progress session.Progress
	lastEmit time.Time
}

// jobSnapshot is a point-in-time copy of a running job for display.
type jobSnapshot struct {
	ID       int
	Kind     jobKind
	Name     string
	Started  time.Time
	Progress session.Progress
}

// jobManager runs each transfer on its own goroutine and reports through
// events. There is no pool and no admission limit.
type jobManager struct {
	sess   driveSession
	ctx    context.Context
	logger *slog.Logger
	now    func() time.Time

	events chan transferEvent
	group  errgroup.Group

	mu     sync.Mutex
	nextID int
	jobs   map[int]*job
}

func newJobManager(ctx context.Context, sess driveSession, logger *slog.Logger) *jobManager {
	return &jobManager{
		sess:   sess,
		ctx:    ctx,
		logger: logger,
		now:    time.Now,
		events: make(chan transferEvent, eventBuffer),
		jobs:   make(map[int]*job),
	}
}

// startDownload begins downloading item to dest and returns the job ID.
func (m *jobManager) startDownload(item gdrive.Item, dest string) int {
	ctx, cancel := context.WithCancel(m.ctx)
	j := m.add(jobDownload, item.Name, cancel)

	m.group.Go(func() error {
		defer cancel()

		n, err := m.sess.Download(ctx, item.ID, dest, func(p session.Progress) {
			m.report(j, p)
		})

		m.finish(j, transferEvent{
			Progress: session.Progress{Downloaded: n, Total: item.Size},
			Err:      err,
			Result:   dest,
		})

		return nil
	})

	return j.id
}

// startUpload begins uploading localPath into folderID. Uploads ignore
// interrupts and run to completion or error.
func (m *jobManager) startUpload(localPath, folderID string) int {
	ctx := context.WithoutCancel(m.ctx)
	j := m.add(jobUpload, filepath.Base(localPath), nil)

	m.group.Go(func() error {
		item, err := m.sess.Upload(ctx, localPath, folderID)

		ev := transferEvent{Err: err}
		if err == nil {
			ev.Result = item.ID
			ev.Progress = session.Progress{Downloaded: item.Size, Total: item.Size}
		}

		m.finish(j, ev)

		return nil
	})

	return j.id
}

func (m *jobManager) add(kind jobKind, name string, cancel context.CancelFunc) *job {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++

	j := &job{
		id:      m.nextID,
		kind:    kind,
		name:    name,
		started: m.now(),
		cancel:  cancel,
	}

	m.jobs[j.id] = j

	m.logger.Debug("transfer started",
		slog.Int("job", j.id),
		slog.String("kind", string(kind)),
		slog.String("name", name),
	)

	return j
}

// report records progress and posts an event unless one went out within
// progressInterval.
func (m *jobManager) report(j *job, p session.Progress) {
	m.mu.Lock()

	j.progress = p
	now := m.now()

	final := p.Total > 0 && p.Downloaded >= p.Total
	if !final && !j.lastEmit.IsZero() && now.Sub(j.lastEmit) < progressInterval {
		m.mu.Unlock()
		return
	}

	j.lastEmit = now
	m.mu.Unlock()

	m.events <- transferEvent{JobID: j.id, Kind: j.kind, Name: j.name, Progress: p}
}

func (m *jobManager) finish(j *job, ev transferEvent) {
	m.mu.Lock()
	delete(m.jobs, j.id)
	m.mu.Unlock()

	if ev.Err != nil {
		m.logger.Debug("transfer failed",
			slog.Int("job", j.id),
			slog.String("error", ev.Err.Error()),
		)
	}

	ev.JobID = j.id
	ev.Kind = j.kind
	ev.Name = j.name
	ev.Done = true

	m.events <- ev
}

// cancel stops one download. Uploads refuse.
func (m *jobManager) cancel(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %d", errNoSuchJob, id)
	}

	if j.cancel == nil {
		return fmt.Errorf("job %d: %w", id, errUploadNotCancelable)
	}

	j.cancel()

	return nil
}

// cancelAll stops every running download and returns how many it stopped.
func (m *jobManager) cancelAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0

	for _, j := range m.jobs {
		if j.cancel != nil {
			j.cancel()
			n++
		}
	}

	return n
}

// list returns the running jobs ordered by ID.
func (m *jobManager) list() []jobSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]jobSnapshot, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, jobSnapshot{
			ID:       j.id,
			Kind:     j.kind,
			Name:     j.name,
			Started:  j.started,
			Progress: j.progress,
		})
	}

	slices.SortFunc(out, func(a, b jobSnapshot) int { return a.ID - b.ID })

	return out
}

// active returns the number of running jobs.
func (m *jobManager) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.jobs)
}

// wait blocks until every started transfer has finished.
func (m *jobManager) wait() {
	_ = m.group.Wait() // goroutines report through events and always return nil
}

// close waits for all transfers and closes the event channel, which ends
// the render loop.
func (m *jobManager) close() {
	m.wait()
	close(m.events)
}

// renderEvents prints transfer events until the channel closes. Progress
// lines are suppressed in quiet mode; completions always print.
func renderEvents(events <-chan transferEvent, w io.Writer, quiet bool) {
	for ev := range events {
		if quiet && !ev.Done {
			continue
		}

		fmt.Fprintln(w, formatEvent(ev))
	}
}

func formatEvent(ev transferEvent) string {
	prefix := fmt.Sprintf("[%d] %s %s:", ev.JobID, ev.Kind, ev.Name)

	if !ev.Done {
		return prefix + " " + formatProgress(ev.Progress)
	}

	switch {
	case errors.Is(ev.Err, context.Canceled):
		return prefix + " canceled"
	case ev.Err != nil:
		return prefix + " failed: " + ev.Err.Error()
	case ev.Kind == jobDownload:
		return fmt.Sprintf("%s saved to %s (%s)", prefix, ev.Result, formatSize(ev.Progress.Downloaded))
	default:
		return fmt.Sprintf("%s uploaded (%s, id %s)", prefix, formatSize(ev.Progress.Downloaded), ev.Result)
	}
}

func formatProgress(p session.Progress) string {
	pct, ok := p.Percent()
	if !ok {
		return formatSize(p.Downloaded)
	}

	return fmt.Sprintf("%.0f%% (%s / %s)", pct, formatSize(p.Downloaded), formatSize(p.Total))
}
