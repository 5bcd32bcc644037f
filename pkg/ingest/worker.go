// Package ingest turns uploaded PDFs into indexed chunks in the background.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/types"
)

var ErrStopped = errors.New("ingestion worker stopped")

type Stage string

const (
	StageExtract Stage = "extract"
	StageChunk   Stage = "chunk"
	StageEmbed   Stage = "embed"
	StageIndex   Stage = "index"
)

// Extractor reads the page texts of a PDF.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]models.Page, error)
}

type Chunker interface {
	ChunkPages(pages []models.Page) []models.Chunk
}

// StatusStore records the outcome of a job. *store.Registry implements it.
type StatusStore interface {
	SetCollectionStatus(ctx context.Context, id int64, status models.CollectionStatus) error
}

type Job struct {
	ID           uuid.UUID
	CollectionID int64
	UserID       int64
	Filename     string
	Path         string
}

// NewJob creates a job for an uploaded collection.
func NewJob(c models.Collection) Job {
	return Job{
		ID:           uuid.New(),
		CollectionID: c.ID,
		UserID:       c.UserID,
		Filename:     c.Filename,
		Path:         c.StoredPath,
	}
}

// Collection is the vector index namespace the job writes to.
func (j Job) Collection() string {
	return models.CollectionName(j.UserID, j.Filename)
}

type WorkerConfig struct {
	Extractor Extractor
	Chunker   Chunker
	Embedder  types.Embedder
	Index     types.VectorIndex
	Status    StatusStore // optional

	Concurrency int
	QueueSize   int
	BatchSize   int // texts per embedding call

	OnProgress func(stage Stage, done, total int)
	Logger     *slog.Logger
}

type Worker struct {
	config WorkerConfig
	logger *slog.Logger
	queue  chan Job

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewWithConfig(config WorkerConfig) (*Worker, error) {
	if config.Extractor == nil || config.Chunker == nil {
		return nil, fmt.Errorf("extractor and chunker are required")
	}
	if config.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if config.Index == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Worker{
		config: config,
		logger: config.Logger,
		queue:  make(chan Job, config.QueueSize),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Submit queues a job without blocking.
func (w *Worker) Submit(job Job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return ErrStopped
	}

	select {
	case w.queue <- job:
		return nil
	default:
		return types.ErrQueueFull
	}
}

// Start launches the worker goroutines. They exit when ctx is done or the
// worker is stopped. Once ctx is done the worker refuses new jobs and the
// queued ones are marked failed.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-ctx.Done():
					w.close()
					w.drain()
					return
				case job, ok := <-w.queue:
					if !ok {
						return
					}
					// Failures are recorded in the collection status.
					_ = w.Process(ctx, job)
				}
			}
		}()
	}
}

// Stop refuses new jobs, lets running workers finish the queue and waits.
// Jobs no worker picked up are marked failed.
func (w *Worker) Stop() {
	w.close()
	w.wg.Wait()
	w.drain()
}

func (w *Worker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.queue)
	}
}

// drain fails every job left in the closed queue.
func (w *Worker) drain() {
	for job := range w.queue {
		w.logger.Warn("ingestion abandoned on shutdown",
			slog.String("job", job.ID.String()),
			slog.String("collection", job.Collection()))
		w.setStatus(context.Background(), job, models.StatusFailed)
	}
}

// Process ingests one job synchronously. On success the collection is
// marked completed; on any failure it is marked failed and nothing is
// written to the index.
func (w *Worker) Process(ctx context.Context, job Job) error {
	collection := job.Collection()
	log := w.logger.With(
		slog.String("job", job.ID.String()),
		slog.String("collection", collection))

	lock := w.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	log.Info("ingestion started", slog.String("path", job.Path))

	count, err := w.ingest(ctx, job, collection)
	if err != nil {
		log.Error("ingestion failed", slog.Any("error", err))
		w.setStatus(ctx, job, models.StatusFailed)
		return err
	}

	log.Info("ingestion completed", slog.Int("chunks", count))
	w.setStatus(ctx, job, models.StatusCompleted)
	return nil
}

func (w *Worker) ingest(ctx context.Context, job Job, collection string) (int, error) {
	w.progress(StageExtract, 0, 1)
	pages, err := w.config.Extractor.Extract(ctx, job.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to extract %s: %w", job.Filename, err)
	}
	w.progress(StageExtract, 1, 1)

	chunks := w.config.Chunker.ChunkPages(pages)
	w.progress(StageChunk, len(chunks), len(chunks))
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no content extracted from %s", job.Filename)
	}

	indexed := make([]models.IndexedChunk, 0, len(chunks))
	for start := 0; start < len(chunks); start += w.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		end := min(start+w.config.BatchSize, len(chunks))

		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vectors, err := w.config.Embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks: %w", err)
		}
		if len(vectors) != len(texts) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
		}

		for i, c := range chunks[start:end] {
			indexed = append(indexed, models.IndexedChunk{
				ID:        fmt.Sprintf("%s-%s-%d", collection, job.ID, start+i),
				Text:      c.Text,
				Metadata:  c.Meta.Metadata(),
				Embedding: vectors[i],
			})
		}
		w.progress(StageEmbed, end, len(chunks))
	}

	w.progress(StageIndex, 0, len(indexed))
	if err := w.config.Index.EnsureCollection(ctx, collection); err != nil {
		return 0, fmt.Errorf("failed to create collection: %w", err)
	}
	if err := w.config.Index.Insert(ctx, collection, indexed); err != nil {
		return 0, fmt.Errorf("failed to index chunks: %w", err)
	}
	w.progress(StageIndex, len(indexed), len(indexed))

	return len(indexed), nil
}

func (w *Worker) setStatus(ctx context.Context, job Job, status models.CollectionStatus) {
	if w.config.Status == nil || job.CollectionID == 0 {
		return
	}
	// The status must be written even when the job was cancelled.
	if err := w.config.Status.SetCollectionStatus(context.WithoutCancel(ctx), job.CollectionID, status); err != nil {
		w.logger.Error("failed to update collection status",
			slog.Int64("collection_id", job.CollectionID),
			slog.String("status", string(status)),
			slog.Any("error", err))
	}
}

func (w *Worker) collectionLock(collection string) *sync.Mutex {
	w.locksMu.Lock()
	defer w.locksMu.Unlock()
	lock, ok := w.locks[collection]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[collection] = lock
	}
	return lock
}

func (w *Worker) progress(stage Stage, done, total int) {
	if w.config.OnProgress != nil {
		w.config.OnProgress(stage, done, total)
	}
}
