package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bookvision/visualization/internal/logger"
	"github.com/bookvision/visualization/internal/model"
	"github.com/bookvision/visualization/internal/queue"
	"github.com/bookvision/visualization/internal/repository"
)

type fakeCatalog struct {
	enabled map[string]bool
	err     error
}

func (f *fakeCatalog) IsVisualizationEnabled(ctx context.Context, bookID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	enabled, ok := f.enabled[bookID]
	if !ok {
		return false, model.ErrNotFound
	}
	return enabled, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingSink) Publish(ctx context.Context, events ...model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

type testEnv struct {
	svc   *VisualizationService
	repo  *repository.MemoryJobRepository
	queue *queue.PriorityQueue
	sink  *recordingSink
	tasks *fakeEnqueuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:  repository.NewMemoryJobRepository(),
		queue: queue.New(nil),
		sink:  &recordingSink{},
		tasks: &fakeEnqueuer{},
	}
	env.svc = NewVisualizationService(Dependencies{
		Repo:       env.repo,
		Queue:      env.queue,
		Catalog:    &fakeCatalog{enabled: map[string]bool{"book-1": true, "book-off": false}},
		Events:     env.sink,
		Tasks:      env.tasks,
		PurgeDelay: time.Minute,
		Log:        logger.Nop(),
	})
	return env
}

func createRequest(trigger model.Trigger) *model.CreateVisualizationRequest {
	return &model.CreateVisualizationRequest{
		BookID:  "book-1",
		Trigger: trigger,
		Text:    "The lighthouse keeper climbed the stairs.",
	}
}

// completedJob stores a finished job with the given number of images.
func completedJob(t *testing.T, env *testEnv, images int) *model.VisualizationJob {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	job, err := model.NewVisualizationJob(model.NewJobParams{
		BookID:       "book-1",
		UserID:       "user-1",
		Trigger:      model.TriggerPageButton,
		OriginalText: "text",
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	steps := []func() error{
		func() error { return job.MarkQueued(1, time.Second, now) },
		func() error { return job.StartPromptGeneration(now) },
		func() error { return job.SetPrompt(model.PromptData{EnhancedPrompt: "p"}, now) },
		func() error { return job.BeginImageUpload("ext-1", images, now) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < images; i++ {
		if err := job.AddImage(model.GeneratedImage{StorageKey: "visualizations/" + job.ID + "/" + string(rune('a'+i)) + ".png"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := job.Complete(now.Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	job.ClearEvents()
	if err := env.repo.Add(ctx, job); err != nil {
		t.Fatal(err)
	}
	return job
}
