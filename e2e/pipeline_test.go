package e2e

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bookvision/visualization/internal/model"
)

const createBody = `{
	"bookId":     "book-1",
	"trigger":    "page_button",
	"text":       "Fog rolled over the harbour as the lamps came on.",
	"style":      "watercolor",
	"parameters": {"imageCount": 2, "aspectRatio": "16:9"}
}`

// waitForStatus polls the job until it reaches want or the deadline passes.
func (ta *testApp) waitForStatus(t *testing.T, userID, jobID string, want model.JobStatus) model.JobStatusResponse {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var job model.JobStatusResponse
	for time.Now().Before(deadline) {
		resp := ta.doAuthRequest(t, userID, http.MethodGet, "/api/visualizations/"+jobID, "")
		parseInto(t, resp, &job)
		if job.Status == want {
			return job
		}
		if job.Status.IsTerminal() {
			t.Fatalf("job ended as %s, want %s (error %v)", job.Status, want, job.Error)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job still %s after deadline, want %s", job.Status, want)
	return job
}

func TestHealth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/health", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	var body map[string]interface{}
	parseInto(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", body["status"])
	}
}

func TestHealth_RedisDown(t *testing.T) {
	ta := setupApp(t)
	ta.redis.Close()

	resp, err := doRequest(ta.app, http.MethodGet, "/health", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusServiceUnavailable)
}

func TestPipeline_CompletesJob(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, "reader-1", http.MethodPost, "/api/visualizations", createBody)
	assertStatus(t, resp, http.StatusAccepted)
	var created model.CreateVisualizationResponse
	parseInto(t, resp, &created)

	job := ta.waitForStatus(t, "reader-1", created.JobID, model.JobStatusCompleted)

	if len(job.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(job.Images))
	}
	if job.SelectedImageID == nil || *job.SelectedImageID != job.Images[0].ID {
		t.Errorf("expected first image selected, got %v", job.SelectedImageID)
	}
	if job.EnhancedPrompt == "" {
		t.Error("expected the template prompt to be recorded")
	}
	for _, img := range job.Images {
		if img.Metadata.Width != 896 || img.Metadata.Height != 504 {
			t.Errorf("expected 896x504, got %dx%d", img.Metadata.Width, img.Metadata.Height)
		}
		if _, err := os.Stat(filepath.Join(ta.storage.Root(), img.StorageKey)); err != nil {
			t.Errorf("image file missing: %v", err)
		}
		if _, err := os.Stat(filepath.Join(ta.storage.Root(), img.ThumbnailKey)); err != nil {
			t.Errorf("thumbnail missing: %v", err)
		}
	}

	resp = ta.doAuthRequest(t, "reader-1", http.MethodGet, "/api/visualizations/"+created.JobID+"/events", "")
	assertStatus(t, resp, http.StatusOK)
	var history struct {
		Events []model.Event `json:"events"`
	}
	parseInto(t, resp, &history)
	want := []string{
		model.EventJobCreated,
		model.EventJobQueued,
		model.EventPromptGenerating,
		model.EventAIProcessing,
		model.EventImageUploading,
		model.EventJobCompleted,
	}
	if len(history.Events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(history.Events))
	}
	for i, e := range history.Events {
		if e.Type != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], e.Type)
		}
	}
}

func TestPipeline_DeleteImagePurgesFiles(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, "reader-1", http.MethodPost, "/api/visualizations", createBody)
	var created model.CreateVisualizationResponse
	parseInto(t, resp, &created)
	job := ta.waitForStatus(t, "reader-1", created.JobID, model.JobStatusCompleted)
	img := job.Images[0]

	resp = ta.doAuthRequest(t, "reader-2", http.MethodDelete, "/api/visualizations/"+job.JobID+"/images/"+img.ID, "")
	assertStatus(t, resp, http.StatusForbidden)

	resp = ta.doAuthRequest(t, "reader-1", http.MethodDelete, "/api/visualizations/"+job.JobID+"/images/"+img.ID, "")
	assertStatus(t, resp, http.StatusOK)
	var updated model.JobStatusResponse
	parseInto(t, resp, &updated)

	if len(updated.Images) != 1 {
		t.Errorf("expected one remaining image, got %d", len(updated.Images))
	}
	if updated.SelectedImageID == nil || *updated.SelectedImageID != job.Images[1].ID {
		t.Errorf("expected selection to move to the remaining image, got %v", updated.SelectedImageID)
	}
	if _, err := os.Stat(filepath.Join(ta.storage.Root(), img.StorageKey)); !os.IsNotExist(err) {
		t.Errorf("expected image file to be purged, stat err %v", err)
	}
}

func TestPipeline_Unauthenticated(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/visualizations", createBody, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestPipeline_ListMine(t *testing.T) {
	ta := setupApp(t)

	for i := 0; i < 2; i++ {
		resp := ta.doAuthRequest(t, "reader-1", http.MethodPost, "/api/visualizations", createBody)
		assertStatus(t, resp, http.StatusAccepted)
	}
	resp := ta.doAuthRequest(t, "reader-2", http.MethodPost, "/api/visualizations", createBody)
	assertStatus(t, resp, http.StatusAccepted)

	resp = ta.doAuthRequest(t, "reader-1", http.MethodGet, "/api/me/visualizations", "")
	assertStatus(t, resp, http.StatusOK)
	var list model.JobListResponse
	parseInto(t, resp, &list)
	if list.Total != 2 {
		t.Errorf("expected 2 jobs for reader-1, got %d", list.Total)
	}
}
