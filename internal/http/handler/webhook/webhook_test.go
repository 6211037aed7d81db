package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tasksync.app/tasksync/internal/domain"
	"tasksync.app/tasksync/internal/http/handler/webhook"
	"tasksync.app/tasksync/internal/queue"
	"tasksync.app/tasksync/internal/source"
	"tasksync.app/tasksync/internal/store"
)

type fakeJobs struct {
	created []*domain.Job
	nextID  int64
}

func (f *fakeJobs) Create(_ context.Context, job *domain.Job) (*domain.Job, error) {
	f.nextID++
	job.ID = f.nextID
	f.created = append(f.created, job)
	return job, nil
}
func (f *fakeJobs) Get(context.Context, int64) (*domain.Job, error) { return nil, store.ErrNotFound }
func (f *fakeJobs) SetStatus(context.Context, int64, domain.JobStatus) error {
	return nil
}
func (f *fakeJobs) RecordStage(context.Context, int64, domain.StageOutcome) error { return nil }
func (f *fakeJobs) Finish(context.Context, *domain.Job) error                     { return nil }
func (f *fakeJobs) ListByThread(context.Context, string, int32) ([]domain.Job, error) {
	return nil, nil
}

type fakeProducer struct {
	enqueued []queue.Message
}

func (f *fakeProducer) Enqueue(_ context.Context, msg queue.Message) error {
	f.enqueued = append(f.enqueued, msg)
	return nil
}
func (f *fakeProducer) Close() error { return nil }

var _ = Describe("Slack webhook", func() {
	var (
		jobs     *fakeJobs
		producer *fakeProducer
		engine   *gin.Engine
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		jobs = &fakeJobs{}
		producer = &fakeProducer{}

		registry := source.NewRegistry(source.NewSlackAdapter(nil))
		h := webhook.NewHandler(registry, jobs, producer)

		engine = gin.New()
		engine.POST("/webhooks/slack", h.HandleSlack)
	})

	post := func(payload string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/slack", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		engine.ServeHTTP(rec, req)
		return rec
	}

	It("answers url_verification before any processing", func() {
		rec := post(`{"type":"url_verification","challenge":"c-123"}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var body map[string]string
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["challenge"]).To(Equal("c-123"))
		Expect(jobs.created).To(BeEmpty())
		Expect(producer.enqueued).To(BeEmpty())
	})

	It("queues a job for a valid event", func() {
		rec := post(`{
			"type": "event_callback",
			"team_id": "T1",
			"event": {
				"type": "app_mention",
				"user": "U1",
				"text": "<@BOT> checkout is broken",
				"channel": "C1",
				"ts": "1700000000.000100"
			}
		}`)

		Expect(rec.Code).To(Equal(http.StatusAccepted))
		Expect(jobs.created).To(HaveLen(1))
		Expect(jobs.created[0].ThreadID).To(Equal("C1:1700000000.000100"))
		Expect(jobs.created[0].Status).To(Equal(domain.JobPending))
		Expect(producer.enqueued).To(HaveLen(1))
		Expect(producer.enqueued[0].JobID).To(Equal(jobs.created[0].ID))
		Expect(producer.enqueued[0].Parsed.TeamID).To(Equal("T1"))
	})

	It("ignores payloads the adapter rejects without queueing", func() {
		rec := post(`{
			"type": "event_callback",
			"team_id": "T1",
			"event": {"type": "message", "bot_id": "B1", "text": "self talk", "channel": "C1", "ts": "1.2"}
		}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(jobs.created).To(BeEmpty())
		Expect(producer.enqueued).To(BeEmpty())
	})

	It("rejects malformed JSON", func() {
		rec := post(`{not json`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})
})
