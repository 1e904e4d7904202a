package crawler

import (
	"net/http"
	"time"
)

// LaneName identifies one of the durable work lanes.
type LaneName string

// Lane names. Fetch carries product detail work, review carries review sync work.
const (
	FetchLane  LaneName = "fetch"
	ReviewLane LaneName = "review"
)

// Valid reports whether the lane name is one the crawler knows about.
func (l LaneName) Valid() bool {
	return l == FetchLane || l == ReviewLane
}

// JobStatus represents the lifecycle state of a lane job.
type JobStatus string

// Job status values persisted by the lanes.
const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusStarted  JobStatus = "started"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

// Default job limits applied when a job is enqueued without explicit options.
const (
	DefaultJobTimeout = 12 * time.Hour
	DefaultResultTTL  = 24 * time.Hour
)

// FetchTask asks a worker to crawl one product detail URL for a keyword.
type FetchTask struct {
	URL     string `json:"url"`
	Keyword string `json:"keyword"`
}

// ReviewTask asks a worker to sync reviews for one product.
type ReviewTask struct {
	Session Session `json:"session"`
	FKey    string  `json:"fkey"`
}

// Job is a unit of durable work on a lane. Exactly one of Fetch or Review is set.
type Job struct {
	ID         string        `json:"id"`
	Lane       LaneName      `json:"lane"`
	Fetch      *FetchTask    `json:"fetch,omitempty"`
	Review     *ReviewTask   `json:"review,omitempty"`
	Status     JobStatus     `json:"status"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	Error      string        `json:"error,omitempty"`
	Timeout    time.Duration `json:"timeout"`
	ResultTTL  time.Duration `json:"result_ttl"`
}

// Key returns the stable identity of the work the job carries.
func (j Job) Key() string {
	switch {
	case j.Fetch != nil:
		return j.Fetch.Keyword + "|" + j.Fetch.URL
	case j.Review != nil:
		return j.Review.FKey
	default:
		return ""
	}
}

// JobOptions carries the per-lane limits stamped onto new jobs.
type JobOptions struct {
	Timeout   time.Duration
	ResultTTL time.Duration
}

func (o JobOptions) withDefaults() JobOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultJobTimeout
	}
	if o.ResultTTL <= 0 {
		o.ResultTTL = DefaultResultTTL
	}
	return o
}

// NewFetchJob builds a fetch-lane job for a discovered detail URL.
func NewFetchJob(task FetchTask, opts JobOptions) Job {
	opts = opts.withDefaults()
	return Job{
		Lane:      FetchLane,
		Fetch:     &task,
		Status:    JobStatusQueued,
		Timeout:   opts.Timeout,
		ResultTTL: opts.ResultTTL,
	}
}

// NewReviewJob builds a review-lane job for a crawled product.
func NewReviewJob(task ReviewTask, opts JobOptions) Job {
	opts = opts.withDefaults()
	return Job{
		Lane:      ReviewLane,
		Review:    &task,
		Status:    JobStatusQueued,
		Timeout:   opts.Timeout,
		ResultTTL: opts.ResultTTL,
	}
}

// LaneStats summarizes the registries of a lane. Processing counts every ID
// a worker has claimed, including claims that never reached Started.
type LaneStats struct {
	Lane       LaneName `json:"lane"`
	Pending    int64    `json:"pending"`
	Processing int64    `json:"processing"`
	Started    int64    `json:"started"`
	Failed     int64    `json:"failed"`
}

// Session is the per-product request context derived from a detail page and
// handed to the review lane.
type Session struct {
	ProductCode        string         `json:"product_code"`
	CategoryCode       string         `json:"category_code"`
	Cate1              string         `json:"cate1,omitempty"`
	Cate2              string         `json:"cate2,omitempty"`
	Cate3              string         `json:"cate3,omitempty"`
	Cate4              string         `json:"cate4,omitempty"`
	Origin             string         `json:"origin"`
	Host               string         `json:"host"`
	Referer            string         `json:"referer"`
	PriceCompare       map[string]any `json:"price_compare,omitempty"`
	ProductDescription map[string]any `json:"product_description,omitempty"`
}

// FetchRequest captures everything needed to issue one HTTP request.
type FetchRequest struct {
	Method  string
	URL     string
	Form    map[string]string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// FailureNotice is published to the operator channel when a job fails.
type FailureNotice struct {
	JobID    string    `json:"job_id"`
	Lane     LaneName  `json:"lane"`
	Key      string    `json:"key"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Attributes returns the message attributes used for routing notices.
func (n FailureNotice) Attributes() map[string]string {
	return map[string]string{"lane": string(n.Lane), "job_id": n.JobID}
}
