package session

import (
	"sync"

	"github.com/testforge/trackingtester/internal/browser"
	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/observability"
	"github.com/testforge/trackingtester/internal/services/tracking"
)

// Recorder collects network traffic for one session. It is registered
// before navigation and may be called from any goroutine.
type Recorder struct {
	classifier *tracking.Classifier
	metrics    *observability.Metrics

	mu       sync.Mutex
	requests []domain.RequestRecord
	pending  map[uint64]int
	events   []domain.TrackingEvent
}

var _ browser.NetworkSink = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder(classifier *tracking.Classifier, metrics *observability.Metrics) *Recorder {
	if classifier == nil {
		classifier = tracking.New(false)
	}
	return &Recorder{
		classifier: classifier,
		metrics:    metrics,
		pending:    make(map[uint64]int),
	}
}

// OnRequest appends the request in arrival order.
func (r *Recorder) OnRequest(req browser.NetworkRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending[req.ID] = len(r.requests)
	r.requests = append(r.requests, domain.RequestRecord{Method: req.Method, URL: req.URL})
}

// OnResponse fills in the request status and classifies the URL.
func (r *Recorder) OnResponse(resp browser.NetworkResponse) {
	event := r.classifier.Classify(resp.URL, resp.Status)

	r.mu.Lock()
	if i, ok := r.pending[resp.RequestID]; ok {
		status := resp.Status
		r.requests[i].Status = &status
		delete(r.pending, resp.RequestID)
	}
	if event != nil {
		r.events = append(r.events, *event)
	}
	r.mu.Unlock()

	if event != nil {
		r.metrics.RecordTrackingEvent(string(event.Platform), string(event.Status))
	}
}

// Snapshot copies the events and the last requests recorded so far.
func (r *Recorder) Snapshot() ([]domain.TrackingEvent, []domain.RequestRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]domain.TrackingEvent, len(r.events))
	copy(events, r.events)
	return events, domain.LastRequests(r.requests)
}

// Counts reports how many requests and events have been recorded.
func (r *Recorder) Counts() (requests, events int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests), len(r.events)
}
