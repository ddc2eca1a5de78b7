package batch

import "billbatch/pkg/billref"

// Progress is a counters snapshot emitted as processing advances.
type Progress struct {
	Total        int     `json:"total"`
	Processed    int     `json:"processed"`
	SuccessCount int     `json:"successCount"`
	TotalAmount  float64 `json:"totalAmount"`
	Message      string  `json:"message"`
}

// Update is one bill's state change.
type Update struct {
	Number        string       `json:"number"`
	Type          billref.Kind `json:"type"`
	Amount        float64      `json:"amount"`
	Status        Status       `json:"status"`
	ExtractedText string       `json:"extractedText,omitempty"`
	Attempts      int          `json:"attempts"`
	Index         int          `json:"index"`
}

// Reporter receives orchestration events as they happen. The stream is
// one-way and append-only: the orchestrator never waits for the consumer,
// and a slow consumer only delays transport buffering, not fetching.
//
// Event order for one run: zero or more Progress/BillUpdate events in
// processing order, then exactly one Complete or Error.
type Reporter interface {
	Progress(p Progress)
	BillUpdate(u Update)
	Complete(s *Summary)
	Error(err error)
}

// NopReporter discards all events.
type NopReporter struct{}

func (NopReporter) Progress(Progress)  {}
func (NopReporter) BillUpdate(Update)  {}
func (NopReporter) Complete(*Summary)  {}
func (NopReporter) Error(error)        {}
