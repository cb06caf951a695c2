package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opensource-finance/findex/internal/domain"
)

// maxBodyBytes bounds request bodies; rule files are small.
const maxBodyBytes = 1 << 20

// RulesRequest is the body of PUT /rules and POST /rules/validate.
// An empty text clears every rule.
type RulesRequest struct {
	Text string `json:"text" validate:"max=1048576"`
}

// ItemRequest is the body of POST /lookup.
type ItemRequest struct {
	Item domain.Item `json:"item"`
}

// RescheduleRequest is the body of POST /reschedule. Forgetting indexes are
// fractions (0.05 means 5%).
type RescheduleRequest struct {
	Interval   float64 `json:"interval" validate:"gt=0"`
	TargetFI   float64 `json:"targetFi" validate:"gt=0,lt=1"`
	BaselineFI float64 `json:"baselineFi" validate:"gt=0,lt=1"`
}

// IntervalRequest is the body of POST /intervals.
type IntervalRequest struct {
	Item             domain.Item `json:"item"`
	Ease             int         `json:"ease" validate:"gte=1,lte=4"`
	BaselineInterval float64     `json:"baselineInterval" validate:"gte=0"`
}

// ReportRequest is the body of POST /report. BaselineIntervals, when given,
// holds the host's unadjusted interval for eases 1 to 4.
type ReportRequest struct {
	Item              domain.Item `json:"item"`
	BaselineIntervals []float64   `json:"baselineIntervals,omitempty" validate:"omitempty,len=4,dive,gte=0"`
}

// decode reads a JSON body into dst, normalizes any item in it and runs the
// struct validations.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON request body: %w", err)
	}

	switch v := dst.(type) {
	case *ItemRequest:
		v.Item.Normalize()
	case *IntervalRequest:
		v.Item.Normalize()
	case *ReportRequest:
		v.Item.Normalize()
	}
	return domain.Validate(dst)
}
