// Package report persists the SequenceReport produced by each finished
// flow so an operator can retrieve it later through the admin API, even
// after the control connection that carried it has closed.
package report

import (
	"context"
	"time"

	"github.com/qosmap/ppsprobe/internal/seq"
	"github.com/qosmap/ppsprobe/pkg/guuid"
)

// StoredReport is one flow's report plus the bookkeeping needed to look it
// up and order it against its peers.
type StoredReport struct {
	FlowID     guuid.GUUID  `json:"flow_id"`
	PPS        uint32       `json:"pps"`
	PayloadLen int          `json:"payload_len"`
	Report     seq.Report32 `json:"report"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// Store persists StoredReports. Implementations must be safe for
// concurrent use — every flow worker goroutine may call Put.
type Store interface {
	Put(ctx context.Context, r StoredReport) error
	Get(ctx context.Context, id guuid.GUUID) (*StoredReport, error)
	List(ctx context.Context, limit int) ([]*StoredReport, error)
}
