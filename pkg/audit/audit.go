// Package audit emits write-only audit events for loan creation and
// payment recording. A failed audit write is logged and swallowed; it
// never fails the operation that produced it.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adelantofin/adelanto/pkg/models"
)

// Sink is the subset of storage the recorder needs.
type Sink interface {
	CreateAuditLog(entry *models.AuditLog) error
}

type Recorder struct {
	sink Sink
	log  *zap.Logger
}

func NewRecorder(sink Sink, log *zap.Logger) *Recorder {
	return &Recorder{sink: sink, log: log}
}

// Record persists one audit event. Details are marshalled to JSON; values
// that cannot marshal are dropped rather than failing the event.
func (r *Recorder) Record(action string, merchantID uuid.UUID, details map[string]interface{}) {
	payload, err := json.Marshal(details)
	if err != nil {
		r.log.Warn("audit details not serializable", zap.String("action", action), zap.Error(err))
		payload = []byte("{}")
	}

	entry := &models.AuditLog{
		ID:         uuid.New(),
		Action:     action,
		MerchantID: merchantID,
		Details:    string(payload),
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.sink.CreateAuditLog(entry); err != nil {
		r.log.Warn("audit write failed",
			zap.String("action", action),
			zap.String("merchant_id", merchantID.String()),
			zap.Error(err))
	}
}
