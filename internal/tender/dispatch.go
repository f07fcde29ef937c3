package tender

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tbmatch/tenderbot/internal/callback"
	"github.com/tbmatch/tenderbot/internal/models"
	"github.com/tbmatch/tenderbot/internal/notify"
)

// broadcast fans the tender summary out to every eligible executor: active,
// role executor|both, same city, category among declared skills. Per-recipient
// failures are logged and counted, they never abort the batch. The whole loop
// runs under the configured dispatch budget; recipients left over when the
// budget expires are dropped like any other failed delivery.
func (s *Service) broadcast(ctx context.Context, tender *models.Tender) (sent, eligible int) {
	recipients, err := s.storage.ListEligibleRecipients(ctx, tender.City, tender.Category)
	if err != nil {
		logrus.Errorf("listing recipients for tender %d: %v", tender.ID, err)
		return 0, 0
	}
	eligible = len(recipients)
	if eligible == 0 {
		return 0, 0
	}

	dispatchCtx := ctx
	if s.cfg.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, s.cfg.DispatchTimeout)
		defer cancel()
	}

	msg := notify.Message{
		Text: Summary(tender),
		Buttons: [][]notify.Button{{{
			Label: "Откликнуться",
			Data:  callback.ActionApply.EncodeID(tender.ID),
		}}},
	}

	for _, u := range recipients {
		if dispatchCtx.Err() != nil {
			logrus.Warnf("dispatch budget exhausted for tender %d: %d of %d sent",
				tender.ID, sent, eligible)
			break
		}
		if err := s.notifier.Send(dispatchCtx, u.TgID, msg); err != nil {
			logrus.WithFields(logrus.Fields{
				"tender_id": tender.ID,
				"tg_id":     u.TgID,
			}).Errorf("delivering tender notification: %v", err)
			continue
		}
		sent++
	}

	return sent, eligible
}
