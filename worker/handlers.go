package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/meta"
)

// Handlers binds the action handlers to the metadata store and the queue.
type Handlers struct {
	meta  meta.MetaService
	queue depot.Queue
	topic string
	log   *zap.Logger
}

// NewHandlers returns the standard handler set. topic is where follow-up
// actions (from verify-data) are enqueued.
func NewHandlers(ms meta.MetaService, q depot.Queue, topic string, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{meta: ms, queue: q, topic: topic, log: log}
}

// Table returns the action dispatch table.
func (h *Handlers) Table() map[depot.Action]HandlerFunc {
	return map[depot.Action]HandlerFunc{
		depot.ActionPrepare:    h.HandlePrepare,
		depot.ActionSave:       h.HandleSave,
		depot.ActionPublish:    h.HandlePublish,
		depot.ActionDiscard:    h.HandleDiscard,
		depot.ActionFail:       h.HandleFail,
		depot.ActionVerifyData: h.HandleVerifyData,
	}
}

// HandlePrepare opens the version for entries. Resource provisioning for a
// fresh version would hook in here.
func (h *Handlers) HandlePrepare(ctx context.Context, body depot.MessageBody, _ ExtendFunc) error {
	_, err := h.meta.UpdateStatus(ctx, body.VersionID, depot.StatusAwaitingEntries, h.audit(nil))
	return err
}

// HandleSave marks the version saved. Verification is an extension point;
// see HandleVerifyData.
func (h *Handlers) HandleSave(ctx context.Context, body depot.MessageBody, _ ExtendFunc) error {
	_, err := h.meta.UpdateStatus(ctx, body.VersionID, depot.StatusSaved, h.audit(nil))
	return err
}

// HandlePublish promotes the version and flips the dataset's active-version
// pointer. The three steps are individually guarded by compare-and-set
// rather than one cross-record transaction, so each is idempotent: a crash
// between steps is healed by the redelivered message. Demoting every other
// published version first also implements rollback by republishing an old
// version.
func (h *Handlers) HandlePublish(ctx context.Context, body depot.MessageBody, extend ExtendFunc) error {
	v, err := h.meta.FindVersion(ctx, body.VersionID)
	if err != nil {
		return err
	}

	siblings, err := h.meta.ListVersions(ctx, depot.VersionFilter{Dataset: &v.Dataset})
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if sib.ID == v.ID || sib.Status != depot.StatusPublished {
			continue
		}
		if _, err := h.meta.UpdateStatus(ctx, sib.ID, depot.StatusSaved, map[string]string{
			"initiated-by":  "publish-handler",
			"superseded-by": v.ID,
		}); err != nil {
			return err
		}
		h.log.Info("demoted previously published version",
			zap.String("dataset", v.Dataset),
			zap.String("version", sib.ID),
			zap.String("superseded-by", v.ID),
		)
	}

	if err := extend(ctx); err != nil {
		return err
	}

	if _, err := h.meta.UpdateStatus(ctx, v.ID, depot.StatusPublished, h.audit(nil)); err != nil {
		return err
	}

	return h.meta.ActivateVersion(ctx, v.ID)
}

// HandleDiscard moves the version to its terminal discarded state.
func (h *Handlers) HandleDiscard(ctx context.Context, body depot.MessageBody, _ ExtendFunc) error {
	_, err := h.meta.UpdateStatus(ctx, body.VersionID, depot.StatusDiscarded, h.audit(reasonDetail(body)))
	return err
}

// HandleFail moves the version to its terminal failed state.
func (h *Handlers) HandleFail(ctx context.Context, body depot.MessageBody, _ ExtendFunc) error {
	_, err := h.meta.UpdateStatus(ctx, body.VersionID, depot.StatusFailed, h.audit(reasonDetail(body)))
	return err
}

// HandleVerifyData runs the verification hook for the version and enqueues
// the follow-up action: save on success, fail otherwise. The shipped check
// accepts everything; the handler extends its lease before doing any work so
// a real verifier has room to run.
func (h *Handlers) HandleVerifyData(ctx context.Context, body depot.MessageBody, extend ExtendFunc) error {
	if err := extend(ctx); err != nil {
		return err
	}

	verr := h.verify(ctx, body.VersionID)

	follow := depot.MessageBody{Action: depot.ActionSave, VersionID: body.VersionID}
	if verr != nil {
		follow = depot.MessageBody{
			Action:    depot.ActionFail,
			VersionID: body.VersionID,
			Reason:    fmt.Sprintf("verification failed: %v", verr),
		}
	}
	_, err := h.queue.Send(ctx, h.topic, follow)
	return err
}

// verify is the verification extension point; the core ships it disabled.
func (h *Handlers) verify(ctx context.Context, versionID string) error {
	return nil
}

func (h *Handlers) audit(extra map[string]string) map[string]string {
	out := map[string]string{"initiated-by": "async-worker"}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func reasonDetail(body depot.MessageBody) map[string]string {
	if body.Reason == "" {
		return nil
	}
	return map[string]string{"reason": body.Reason}
}
