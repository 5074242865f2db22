package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/repositories"
)

const (
	testKeySecret     = "key-secret"
	testWebhookSecret = "webhook-secret"
)

func newTestPaymentService(t *testing.T, repo *stubOrderRepo, notifier OrderNotifier, events OrderEventPublisher, logger *recordingLogger) PaymentService {
	t.Helper()
	deps := PaymentServiceDeps{
		Orders:        repo,
		Notifier:      notifier,
		Events:        events,
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
		Dispatch:      syncDispatch,
		Clock:         fixedClock,
	}
	if logger != nil {
		deps.Logger = logger.log
	}
	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	return svc
}

func confirmCommand(order Order, paymentID string) ConfirmPaymentCommand {
	return ConfirmPaymentCommand{
		OrderID:          order.ID,
		GatewayOrderID:   order.Payment.GatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        payments.ComputeSignature(testKeySecret, payments.ConfirmationPayload(order.Payment.GatewayOrderID, paymentID)),
		UserID:           order.UserID,
	}
}

func capturedWebhook(t *testing.T, paymentID, gatewayOrderID string, amount int64) WebhookCommand {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"order_id":%q,"amount":%d,"currency":"usd","status":"captured"}}}}`,
		paymentID, gatewayOrderID, amount))
	return WebhookCommand{Body: body, Signature: payments.ComputeSignature(testWebhookSecret, body)}
}

func TestConfirmPaymentMarksOrderPaid(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	repo := newStubOrderRepo(t, order)
	notifier := &stubNotifier{}
	events := &recordingPublisher{}
	svc := newTestPaymentService(t, repo, notifier, events, nil)

	got, err := svc.ConfirmPayment(context.Background(), confirmCommand(order, "ch_1"))
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if got.Status != domain.OrderStatusConfirmed || got.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("unexpected state %s/%s", got.Status, got.Payment.Status)
	}
	stored := repo.mustFind(t, order.ID)
	if stored.Payment.TransactionID != "ch_1" || stored.Payment.PaidAt == nil || !stored.Payment.PaidAt.Equal(testNow) {
		t.Fatalf("unexpected stored payment %+v", stored.Payment)
	}
	last, _ := stored.LastTimelineEntry()
	if last.Status != "confirmed" || last.Message != "Payment confirmed successfully" || last.Actor != "user:user-1" {
		t.Fatalf("unexpected timeline entry %+v", last)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != order.ID {
		t.Fatalf("expected one confirmation notification, got %v", notifier.sent)
	}
	if types := events.types(); len(types) != 1 || types[0] != OrderEventPaymentPaid {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestConfirmPaymentRejectsTamperedSignature(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	repo := newStubOrderRepo(t, order)
	svc := newTestPaymentService(t, repo, nil, nil, nil)

	cmd := confirmCommand(order, "ch_1")
	cmd.Signature = payments.ComputeSignature(testKeySecret, payments.ConfirmationPayload(order.Payment.GatewayOrderID, "ch_2"))
	if _, err := svc.ConfirmPayment(context.Background(), cmd); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if repo.updates != 0 {
		t.Fatalf("expected no writes, got %d", repo.updates)
	}
	if stored := repo.mustFind(t, order.ID); stored.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("payment status changed to %s", stored.Payment.Status)
	}
}

func TestConfirmPaymentAnySignatureBitFlipFails(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	repo := newStubOrderRepo(t, order)
	svc := newTestPaymentService(t, repo, nil, nil, nil)
	valid := confirmCommand(order, "ch_1")

	for i := 0; i < len(valid.Signature); i++ {
		flipped := []byte(valid.Signature)
		flipped[i] ^= 0x01
		cmd := valid
		cmd.Signature = string(flipped)
		if _, err := svc.ConfirmPayment(context.Background(), cmd); err == nil {
			t.Fatalf("flipped signature at %d accepted", i)
		}
	}
	if repo.updates != 0 {
		t.Fatalf("expected no writes, got %d", repo.updates)
	}
}

func TestConfirmPaymentRequiresAllFields(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	svc := newTestPaymentService(t, newStubOrderRepo(t, order), nil, nil, nil)
	cmd := confirmCommand(order, "ch_1")
	cmd.GatewayOrderID = ""
	if _, err := svc.ConfirmPayment(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestConfirmPaymentScopesToOwnerAndGatewayOrder(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	other := pendingOrder("ord_2", 900)
	repo := newStubOrderRepo(t, order, other)
	svc := newTestPaymentService(t, repo, nil, nil, nil)

	stranger := confirmCommand(order, "ch_1")
	stranger.UserID = "user-2"
	if _, err := svc.ConfirmPayment(context.Background(), stranger); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for another user, got %v", err)
	}

	// A valid signature for a different gateway order must not confirm ord_1.
	crossed := confirmCommand(other, "ch_2")
	crossed.OrderID = order.ID
	if _, err := svc.ConfirmPayment(context.Background(), crossed); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for mismatched gateway order, got %v", err)
	}
	if repo.updates != 0 {
		t.Fatalf("expected no writes, got %d", repo.updates)
	}
}

func TestConfirmPaymentRepeatIsIdempotent(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	repo := newStubOrderRepo(t, order)
	svc := newTestPaymentService(t, repo, nil, nil, nil)

	if _, err := svc.ConfirmPayment(context.Background(), confirmCommand(order, "ch_1")); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if _, err := svc.ConfirmPayment(context.Background(), confirmCommand(order, "ch_1")); err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	if repo.updates != 1 {
		t.Fatalf("expected a single write, got %d", repo.updates)
	}
	if _, err := svc.ConfirmPayment(context.Background(), confirmCommand(order, "ch_other")); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict for a second transaction, got %v", err)
	}
}

func TestConfirmPaymentPersistenceFailure(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	repo := newStubOrderRepo(t, order)
	repo.updateFn = func(context.Context, string, repositories.OrderPatch) error {
		return errors.New("deadline exceeded")
	}
	notifier := &stubNotifier{}
	logger := &recordingLogger{}
	svc := newTestPaymentService(t, repo, notifier, nil, logger)

	if _, err := svc.ConfirmPayment(context.Background(), confirmCommand(order, "ch_1")); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("notification must not fire when the write failed")
	}
	if !logger.has("payment.confirm.persist.failed") {
		t.Fatalf("expected persistence failure log")
	}
}

func countTimeline(order Order, status string) int {
	n := 0
	for _, entry := range order.Timeline {
		if entry.Status == status {
			n++
		}
	}
	return n
}

func TestConfirmPaymentLosingRaceToWebhookAppliesOnce(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	repo := newStubOrderRepo(t, order)
	notifier := &stubNotifier{}
	events := &recordingPublisher{}
	svc := newTestPaymentService(t, repo, notifier, events, nil)

	var webhook WebhookResult
	raced := false
	repo.updateFn = func(ctx context.Context, id string, patch repositories.OrderPatch) error {
		if !raced {
			// The capture webhook read the same pending order and commits first.
			raced = true
			var err error
			if webhook, err = svc.ApplyWebhook(ctx, capturedWebhook(t, "ch_1", order.Payment.GatewayOrderID, 2500)); err != nil {
				t.Fatalf("ApplyWebhook: %v", err)
			}
		}
		return repo.OrderRepository.UpdateFields(ctx, id, patch)
	}

	got, err := svc.ConfirmPayment(context.Background(), confirmCommand(order, "ch_1"))
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if !webhook.Applied || got.Status != domain.OrderStatusConfirmed || got.Payment.TransactionID != "ch_1" {
		t.Fatalf("unexpected outcome webhook=%+v order=%s/%s", webhook, got.Status, got.Payment.TransactionID)
	}
	stored := repo.mustFind(t, order.ID)
	if n := countTimeline(stored, "confirmed"); n != 1 {
		t.Fatalf("expected exactly one confirmed entry, got %d", n)
	}
	if len(notifier.sent) != 1 || len(events.types()) != 1 {
		t.Fatalf("expected one notification and one event, got %v %v", notifier.sent, events.types())
	}
}

func TestApplyWebhookLosingRaceToConfirmIsNotApplied(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	repo := newStubOrderRepo(t, order)
	notifier := &stubNotifier{}
	svc := newTestPaymentService(t, repo, notifier, nil, nil)

	raced := false
	repo.updateFn = func(ctx context.Context, id string, patch repositories.OrderPatch) error {
		if !raced {
			raced = true
			if _, err := svc.ConfirmPayment(ctx, confirmCommand(order, "ch_1")); err != nil {
				t.Fatalf("ConfirmPayment: %v", err)
			}
		}
		return repo.OrderRepository.UpdateFields(ctx, id, patch)
	}

	result, err := svc.ApplyWebhook(context.Background(), capturedWebhook(t, "ch_1", order.Payment.GatewayOrderID, 2500))
	if err != nil {
		t.Fatalf("ApplyWebhook: %v", err)
	}
	if result.Applied || !result.Received {
		t.Fatalf("expected the webhook to find the order already confirmed, got %+v", result)
	}
	if n := countTimeline(repo.mustFind(t, order.ID), "confirmed"); n != 1 || len(notifier.sent) != 1 {
		t.Fatalf("expected one confirmed entry and one notification, got %d %v", n, notifier.sent)
	}
}

func TestConfirmPaymentGivesUpAfterRepeatedConflicts(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	repo := newStubOrderRepo(t, order)
	repo.updateFn = func(ctx context.Context, id string, patch repositories.OrderPatch) error {
		patch.Revision--
		return repo.OrderRepository.UpdateFields(ctx, id, patch)
	}
	notifier := &stubNotifier{}
	svc := newTestPaymentService(t, repo, notifier, nil, nil)

	_, err := svc.ConfirmPayment(context.Background(), confirmCommand(order, "ch_1"))
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
	if repo.updates != maxWriteAttempts || len(notifier.sent) != 0 {
		t.Fatalf("expected %d attempts and no notification, got %d %v", maxWriteAttempts, repo.updates, notifier.sent)
	}
}

func TestConfirmPaymentNotificationFailureIsSwallowed(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	repo := newStubOrderRepo(t, order)
	notifier := &stubNotifier{notifyFn: func(context.Context, Order) error { return errors.New("smtp down") }}
	logger := &recordingLogger{}
	svc := newTestPaymentService(t, repo, notifier, nil, logger)

	if _, err := svc.ConfirmPayment(context.Background(), confirmCommand(order, "ch_1")); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if stored := repo.mustFind(t, order.ID); stored.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("payment must stay paid, got %s", stored.Payment.Status)
	}
	if !logger.has("order.notification.failed") {
		t.Fatalf("expected notification failure to be logged")
	}
}

func TestApplyWebhookRejectsBadSignature(t *testing.T) {
	repo := newStubOrderRepo(t)
	svc := newTestPaymentService(t, repo, nil, nil, nil)
	cmd := capturedWebhook(t, "ch_1", "pi_ord_1", 2500)
	cmd.Signature = payments.ComputeSignature("wrong", cmd.Body)
	if _, err := svc.ApplyWebhook(context.Background(), cmd); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestApplyWebhookUnknownTransactionIsAcknowledged(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	repo := newStubOrderRepo(t, order)
	svc := newTestPaymentService(t, repo, nil, nil, nil)

	result, err := svc.ApplyWebhook(context.Background(), capturedWebhook(t, "ch_unknown", "pi_unknown", 2500))
	if err != nil {
		t.Fatalf("ApplyWebhook: %v", err)
	}
	if !result.Received || result.Applied {
		t.Fatalf("unexpected result %+v", result)
	}
	if repo.updates != 0 {
		t.Fatalf("expected store untouched, got %d writes", repo.updates)
	}
	if stored := repo.mustFind(t, order.ID); stored.Status != domain.OrderStatusPending {
		t.Fatalf("order changed to %s", stored.Status)
	}
}

func TestApplyWebhookIgnoresOtherEvents(t *testing.T) {
	repo := newStubOrderRepo(t)
	svc := newTestPaymentService(t, repo, nil, nil, nil)
	body := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"ch_1"}}}}`)
	result, err := svc.ApplyWebhook(context.Background(), WebhookCommand{Body: body, Signature: payments.ComputeSignature(testWebhookSecret, body)})
	if err != nil {
		t.Fatalf("ApplyWebhook: %v", err)
	}
	if !result.Received || result.Applied || result.Event != payments.EventPaymentFailed {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestApplyWebhookCapturedIsIdempotent(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	order.Payment.TransactionID = "ch_1"
	repo := newStubOrderRepo(t, order)
	notifier := &stubNotifier{}
	events := &recordingPublisher{}
	svc := newTestPaymentService(t, repo, notifier, events, nil)
	cmd := capturedWebhook(t, "ch_1", order.Payment.GatewayOrderID, 2500)

	first, err := svc.ApplyWebhook(context.Background(), cmd)
	if err != nil || !first.Applied {
		t.Fatalf("first delivery: %+v err=%v", first, err)
	}
	afterFirst := repo.mustFind(t, order.ID)

	second, err := svc.ApplyWebhook(context.Background(), cmd)
	if err != nil || second.Applied || !second.Received {
		t.Fatalf("redelivery: %+v err=%v", second, err)
	}
	afterSecond := repo.mustFind(t, order.ID)

	if afterSecond.Status != domain.OrderStatusConfirmed || afterSecond.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("unexpected final state %s/%s", afterSecond.Status, afterSecond.Payment.Status)
	}
	if len(afterSecond.Timeline) != len(afterFirst.Timeline) {
		t.Fatalf("redelivery appended timeline entries")
	}
	if repo.updates != 1 || len(notifier.sent) != 1 || len(events.types()) != 1 {
		t.Fatalf("expected single side effects, got writes=%d notifications=%d events=%d", repo.updates, len(notifier.sent), len(events.types()))
	}
}

func TestApplyWebhookMatchesGatewayOrderWhenUnconfirmed(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	repo := newStubOrderRepo(t, order)
	svc := newTestPaymentService(t, repo, nil, nil, nil)

	if _, err := svc.ApplyWebhook(context.Background(), capturedWebhook(t, "ch_9", order.Payment.GatewayOrderID, 2500)); err != nil {
		t.Fatalf("ApplyWebhook: %v", err)
	}
	stored := repo.mustFind(t, order.ID)
	if stored.Payment.TransactionID != "ch_9" || stored.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected stored order %+v", stored.Payment)
	}
	last, _ := stored.LastTimelineEntry()
	if last.Actor != "gateway:webhook" {
		t.Fatalf("unexpected actor %q", last.Actor)
	}
}

func TestApplyWebhookSkipsAmountMismatch(t *testing.T) {
	order := pendingOrder("ord_1", 2500)
	order.Payment.TransactionID = "ch_1"
	repo := newStubOrderRepo(t, order)
	logger := &recordingLogger{}
	svc := newTestPaymentService(t, repo, nil, nil, logger)

	result, err := svc.ApplyWebhook(context.Background(), capturedWebhook(t, "ch_1", order.Payment.GatewayOrderID, 100))
	if err != nil || result.Applied {
		t.Fatalf("expected skipped event, got %+v err=%v", result, err)
	}
	if repo.updates != 0 {
		t.Fatalf("expected no writes")
	}
	if !logger.has("payment.webhook.amount_mismatch.skipped") {
		t.Fatalf("expected mismatch to be logged")
	}
}

func TestApplyWebhookMalformedBody(t *testing.T) {
	svc := newTestPaymentService(t, newStubOrderRepo(t), nil, nil, nil)
	body := []byte(`{not json`)
	_, err := svc.ApplyWebhook(context.Background(), WebhookCommand{Body: body, Signature: payments.ComputeSignature(testWebhookSecret, body)})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestNewPaymentServiceRequiresSecrets(t *testing.T) {
	if _, err := NewPaymentService(PaymentServiceDeps{Orders: newStubOrderRepo(t)}); err == nil {
		t.Fatalf("expected missing secrets to fail")
	}
}
