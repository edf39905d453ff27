package lifecycle

import (
	"context"
	"fmt"
	"time"

	"busline/backend/internal/metrics"
	"busline/backend/internal/models"
)

type ticketOutcome struct {
	order   *models.Order
	ticket  *models.TicketInfo
	warning string
}

// issueTicket runs issuance on a context detached from the caller and waits at most
// TicketWait for it. Must not be called inside a store transaction.
func (m *Manager) issueTicket(ctx context.Context, orderID string) ticketOutcome {
	done := make(chan ticketOutcome, 1)
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		done <- m.runIssuance(context.WithoutCancel(ctx), orderID)
	}()

	timer := time.NewTimer(m.cfg.TicketWait)
	defer timer.Stop()
	select {
	case out := <-done:
		return out
	case <-timer.C:
	case <-ctx.Done():
	}
	m.logger.Info("ticket_issuance", "status", "pending", "order_id", orderID)
	return ticketOutcome{warning: "ticket issuance is still in progress"}
}

// runIssuance claims the order and calls the ticket service when the claim succeeds.
func (m *Manager) runIssuance(ctx context.Context, orderID string) ticketOutcome {
	staleBefore := m.now().Add(-m.cfg.TicketStaleAfter)
	claimed, ok, err := m.store.ClaimTicketIssuance(ctx, orderID, staleBefore)
	if err != nil {
		m.logger.Warn("ticket_issuance", "status", "claim_failed", "order_id", orderID, "error", err)
		return ticketOutcome{warning: "ticket issuance could not be started"}
	}
	if !ok {
		if claimed.TicketStatus == models.TicketStatusIssued {
			return ticketOutcome{order: &claimed, ticket: &models.TicketInfo{TicketID: claimed.TicketRef, URL: claimed.TicketURL}}
		}
		metrics.TicketIssuance.WithLabelValues("skipped").Inc()
		return ticketOutcome{}
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.TicketCallTimeout)
	defer cancel()
	started := time.Now()
	info, err := m.tickets.IssueTicket(callCtx, claimed)
	metrics.TicketIssuanceDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.TicketIssuance.WithLabelValues("failed").Inc()
		m.logger.Warn("ticket_issuance", "status", "failed", "order_id", orderID, "attempt", claimed.TicketAttempts, "error", err)
		if ferr := m.store.FailTicketIssuance(ctx, orderID, err.Error()); ferr != nil {
			m.logger.Error("ticket_issuance", "status", "record_failure_failed", "order_id", orderID, "error", ferr)
		}
		return ticketOutcome{warning: fmt.Sprintf("ticket issuance failed: %v", err)}
	}

	updated, err := m.store.CompleteTicketIssuance(ctx, orderID, info)
	if err != nil {
		m.logger.Error("ticket_issuance", "status", "record_failed", "order_id", orderID, "ticket_id", info.TicketID, "error", err)
		return ticketOutcome{ticket: &info, warning: "ticket issued but not recorded"}
	}
	metrics.TicketIssuance.WithLabelValues("issued").Inc()
	m.logger.Info("ticket_issuance", "status", "issued", "order_id", orderID, "ticket_id", info.TicketID)
	m.publish(ctx, models.EventOrderTicketIssued, updated)
	return ticketOutcome{order: &updated, ticket: &info}
}

// RetryReport summarizes one issuance sweep.
type RetryReport struct {
	Scanned int
	Issued  int
	Failed  int
	Skipped int
}

// RetryTicketIssuance issues tickets for eligible orders whose issuance never
// completed, up to batch orders per call.
func (m *Manager) RetryTicketIssuance(ctx context.Context, batch int) (RetryReport, error) {
	if batch <= 0 {
		batch = 50
	}
	staleBefore := m.now().Add(-m.cfg.TicketStaleAfter)
	backlog, err := m.store.ListTicketBacklog(ctx, m.cfg.TicketMaxAttempts, staleBefore, batch)
	if err != nil {
		return RetryReport{}, err
	}
	report := RetryReport{Scanned: len(backlog)}
	for _, o := range backlog {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		out := m.runIssuance(ctx, o.ID)
		switch {
		case out.ticket != nil && out.warning == "":
			report.Issued++
		case out.warning != "":
			report.Failed++
		default:
			report.Skipped++
		}
	}
	return report, nil
}
