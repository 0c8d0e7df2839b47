package dispatch

import (
	"context"
	"fmt"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/store"
)

const (
	ActionCall     = "call"
	ActionServe    = "serve"
	ActionSkip     = "skip"
	ActionRecall   = "recall"
	ActionTransfer = "transfer"
)

var transitionMap = map[string][]string{
	ActionCall:     {models.StatusWaiting},
	ActionServe:    {models.StatusCalled},
	ActionSkip:     {models.StatusCalled},
	ActionRecall:   {models.StatusCalled},
	ActionTransfer: {models.StatusWaiting, models.StatusCalled},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

func checkTransition(action string, ticket models.Ticket) error {
	if ValidTransition(action, ticket.Status) {
		return nil
	}
	return fmt.Errorf("%w: cannot %s ticket %s while %s", store.ErrInvalidTransition, action, ticket.TicketNumber, ticket.Status)
}

// checkCounterService rejects calling a ticket of another service at the
// counter. Tickets routed to the counter by a transfer always pass.
func checkCounterService(ctx context.Context, tx store.Tx, counter models.Counter, ticket models.Ticket) error {
	if ticket.AssignedTo(counter.CounterID) {
		return nil
	}
	svc, err := tx.ServiceByID(ctx, counter.ServiceID)
	if err != nil {
		return err
	}
	if svc.Code == ticket.ServiceCode {
		return nil
	}
	return fmt.Errorf("%w: counter %s serves %s, ticket %s belongs to %s", store.ErrInvalidTransition, counter.Name, svc.Code, ticket.TicketNumber, ticket.ServiceCode)
}
