package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"escrowflow/escrow"
	"escrowflow/outbox"
)

// Tally counts actor outcomes. Infrastructure errors (chaos kills, timeouts)
// are expected and only counted.
type Tally struct {
	Deposits      atomic.Int64
	Confirmations atomic.Int64
	Finalized     atomic.Int64
	Rejected      atomic.Int64
	InfraErrors   atomic.Int64
}

// Party is one side of a set of agreements.
type Party struct {
	ID         escrow.AccountID
	Agreements []escrow.AgreementID
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(minMS, spreadMS int) {
	time.Sleep(time.Duration(minMS+rand.Intn(spreadMS)) * time.Millisecond)
}

func domainError(err error) bool {
	for _, target := range []error{
		escrow.ErrCanNotDeposit,
		escrow.ErrAlreadyFinalized,
		escrow.ErrNotDeposited,
		escrow.ErrCanNotCheck,
		escrow.ErrCanNotTransfer,
		escrow.ErrUnknownCaller,
		escrow.ErrIdempotencyKeyReused,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Depositor keeps attaching value to random agreements of the buyer. Replays
// reuse idempotency keys on purpose, sometimes with a different amount.
func Depositor(ctx context.Context, svc *escrow.Service, buyer Party, totals map[escrow.AgreementID]int64, tally *Tally, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id := buyer.Agreements[rand.Intn(len(buyer.Agreements))]
		attached := totals[id]
		if rand.Intn(4) == 0 {
			attached--
		}
		key := fmt.Sprintf("dep-%d-%d", id, rand.Intn(3))
		_, err := svc.Deposit(ctx, buyer.ID, escrow.DepositParams{AgreementID: id, Attached: attached, IdempotencyKey: key})
		switch {
		case err == nil:
			tally.Deposits.Add(1)
		case domainError(err):
			tally.Rejected.Add(1)
		default:
			tally.InfraErrors.Add(1)
		}
		pause(5, 20)
	}
	return nil
}

// Confirmer confirms random conditions on the party's agreements, including
// names that do not exist.
func Confirmer(ctx context.Context, svc *escrow.Service, party Party, conditions []string, tally *Tally, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id := party.Agreements[rand.Intn(len(party.Agreements))]
		name := conditions[rand.Intn(len(conditions))]
		if rand.Intn(10) == 0 {
			name = "no-such-condition"
		}
		rec, err := svc.CheckCondition(ctx, party.ID, escrow.CheckParams{AgreementID: id, Condition: name})
		switch {
		case err == nil:
			tally.Confirmations.Add(1)
			if rec.Status == escrow.StatusFinalized {
				tally.Finalized.Add(1)
			}
		case domainError(err):
			tally.Rejected.Add(1)
		default:
			tally.InfraErrors.Add(1)
		}
		pause(5, 25)
	}
	return nil
}

// Intruder calls mutating operations as a non-party. Any success is a failure.
func Intruder(ctx context.Context, svc *escrow.Service, stranger escrow.AccountID, targets []escrow.AgreementID, conditions []string, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id := targets[rand.Intn(len(targets))]
		if _, err := svc.CheckCondition(ctx, stranger, escrow.CheckParams{AgreementID: id, Condition: conditions[0]}); err == nil {
			return fmt.Errorf("intruder confirmed condition on agreement %d", id)
		}
		if _, err := svc.Deposit(ctx, stranger, escrow.DepositParams{AgreementID: id, Attached: 1 << 40}); err == nil {
			return fmt.Errorf("intruder deposited into agreement %d", id)
		}
		pause(20, 40)
	}
	return nil
}

// FlakyPublisher drops one delivery in failEvery to exercise relay retries.
type FlakyPublisher struct {
	FailEvery int
	Delivered atomic.Int64
}

func (p *FlakyPublisher) Publish(_ context.Context, _ outbox.Message) error {
	if p.FailEvery > 0 && rand.Intn(p.FailEvery) == 0 {
		return errors.New("simulated delivery failure")
	}
	p.Delivered.Add(1)
	return nil
}

// OutboxWorker runs a relay until stop closes.
func OutboxWorker(ctx context.Context, relay *outbox.Relay, stop <-chan struct{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return relay.Run(ctx)
}
