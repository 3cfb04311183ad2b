package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"chatroute/dispatch"
	"chatroute/models"
)

var (
	// ErrInvalidTransition indicates an operation not allowed from the invitation's state.
	ErrInvalidTransition = errors.New("transfer: invalid transition")
	// ErrResourceUnavailable indicates the local destination could not be opened or written.
	ErrResourceUnavailable = errors.New("transfer: resource unavailable")
	// ErrUnknownInvitation indicates no registered invitation has the requested ID.
	ErrUnknownInvitation = errors.New("transfer: unknown invitation")
)

// Engine is the part of the messaging engine that drives transfer sessions.
type Engine interface {
	AcceptTransfer(ctx context.Context, invitationID string) error
	RejectTransfer(ctx context.Context, invitationID string) error
	CloseTransferSession(ctx context.Context, invitationID string) error
}

// Journal persists invitation state changes.
type Journal interface {
	SaveTransfer(record models.TransferRecord) error
}

// closedHistory bounds how many closed invitation IDs are remembered.
const closedHistory = 1024

// Decision is the answer of a Decide hook for a new invitation.
type Decision int

const (
	// DecisionDefer leaves the invitation Offered until the user answers.
	DecisionDefer Decision = iota
	DecisionAccept
	DecisionReject
)

// Options configures the coordinator's collaborators. Every field is optional.
type Options struct {
	Engine  Engine
	Poster  dispatch.Poster
	Journal Journal
	// Open defaults to DefaultOpener(FilesDir).
	Open     Opener
	FilesDir string
	// Decide answers new invitations. Nil defers every invitation.
	Decide func(*Invitation) Decision
	// Report receives failures that drop an event or a transfer.
	Report func(error)
	Logger *slog.Logger
}

// Coordinator runs one lifecycle state machine per transfer invitation.
// Transitions of a single invitation are serialized; different invitations
// proceed independently. Engine calls happen after the invitation lock is
// released.
type Coordinator struct {
	options Options
	logger  *slog.Logger

	mu          sync.Mutex
	invitations map[string]*Invitation
	// closed remembers recently closed IDs so late calls for them fail as
	// invalid transitions rather than unknown invitations.
	closed      map[string]struct{}
	closedOrder []string
	closedLimit int
}

// effects collects what a transition needs done once the invitation lock
// is released.
type effects struct {
	changed    bool
	engine     func(context.Context, string) error
	engineOp   string
	unregister bool
	report     error
}

// NewCoordinator creates a coordinator with no invitations.
func NewCoordinator(options Options) *Coordinator {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Open == nil {
		options.Open = DefaultOpener(options.FilesDir)
	}
	if options.Report == nil {
		options.Report = func(error) {}
	}
	return &Coordinator{
		options:     options,
		logger:      options.Logger.With("component", "transfer"),
		invitations: make(map[string]*Invitation),
		closed:      make(map[string]struct{}),
		closedLimit: closedHistory,
	}
}

// Offer registers a new invitation in Offered and asks the decision hook
// what to do with it. Invitations from gateway members are rejected.
func (c *Coordinator) Offer(ctx context.Context, event models.InvitationEvent) (*Invitation, error) {
	if event.InvitationID == "" {
		return nil, errors.New("invitation id is required")
	}
	if event.DataType != "" && event.DataType != models.DataFile && event.DataType != models.DataActivity {
		return nil, fmt.Errorf("invitation %q: unsupported data type %q", event.InvitationID, event.DataType)
	}

	inv := newInvitation(event)
	c.mu.Lock()
	if existing, ok := c.invitations[inv.ID]; ok {
		c.mu.Unlock()
		return existing, fmt.Errorf("%w: invitation %q already offered", ErrInvalidTransition, inv.ID)
	}
	if _, ok := c.closed[inv.ID]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: invitation %q already closed", ErrInvalidTransition, inv.ID)
	}
	c.invitations[inv.ID] = inv
	c.mu.Unlock()

	inv.mu.Lock()
	c.persistLocked(inv)
	c.post(inv.notificationLocked())
	inv.mu.Unlock()

	c.logger.Info("transfer offered",
		"invitation_id", inv.ID,
		"remote", inv.RemoteParty,
		"data_type", inv.DataType,
		"filename", inv.Filename,
		"size", inv.Size)

	decision := DecisionDefer
	switch {
	case inv.Network == models.NetworkGateway:
		decision = DecisionReject
		c.logger.Debug("rejecting transfer from gateway member", "invitation_id", inv.ID)
	case c.options.Decide != nil:
		decision = c.options.Decide(inv)
	}

	var err error
	switch decision {
	case DecisionAccept:
		err = c.Accept(ctx, inv)
	case DecisionReject:
		err = c.Reject(ctx, inv)
	default:
		err = c.apply(ctx, inv, "defer", func(fx *effects) error {
			if inv.state != models.TransferOffered {
				return nil
			}
			inv.deferred = true
			fx.changed = true
			return nil
		})
	}
	if err != nil {
		c.logger.Warn("transfer decision failed", "invitation_id", inv.ID, "error", err)
	}
	return inv, nil
}

// Accept moves an Offered invitation to Accepted and tells the engine.
func (c *Coordinator) Accept(ctx context.Context, inv *Invitation) error {
	return c.apply(ctx, inv, "accept", func(fx *effects) error {
		if inv.state != models.TransferOffered {
			return invalid(inv, "accept")
		}
		inv.state = models.TransferAccepted
		inv.deferred = false
		fx.changed = true
		fx.engineOp = "accept"
		if c.options.Engine != nil {
			fx.engine = c.options.Engine.AcceptTransfer
		}
		return nil
	})
}

// Reject moves an Offered invitation straight to Closed and tells the engine.
func (c *Coordinator) Reject(ctx context.Context, inv *Invitation) error {
	return c.apply(ctx, inv, "reject", func(fx *effects) error {
		if inv.state != models.TransferOffered {
			return invalid(inv, "reject")
		}
		inv.state = models.TransferClosed
		inv.deferred = false
		inv.sessionClosed = true
		fx.changed = true
		fx.unregister = true
		fx.engineOp = "reject"
		if c.options.Engine != nil {
			fx.engine = c.options.Engine.RejectTransfer
		}
		return nil
	})
}

// Start moves an Accepted invitation to Active, opening its local resource.
func (c *Coordinator) Start(ctx context.Context, inv *Invitation) error {
	return c.apply(ctx, inv, "start", func(fx *effects) error {
		if inv.state != models.TransferAccepted {
			return invalid(inv, "start")
		}
		return c.startLocked(inv, fx)
	})
}

// Write stores one block of incoming data. A block arriving while Accepted
// starts the transfer first.
func (c *Coordinator) Write(ctx context.Context, inv *Invitation, offset int64, data []byte) error {
	return c.apply(ctx, inv, "write", func(fx *effects) error {
		if err := c.ensureActiveLocked(inv, fx, "write"); err != nil {
			return err
		}
		if _, err := inv.resource.WriteAt(data, offset); err != nil {
			return c.abortLocked(inv, fx, fmt.Errorf("%w: invitation %q: write: %w", ErrResourceUnavailable, inv.ID, err))
		}
		return nil
	})
}

// OnProgress records bytes moved. A regression keeps the previous high-water
// mark and is logged; it does not abort the transfer.
func (c *Coordinator) OnProgress(ctx context.Context, inv *Invitation, transferred, total int64) error {
	return c.apply(ctx, inv, "progress", func(fx *effects) error {
		if err := c.ensureActiveLocked(inv, fx, "progress"); err != nil {
			return err
		}
		if transferred < inv.transferred {
			c.logger.Warn("transfer progress regressed",
				"invitation_id", inv.ID,
				"previous", inv.transferred,
				"reported", transferred)
		} else {
			inv.transferred = transferred
		}
		if total > 0 {
			inv.total = total
		}
		fx.changed = true
		return nil
	})
}

// OnFinished commits the local resource and moves the invitation to Finished.
func (c *Coordinator) OnFinished(ctx context.Context, inv *Invitation) error {
	return c.apply(ctx, inv, "finish", func(fx *effects) error {
		if err := c.ensureActiveLocked(inv, fx, "finish"); err != nil {
			return err
		}
		path, err := inv.resource.Commit()
		inv.resource = nil
		if err != nil {
			return c.abortLocked(inv, fx, fmt.Errorf("%w: invitation %q: commit: %w", ErrResourceUnavailable, inv.ID, err))
		}
		inv.state = models.TransferFinished
		inv.storedPath = path
		if inv.total > inv.transferred {
			inv.transferred = inv.total
		}
		fx.changed = true
		c.logger.Info("transfer finished", "invitation_id", inv.ID, "path", path)
		return nil
	})
}

// OnAborted records that the engine ended an Accepted or Active transfer.
func (c *Coordinator) OnAborted(ctx context.Context, inv *Invitation, reason string) error {
	return c.apply(ctx, inv, "abort", func(fx *effects) error {
		if inv.state != models.TransferAccepted && inv.state != models.TransferActive {
			return invalid(inv, "abort")
		}
		inv.sessionClosed = true
		c.discardLocked(inv)
		inv.state = models.TransferAborted
		inv.reason = reason
		fx.changed = true
		c.logger.Info("transfer aborted by remote", "invitation_id", inv.ID, "reason", reason)
		return nil
	})
}

// Cancel aborts an Accepted or Active transfer on the user's behalf and asks
// the engine to close the session.
func (c *Coordinator) Cancel(ctx context.Context, inv *Invitation) error {
	return c.apply(ctx, inv, "cancel", func(fx *effects) error {
		if inv.state != models.TransferAccepted && inv.state != models.TransferActive {
			return invalid(inv, "cancel")
		}
		c.discardLocked(inv)
		inv.state = models.TransferAborted
		inv.reason = "cancelled"
		fx.changed = true
		c.closeSessionLocked(inv, fx)
		return nil
	})
}

// Close tears down a terminal invitation and unregisters it, so later engine
// events for its ID are dropped. Closing a Closed invitation is a no-op.
func (c *Coordinator) Close(ctx context.Context, inv *Invitation) error {
	return c.apply(ctx, inv, "close", func(fx *effects) error {
		switch inv.state {
		case models.TransferClosed:
			fx.unregister = true
			return nil
		case models.TransferFinished, models.TransferAborted:
		default:
			return invalid(inv, "close")
		}
		c.discardLocked(inv)
		inv.state = models.TransferClosed
		fx.changed = true
		fx.unregister = true
		c.closeSessionLocked(inv, fx)
		return nil
	})
}

// Lookup returns the registered invitation with the given ID. A recently
// closed ID yields ErrInvalidTransition; an ID never offered yields
// ErrUnknownInvitation.
func (c *Coordinator) Lookup(id string) (*Invitation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inv, ok := c.invitations[id]; ok {
		return inv, nil
	}
	if _, ok := c.closed[id]; ok {
		return nil, fmt.Errorf("%w: invitation %q is closed", ErrInvalidTransition, id)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownInvitation, id)
}

// All returns a snapshot of the registered invitations, oldest first.
func (c *Coordinator) All() []*Invitation {
	c.mu.Lock()
	out := make([]*Invitation, 0, len(c.invitations))
	for _, inv := range c.invitations {
		out = append(out, inv)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Shutdown rejects pending offers, cancels running transfers and closes
// everything still registered.
func (c *Coordinator) Shutdown(ctx context.Context) {
	for _, inv := range c.All() {
		switch inv.State() {
		case models.TransferOffered:
			_ = c.Reject(ctx, inv)
		case models.TransferAccepted, models.TransferActive:
			_ = c.Cancel(ctx, inv)
		}
		if inv.State().Terminal() {
			_ = c.Close(ctx, inv)
		}
	}
}

func (c *Coordinator) apply(ctx context.Context, inv *Invitation, op string, fn func(*effects) error) error {
	if inv == nil {
		return fmt.Errorf("%w: nil invitation", ErrUnknownInvitation)
	}

	var fx effects
	inv.mu.Lock()
	err := fn(&fx)
	if fx.changed {
		c.persistLocked(inv)
		c.post(inv.notificationLocked())
	}
	inv.mu.Unlock()

	if fx.unregister {
		c.unregister(inv)
	}
	if fx.report != nil {
		c.logger.Error("transfer dropped", "invitation_id", inv.ID, "op", op, "error", fx.report)
		c.options.Report(fx.report)
	}
	if fx.engine != nil {
		if engineErr := fx.engine(ctx, inv.ID); engineErr != nil {
			engineErr = fmt.Errorf("%s transfer %q: %w", fx.engineOp, inv.ID, engineErr)
			c.logger.Warn("engine call failed", "invitation_id", inv.ID, "op", fx.engineOp, "error", engineErr)
			c.options.Report(engineErr)
			if err == nil {
				err = engineErr
			}
		}
	}
	return err
}

// ensureActiveLocked performs the implicit start for engines that stream
// without a separate start signal.
func (c *Coordinator) ensureActiveLocked(inv *Invitation, fx *effects, op string) error {
	switch inv.state {
	case models.TransferActive:
		return nil
	case models.TransferAccepted:
		return c.startLocked(inv, fx)
	default:
		return invalid(inv, op)
	}
}

func (c *Coordinator) startLocked(inv *Invitation, fx *effects) error {
	resource, err := c.options.Open(inv)
	if err != nil {
		return c.abortLocked(inv, fx, fmt.Errorf("%w: invitation %q: %w", ErrResourceUnavailable, inv.ID, err))
	}
	inv.resource = resource
	inv.state = models.TransferActive
	fx.changed = true
	c.logger.Debug("transfer started", "invitation_id", inv.ID)
	return nil
}

// abortLocked moves the invitation to Aborted after a local failure and asks
// the engine to close the session.
func (c *Coordinator) abortLocked(inv *Invitation, fx *effects, cause error) error {
	c.discardLocked(inv)
	inv.state = models.TransferAborted
	inv.reason = cause.Error()
	fx.changed = true
	fx.report = cause
	c.closeSessionLocked(inv, fx)
	return cause
}

func (c *Coordinator) discardLocked(inv *Invitation) {
	if inv.resource == nil {
		return
	}
	if err := inv.resource.Discard(); err != nil {
		c.logger.Warn("discard transfer resource failed", "invitation_id", inv.ID, "error", err)
	}
	inv.resource = nil
}

func (c *Coordinator) closeSessionLocked(inv *Invitation, fx *effects) {
	if inv.sessionClosed {
		return
	}
	inv.sessionClosed = true
	fx.engineOp = "close"
	if c.options.Engine != nil {
		fx.engine = c.options.Engine.CloseTransferSession
	}
}

func (c *Coordinator) persistLocked(inv *Invitation) {
	if c.options.Journal == nil {
		return
	}
	if err := c.options.Journal.SaveTransfer(inv.recordLocked()); err != nil {
		c.logger.Warn("journal transfer failed", "invitation_id", inv.ID, "error", err)
	}
}

func (c *Coordinator) post(n models.Notification) {
	if c.options.Poster != nil {
		c.options.Poster.Post(n)
	}
}

func (c *Coordinator) unregister(inv *Invitation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.invitations[inv.ID]
	if !ok || current != inv {
		return
	}
	delete(c.invitations, inv.ID)

	if _, seen := c.closed[inv.ID]; seen {
		return
	}
	c.closed[inv.ID] = struct{}{}
	c.closedOrder = append(c.closedOrder, inv.ID)
	if len(c.closedOrder) > c.closedLimit {
		delete(c.closed, c.closedOrder[0])
		c.closedOrder = c.closedOrder[1:]
	}
}

func invalid(inv *Invitation, op string) error {
	return fmt.Errorf("%w: %s invitation %q in state %s", ErrInvalidTransition, op, inv.ID, inv.state)
}
