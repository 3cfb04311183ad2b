package transfer

import (
	"sync"
	"time"

	"chatroute/models"
)

// Invitation is one offered data transfer and its lifecycle state.
// The exported fields are fixed when the invitation is offered.
type Invitation struct {
	ID           string
	RemoteParty  string
	DataType     models.DataType
	Filename     string
	Size         int64
	StreamHandle string
	Network      models.NetworkType
	CreatedAt    time.Time

	mu            sync.Mutex
	state         models.TransferState
	deferred      bool
	transferred   int64
	total         int64
	resource      Resource
	storedPath    string
	reason        string
	sessionClosed bool
}

func newInvitation(event models.InvitationEvent) *Invitation {
	dataType := event.DataType
	if dataType == "" {
		dataType = models.DataFile
	}
	network := event.Network
	if network == "" {
		network = models.NetworkStandard
	}
	createdAt := time.Now()
	if event.Timestamp > 0 {
		createdAt = time.UnixMilli(event.Timestamp)
	}
	return &Invitation{
		ID:           event.InvitationID,
		RemoteParty:  event.RemoteParty,
		DataType:     dataType,
		Filename:     event.Filename,
		Size:         event.Size,
		StreamHandle: event.StreamHandle,
		Network:      network,
		CreatedAt:    createdAt,
		state:        models.TransferOffered,
		total:        event.Size,
	}
}

// State returns the current lifecycle state.
func (inv *Invitation) State() models.TransferState {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

// Deferred reports whether acceptance waits on a user decision.
func (inv *Invitation) Deferred() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.deferred
}

// Progress returns the bytes moved so far and the expected total.
func (inv *Invitation) Progress() (transferred, total int64) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.transferred, inv.total
}

// StoredPath returns where a finished file was written.
func (inv *Invitation) StoredPath() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.storedPath
}

// Record returns the persisted view of the invitation.
func (inv *Invitation) Record() models.TransferRecord {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.recordLocked()
}

func (inv *Invitation) recordLocked() models.TransferRecord {
	return models.TransferRecord{
		InvitationID: inv.ID,
		RemoteParty:  inv.RemoteParty,
		DataType:     inv.DataType,
		Filename:     inv.Filename,
		Size:         inv.Size,
		StreamHandle: inv.StreamHandle,
		Network:      inv.Network,
		State:        inv.state,
		Deferred:     inv.deferred,
		Transferred:  inv.transferred,
		Total:        inv.total,
		StoredPath:   inv.storedPath,
		Reason:       inv.reason,
		CreatedAt:    inv.CreatedAt.UnixMilli(),
		UpdatedAt:    time.Now().UnixMilli(),
	}
}

func (inv *Invitation) notificationLocked() models.TransferStateChanged {
	return models.TransferStateChanged{
		InvitationID: inv.ID,
		RemoteParty:  inv.RemoteParty,
		DataType:     inv.DataType,
		Filename:     inv.Filename,
		State:        inv.state,
		Transferred:  inv.transferred,
		Total:        inv.total,
		Deferred:     inv.deferred,
	}
}
