package main

import (
	"context"
	"errors"
)

var errEngineOffline = errors.New("no broker configured")

// offlineEngine stands in for the engine when the broker is disabled. Every
// outbound call fails, which the client reports as the remote being
// unavailable.
type offlineEngine struct{}

func (offlineEngine) SendText(context.Context, string, string) error { return errEngineOffline }
func (offlineEngine) SendNudge(context.Context, string) error        { return errEngineOffline }
func (offlineEngine) AcceptTransfer(context.Context, string) error   { return errEngineOffline }
func (offlineEngine) RejectTransfer(context.Context, string) error   { return errEngineOffline }
func (offlineEngine) CloseTransferSession(context.Context, string) error {
	return errEngineOffline
}
