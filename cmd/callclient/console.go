package main

import (
	"fmt"
	"time"

	"hirecall/internal/core/domain"
)

// console prints call events and hands incoming calls to accept or decline.
type console struct {
	self       domain.UserID
	autoAccept bool
	phases     chan domain.CallPhase

	accept  func(domain.CallID)
	decline func(domain.CallID)
}

func newConsole(self domain.UserID, autoAccept bool) *console {
	return &console{self: self, autoAccept: autoAccept, phases: make(chan domain.CallPhase, 16)}
}

func (c *console) OnIncomingCall(callID domain.CallID, callerName string, from domain.UserID) {
	if callerName == "" {
		callerName = string(from)
	}
	fmt.Printf("incoming call from %s (call %s)\n", callerName, callID)
	if c.autoAccept && c.accept != nil {
		go c.accept(callID)
		return
	}
	if c.decline != nil {
		go c.decline(callID)
	}
}

func (c *console) OnPhaseChange(phase domain.CallPhase) {
	fmt.Printf("call %s\n", phase)
	select {
	case c.phases <- phase:
	default:
	}
}

func (c *console) OnTranscript(entry domain.TranscriptEntry) {
	who := "them"
	if entry.User == c.self {
		who = "you"
	}
	fmt.Printf("[%s] %s: %s\n", entry.Timestamp.Local().Format(time.TimeOnly), who, entry.Text)
}

func (c *console) OnReconnecting(reason string) {
	fmt.Printf("signaling lost (%s), reconnecting\n", reason)
}

func (c *console) OnCallError(err error) {
	fmt.Printf("call error: %v\n", err)
}
