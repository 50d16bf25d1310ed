package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/winlog-collector/winlog/internal/models"
)

// EventSender delivers one event to the collector.
type EventSender interface {
	Send(ctx context.Context, event *models.ClientEvent) (*models.SuccessResponse, error)
}

// Reporter builds lifecycle events from local host facts and sends them.
type Reporter struct {
	collector *Collector
	sender    EventSender
	now       func() time.Time
}

func NewReporter(collector *Collector, sender EventSender) *Reporter {
	return &Reporter{collector: collector, sender: sender, now: time.Now}
}

// Report sends a connect, disconnect or hardware event for this workstation.
func (r *Reporter) Report(ctx context.Context, action models.Action) (*models.SuccessResponse, error) {
	event, err := r.Build(ctx, action)
	if err != nil {
		return nil, err
	}
	return r.sender.Send(ctx, event)
}

// Build assembles the event without sending it.
func (r *Reporter) Build(ctx context.Context, action models.Action) (*models.ClientEvent, error) {
	if _, err := models.ParseAction(string(action)); err != nil {
		return nil, err
	}

	facts, err := r.collector.Facts(ctx)
	if err != nil {
		return nil, err
	}

	username := facts.Username
	if username == "" {
		username = "unknown"
		if action == models.ActionHardware {
			username = "system"
		}
	}
	hostname := facts.Hostname
	if hostname == "" {
		hostname = "unknown"
	}

	event := &models.ClientEvent{
		Username:  username,
		Action:    string(action),
		Timestamp: r.now().UTC().Format(time.RFC3339),
		Hostname:  hostname,
		OSInfo: &models.OSInfo{
			OSName:        facts.OSName,
			OSVersion:     facts.OSVersion,
			KernelVersion: facts.KernelVersion,
		},
	}

	if action == models.ActionHardware {
		hw, err := r.collector.Hardware(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(hw)
		if err != nil {
			return nil, fmt.Errorf("failed to encode hardware info: %w", err)
		}
		event.HardwareInfo = raw
	}

	return event, nil
}
