package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/erg/core/reconcile"
)

// Command is the payload published to <command_prefix>/<entity>.
type Command struct {
	CommandID string `json:"command_id"`
	Entity    string `json:"entity"`
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"`
}

func (p *PahoClient) onState(_ paho.Client, msg paho.Message) {
	entity := strings.TrimPrefix(msg.Topic(), p.cfg.StatePrefix+"/")
	if entity == "" || entity == msg.Topic() {
		return
	}
	state := reconcile.ParseState(string(msg.Payload()))
	p.mu.Lock()
	p.states[entity] = stateEntry{state: state, at: p.now()}
	p.mu.Unlock()
	p.logger.Debugw("device state", map[string]any{"entity": entity, "state": string(state)})
}

// State returns the last state reported for entity. Entities that never
// reported, or whose last report is older than the state max age, are
// unknown.
func (p *PahoClient) State(_ context.Context, entity string) (reconcile.DeviceState, error) {
	if p.cli == nil || !p.cli.IsConnected() {
		return reconcile.StateUnavailable, ErrNotConnected
	}
	p.mu.RLock()
	e, ok := p.states[entity]
	p.mu.RUnlock()
	if !ok || p.now().Sub(e.at) > p.maxAge {
		return reconcile.StateUnknown, nil
	}
	return e.state, nil
}

func (p *PahoClient) forgetStates() {
	p.mu.Lock()
	p.states = make(map[string]stateEntry)
	p.mu.Unlock()
}

// TurnOn publishes an "on" command.
func (p *PahoClient) TurnOn(ctx context.Context, entity string) error {
	_, err := p.SendCommand(ctx, entity, reconcile.StateOn)
	return err
}

// TurnOff publishes an "off" command.
func (p *PahoClient) TurnOff(ctx context.Context, entity string) error {
	_, err := p.SendCommand(ctx, entity, reconcile.StateOff)
	return err
}

// SendCommand publishes a state command for entity and returns its id.
func (p *PahoClient) SendCommand(ctx context.Context, entity string, state reconcile.DeviceState) (string, error) {
	cmd := Command{
		CommandID: uuid.NewString(),
		Entity:    entity,
		State:     string(state),
		Timestamp: p.now().UnixMilli(),
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return "", err
	}
	topic := p.cfg.CommandPrefix + "/" + entity
	// Commands get one attempt; the next tick re-evaluates.
	if err := p.publish(ctx, topic, p.qos("command"), false, payload, 0); err != nil {
		return "", err
	}
	p.logger.Infof("sent command %s (%s) to %s", cmd.CommandID, cmd.State, topic)
	return cmd.CommandID, nil
}

// LastReport returns when entity last reported its state.
func (p *PahoClient) LastReport(entity string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.states[entity]
	return e.at, ok
}
