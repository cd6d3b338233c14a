//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/erg/core/reconcile"
	"github.com/kilianp07/erg/test/util"
)

// TestMosquittoRoundTrip drives the actuator against a real broker: a device
// reports its state on a retained topic and receives the command.
func TestMosquittoRoundTrip(t *testing.T) {
	if !util.DockerAvailable() {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	broker, cleanup, err := util.StartMosquitto(ctx)
	if err != nil {
		t.Fatalf("start mosquitto: %v", err)
	}
	defer cleanup()

	device := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("device"))
	if tok := device.Connect(); tok.Wait() && tok.Error() != nil {
		t.Fatalf("device connect: %v", tok.Error())
	}
	defer device.Disconnect(100)
	commands := make(chan Command, 1)
	tok := device.Subscribe("erg/command/switch.pool_pump", 1, func(_ paho.Client, m paho.Message) {
		var c Command
		if err := json.Unmarshal(m.Payload(), &c); err == nil {
			commands <- c
		}
	})
	if tok.Wait() && tok.Error() != nil {
		t.Fatalf("device subscribe: %v", tok.Error())
	}
	if tok := device.Publish("erg/state/switch.pool_pump", 1, true, "off"); tok.Wait() && tok.Error() != nil {
		t.Fatalf("device publish: %v", tok.Error())
	}

	cli, err := NewPahoClient(Config{Broker: broker, ClientID: "erg-test", QoS: map[string]byte{"state": 1, "command": 1}}, 0)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer cli.Disconnect()

	deadline := time.Now().Add(5 * time.Second)
	for {
		s, err := cli.State(ctx, "switch.pool_pump")
		if err == nil && s == reconcile.StateOff {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("state not received: %s %v", s, err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := cli.TurnOn(ctx, "switch.pool_pump"); err != nil {
		t.Fatalf("turn on: %v", err)
	}
	select {
	case c := <-commands:
		if c.State != "on" || c.Entity != "switch.pool_pump" {
			t.Fatalf("unexpected command: %+v", c)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command not received")
	}
}
