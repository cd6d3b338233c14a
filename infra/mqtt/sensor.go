package mqtt

import (
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/erg/core/scheduler"
)

type socReading struct {
	kwh float64
	at  time.Time
	ok  bool
}

func (p *PahoClient) onSoC(_ paho.Client, msg paho.Message) {
	raw := strings.TrimSpace(string(msg.Payload()))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.logger.Warnf("ignoring SoC payload %q on %s: %v", raw, msg.Topic(), err)
		return
	}
	kwh := scheduler.ResolveSoC(v, p.cfg.SoCUnit, p.capacity)
	p.mu.Lock()
	p.soc = socReading{kwh: kwh, at: p.now(), ok: true}
	p.mu.Unlock()
}

// SoC returns the last battery state of charge in kWh.
func (p *PahoClient) SoC() (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.soc.kwh, p.soc.ok
}
