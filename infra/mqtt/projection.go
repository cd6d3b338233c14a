package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kilianp07/erg/core/summary"
)

const projectionTimeout = 5 * time.Second

// PublishSummary publishes the global projection, retained.
func (p *PahoClient) PublishSummary(s summary.Summary) error {
	return p.publishJSON(p.cfg.ProjectionPrefix+"/summary", s)
}

// PublishJob publishes the projection of one job, retained.
func (p *PahoClient) PublishJob(jp summary.JobProjection) error {
	return p.publishJSON(p.jobTopic(jp.JobID), jp)
}

// ClearJob removes the retained projection of a deleted job.
func (p *PahoClient) ClearJob(jobID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), projectionTimeout)
	defer cancel()
	return p.publish(ctx, p.jobTopic(jobID), p.qos("projection"), true, []byte{}, p.cfg.MaxRetries)
}

func (p *PahoClient) jobTopic(jobID string) string {
	return p.cfg.ProjectionPrefix + "/jobs/" + jobID
}

func (p *PahoClient) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), projectionTimeout)
	defer cancel()
	return p.publish(ctx, topic, p.qos("projection"), true, payload, p.cfg.MaxRetries)
}
