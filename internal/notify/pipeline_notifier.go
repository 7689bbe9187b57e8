package notify

import (
	"context"

	"github.com/harunnryd/kanshi/internal/pipeline"
	"github.com/harunnryd/kanshi/internal/policy"
)

// PipelineNotifier adapts the Notifier to the orchestrator's notify
// hook: one PolicyChange per accepted comparison, fanned out to the
// policy's recipients.
type PipelineNotifier struct {
	Notifier *Notifier
}

func (p *PipelineNotifier) NotifyChange(ctx context.Context, pol *policy.Policy, oldText, newText string, result *pipeline.ComparisonResult, dryRun bool) []string {
	change := NewPolicyChange(pol.Name, pol.DocURL, pol.SourceURL, oldText, newText, result)

	records := p.Notifier.SendBatch(ctx, []*PolicyChange{change}, pol.Recipients, pol.CC, dryRun)

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	return ids
}
