package commit

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
)

// LogNotifier reports committed changes to the log instead of subscribers.
type LogNotifier struct {
	logger logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger.WithField("component", "notify")}
}

func (n *LogNotifier) Notify(_ context.Context, summary models.ChangeSummary) {
	fields := logrus.Fields{
		"project_id": summary.ProjectID,
		"version":    summary.Version.String(),
	}
	for kind, mods := range summary.Changes {
		for mod, ids := range mods {
			fields[string(kind)+"_"+string(mod)] = len(ids)
		}
	}
	n.logger.WithFields(fields).Debug("changes published")
}
