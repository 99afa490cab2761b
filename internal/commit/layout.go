package commit

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
)

// LogLayout stands in for a layout service: it logs which artifacts would be
// placed or re-placed and never fails.
type LogLayout struct {
	logger logrus.FieldLogger
}

func NewLogLayout(logger logrus.FieldLogger) *LogLayout {
	return &LogLayout{logger: logger.WithField("component", "layout")}
}

// UpdateLayout logs the artifacts an incremental layout would move.
func (l *LogLayout) UpdateLayout(_ context.Context, changes *models.CommittedChanges) error {
	nodes := make(map[models.ModificationType]int)
	for _, rec := range changes.Artifacts {
		nodes[rec.ModificationType]++
	}
	l.logger.WithFields(logrus.Fields{
		"version":  changes.Version.String(),
		"added":    nodes[models.Added],
		"modified": nodes[models.Modified],
		"removed":  nodes[models.Removed],
		"edges":    len(changes.Traces),
	}).Info("layout updated")
	return nil
}

func (l *LogLayout) RegenerateLayout(_ context.Context, pv models.ProjectVersion) error {
	l.logger.WithField("version", pv.String()).Info("layout regenerated")
	return nil
}
