package jobs

import (
	"github.com/facturaqr/facturas-backend/services"
	"github.com/sirupsen/logrus"
)

type SessionCleanupJob struct {
	SessionService *services.SessionService
}

func NewSessionCleanupJob(sessionService *services.SessionService) *SessionCleanupJob {
	return &SessionCleanupJob{SessionService: sessionService}
}

func (j *SessionCleanupJob) Run() {
	removed := j.SessionService.SweepExpired()
	if removed > 0 {
		logrus.WithField("removed", removed).Info("Expired admin sessions cleaned up")
	}
}
