package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/darrenak403/beyond8-server-sub001/internal/event"
)

// Aggregator folds assessment events into progress records. Every
// consumer is independently idempotent: facts are applied with max/set
// semantics keyed by values the event carries (attempt number, grade),
// and the enrollment rollup is recounted from stored records instead of
// trusting the event, so redelivery self-corrects.
//
// A missing progress record means enrollment-time provisioning has not
// run for this student; that is logged and dropped, not retried here.
type Aggregator struct {
	store  Store
	issuer Issuer
	now    func() time.Time
}

func NewAggregator(store Store, issuer Issuer) *Aggregator {
	return &Aggregator{store: store, issuer: issuer, now: time.Now}
}

// Register wires one consumer per event type onto the dispatcher.
func (g *Aggregator) Register(d *event.Dispatcher) {
	d.Register(event.TypeQuizAttemptCompleted, event.HandlerFunc(g.onQuizAttemptCompleted))
	d.Register(event.TypeSubmissionCreated, event.HandlerFunc(g.onSubmissionCreated))
	d.Register(event.TypeSubmissionGraded, event.HandlerFunc(g.onSubmissionGraded))
	d.Register(event.TypeSubmissionAIGraded, event.HandlerFunc(g.onSubmissionAIGraded))
	d.Register(event.TypeQuizAttemptsReset, event.HandlerFunc(g.onQuizAttemptsReset))
	d.Register(event.TypeAssignmentSubmissionsReset, event.HandlerFunc(g.onAssignmentSubmissionsReset))
}

func (g *Aggregator) onQuizAttemptCompleted(ctx context.Context, env event.Envelope) error {
	var p event.QuizAttemptCompleted
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	lp, err := g.store.GetLessonProgress(ctx, p.StudentID, p.LessonID)
	if err == ErrProgressNotFound {
		log.Printf("[progress] no lesson progress for student=%s lesson=%s, dropping %s",
			p.StudentID, p.LessonID, env.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if p.AttemptNumber > lp.QuizAttempts {
		lp.QuizAttempts = p.AttemptNumber
	}
	if p.ScorePercent > lp.QuizBestScore {
		lp.QuizBestScore = p.ScorePercent
	}
	switch {
	case lp.QuizBestScore >= p.PassPercent:
		if lp.Status != StatusCompleted {
			lp.Status = StatusCompleted
			at := p.CompletedAt
			lp.CompletedAt = &at
		}
	case !terminal(lp.Status):
		lp.Status = StatusFailed
	}
	if err := g.store.SaveLessonProgress(ctx, lp); err != nil {
		return err
	}
	if err := g.recomputeRollup(ctx, lp.EnrollmentID); err != nil {
		return err
	}
	return g.tryIssue(ctx, lp.EnrollmentID)
}

func (g *Aggregator) onSubmissionCreated(ctx context.Context, env event.Envelope) error {
	var p event.SubmissionCreated
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	sp, ok, err := g.sectionProgress(ctx, env.ID, p.StudentID, p.SectionID)
	if err != nil || !ok {
		return err
	}
	sp.Submitted = true
	if sp.SubmittedAt == nil {
		at := p.SubmittedAt
		sp.SubmittedAt = &at
	}
	if err := g.store.SaveSectionProgress(ctx, sp); err != nil {
		return err
	}
	return g.tryIssue(ctx, sp.EnrollmentID)
}

func (g *Aggregator) onSubmissionGraded(ctx context.Context, env event.Envelope) error {
	var p event.SubmissionGraded
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return g.applyGrade(ctx, env.ID, p.StudentID, p.SectionID, p.Grade, p.Passed, p.GradedAt, false)
}

func (g *Aggregator) onSubmissionAIGraded(ctx context.Context, env event.Envelope) error {
	var p event.SubmissionAIGraded
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return g.applyGrade(ctx, env.ID, p.StudentID, p.SectionID, p.Grade, p.Passed, p.GradedAt, true)
}

func (g *Aggregator) applyGrade(ctx context.Context, envID, studentID, sectionID string, grade float64, passed bool, gradedAt time.Time, provisional bool) error {
	sp, ok, err := g.sectionProgress(ctx, envID, studentID, sectionID)
	if err != nil || !ok {
		return err
	}
	// an instructor grade always supersedes a provisional AI grade
	if provisional && sp.Graded && !sp.ProvisionalGrade {
		log.Printf("[progress] section=%s already instructor-graded, ignoring AI grade %s", sectionID, envID)
		return nil
	}
	sp.Submitted = true
	sp.Graded = true
	sp.Grade = grade
	sp.Passed = passed
	sp.ProvisionalGrade = provisional
	at := gradedAt
	sp.GradedAt = &at
	if err := g.store.SaveSectionProgress(ctx, sp); err != nil {
		return err
	}
	return g.tryIssue(ctx, sp.EnrollmentID)
}

func (g *Aggregator) onQuizAttemptsReset(ctx context.Context, env event.Envelope) error {
	var p event.QuizAttemptsReset
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	lp, err := g.store.GetLessonProgress(ctx, p.StudentID, p.LessonID)
	if err == ErrProgressNotFound {
		log.Printf("[progress] no lesson progress for student=%s lesson=%s, dropping %s",
			p.StudentID, p.LessonID, env.ID)
		return nil
	}
	if err != nil {
		return err
	}
	certified, err := g.hasCertificate(ctx, lp.EnrollmentID)
	if err != nil {
		return err
	}
	if certified {
		log.Printf("[progress] refusing quiz reset for enrollment=%s: certificate already issued", lp.EnrollmentID)
		return nil
	}
	lp.Status = StatusInProgress
	lp.QuizAttempts = 0
	lp.QuizBestScore = 0
	lp.CompletedAt = nil
	if err := g.store.SaveLessonProgress(ctx, lp); err != nil {
		return err
	}
	return g.recomputeRollup(ctx, lp.EnrollmentID)
}

func (g *Aggregator) onAssignmentSubmissionsReset(ctx context.Context, env event.Envelope) error {
	var p event.AssignmentSubmissionsReset
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	sp, ok, err := g.sectionProgress(ctx, env.ID, p.StudentID, p.SectionID)
	if err != nil || !ok {
		return err
	}
	certified, err := g.hasCertificate(ctx, sp.EnrollmentID)
	if err != nil {
		return err
	}
	if certified {
		log.Printf("[progress] refusing assignment reset for enrollment=%s: certificate already issued", sp.EnrollmentID)
		return nil
	}
	sp.Submitted = false
	sp.SubmittedAt = nil
	sp.Graded = false
	sp.Grade = 0
	sp.Passed = false
	sp.GradedAt = nil
	sp.ProvisionalGrade = false
	return g.store.SaveSectionProgress(ctx, sp)
}

func (g *Aggregator) sectionProgress(ctx context.Context, envID, studentID, sectionID string) (SectionProgress, bool, error) {
	sp, err := g.store.GetSectionProgress(ctx, studentID, sectionID)
	if err == ErrProgressNotFound {
		log.Printf("[progress] no section progress for student=%s section=%s, dropping %s",
			studentID, sectionID, envID)
		return SectionProgress{}, false, nil
	}
	if err != nil {
		return SectionProgress{}, false, err
	}
	return sp, true, nil
}

func (g *Aggregator) recomputeRollup(ctx context.Context, enrollmentID string) error {
	e, err := g.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	done, err := g.store.CountTerminalLessons(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if done > e.TotalLessons {
		done = e.TotalLessons
	}
	percent := 0.0
	if e.TotalLessons > 0 {
		percent = float64(done) / float64(e.TotalLessons) * 100
	}
	return g.store.UpdateEnrollmentRollup(ctx, enrollmentID, done, percent)
}

func (g *Aggregator) hasCertificate(ctx context.Context, enrollmentID string) (bool, error) {
	e, err := g.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return false, err
	}
	return e.CertificateID != nil, nil
}

func (g *Aggregator) tryIssue(ctx context.Context, enrollmentID string) error {
	if g.issuer == nil {
		return nil
	}
	issued, err := g.issuer.TryIssue(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if issued {
		log.Printf("[progress] certificate issued for enrollment=%s", enrollmentID)
	}
	return nil
}
