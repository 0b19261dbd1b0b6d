// Package certificate decides, exactly once per enrollment, when a
// certificate is issued. TryIssue is safe to call arbitrarily often:
// ineligibility is a silent no-op and issuance is guarded by a
// compare-and-set stamp on the enrollment.
package certificate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/darrenak403/beyond8-server-sub001/internal/progress"
)

// Default thresholds: average quiz best-score across attempted lessons,
// and average assignment grade on a 10-point scale.
const (
	DefaultQuizThreshold       = 70.0
	DefaultAssignmentThreshold = 5.0
)

type Engine struct {
	store               progress.Store
	quizThreshold       float64
	assignmentThreshold float64
	now                 func() time.Time
}

func NewEngine(store progress.Store, quizThreshold, assignmentThreshold float64) *Engine {
	if quizThreshold <= 0 {
		quizThreshold = DefaultQuizThreshold
	}
	if assignmentThreshold <= 0 {
		assignmentThreshold = DefaultAssignmentThreshold
	}
	return &Engine{
		store:               store,
		quizThreshold:       quizThreshold,
		assignmentThreshold: assignmentThreshold,
		now:                 time.Now,
	}
}

// TryIssue evaluates the eligibility criteria in order and issues at
// most one certificate. Returns true only for the call that actually
// issued.
func (e *Engine) TryIssue(ctx context.Context, enrollmentID string) (bool, error) {
	enr, err := e.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return false, err
	}
	if enr.CertificateID != nil {
		return false, nil
	}
	if enr.TotalLessons <= 0 || enr.CompletedLessons < enr.TotalLessons {
		return false, nil
	}

	qs, err := e.store.QuizStats(ctx, enrollmentID)
	if err != nil {
		return false, err
	}
	if qs.AttemptedLessons > 0 && qs.AvgBestScore < e.quizThreshold {
		return false, nil
	}

	as, err := e.store.AssignmentStats(ctx, enrollmentID)
	if err != nil {
		return false, err
	}
	if as.Submitted > 0 {
		if as.Graded < as.Submitted {
			return false, nil
		}
		if as.AvgGrade < e.assignmentThreshold {
			return false, nil
		}
	}

	issuedAt := e.now()
	cert := progress.Certificate{
		ID:           uuid.NewString(),
		EnrollmentID: enr.ID,
		StudentID:    enr.StudentID,
		CourseID:     enr.CourseID,
		Number:       newNumber(issuedAt),
		IssuedAt:     issuedAt,
	}
	cert.VerificationHash = VerificationHash(cert)
	return e.store.IssueCertificate(ctx, cert)
}

// newNumber builds a human-quotable certificate number.
func newNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	return fmt.Sprintf("CERT-%d-%s", at.Year(), suffix)
}

// VerificationHash seals the immutable certificate fields so a printed
// certificate can be checked against the stored record.
func VerificationHash(c progress.Certificate) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		c.EnrollmentID, c.StudentID, c.CourseID, c.Number,
		fmt.Sprintf("%d", c.IssuedAt.Unix()),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the hash for a stored certificate.
func Verify(c progress.Certificate) bool {
	return c.VerificationHash == VerificationHash(c)
}
