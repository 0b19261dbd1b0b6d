package certificate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/darrenak403/beyond8-server-sub001/internal/progress"
)

// fake store with just enough state for eligibility decisions.
type fakeStore struct {
	mu         sync.Mutex
	enrollment progress.Enrollment
	quiz       progress.QuizStats
	assignment progress.AssignmentStats
	certs      []progress.Certificate
	issueCalls int
}

func (f *fakeStore) GetEnrollment(context.Context, string) (progress.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enrollment, nil
}

func (f *fakeStore) FindEnrollment(context.Context, string, string) (progress.Enrollment, error) {
	return f.GetEnrollment(nil, "")
}

func (f *fakeStore) QuizStats(context.Context, string) (progress.QuizStats, error) {
	return f.quiz, nil
}

func (f *fakeStore) AssignmentStats(context.Context, string) (progress.AssignmentStats, error) {
	return f.assignment, nil
}

func (f *fakeStore) IssueCertificate(_ context.Context, c progress.Certificate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueCalls++
	if f.enrollment.CertificateID != nil {
		return false, nil
	}
	f.certs = append(f.certs, c)
	f.enrollment.CertificateID = &c.ID
	at := c.IssuedAt
	f.enrollment.CertificateIssuedAt = &at
	return true, nil
}

func (f *fakeStore) GetCertificate(context.Context, string) (progress.Certificate, error) {
	if len(f.certs) == 0 {
		return progress.Certificate{}, progress.ErrCertificateNotFound
	}
	return f.certs[0], nil
}

func (f *fakeStore) GetCertificateByNumber(context.Context, string) (progress.Certificate, error) {
	return f.GetCertificate(nil, "")
}

func (f *fakeStore) GetLessonProgress(context.Context, string, string) (progress.LessonProgress, error) {
	return progress.LessonProgress{}, progress.ErrProgressNotFound
}
func (f *fakeStore) SaveLessonProgress(context.Context, progress.LessonProgress) error { return nil }
func (f *fakeStore) GetSectionProgress(context.Context, string, string) (progress.SectionProgress, error) {
	return progress.SectionProgress{}, progress.ErrProgressNotFound
}
func (f *fakeStore) SaveSectionProgress(context.Context, progress.SectionProgress) error { return nil }
func (f *fakeStore) CountTerminalLessons(context.Context, string) (int, error)           { return 0, nil }
func (f *fakeStore) UpdateEnrollmentRollup(context.Context, string, int, float64) error  { return nil }
func (f *fakeStore) ListLessonProgress(context.Context, string) ([]progress.LessonProgress, error) {
	return nil, nil
}
func (f *fakeStore) ListSectionProgress(context.Context, string) ([]progress.SectionProgress, error) {
	return nil, nil
}

func eligibleStore() *fakeStore {
	return &fakeStore{
		enrollment: progress.Enrollment{
			ID: "enr-1", StudentID: "stu-1", CourseID: "course-1",
			TotalLessons: 4, CompletedLessons: 4,
		},
		quiz:       progress.QuizStats{AttemptedLessons: 3, AvgBestScore: 82},
		assignment: progress.AssignmentStats{Submitted: 2, Graded: 2, AvgGrade: 7.5},
	}
}

func TestTryIssue_EligibleIssuesOnce(t *testing.T) {
	f := eligibleStore()
	e := NewEngine(f, 0, 0)
	ctx := context.Background()

	issued, err := e.TryIssue(ctx, "enr-1")
	if err != nil || !issued {
		t.Fatalf("issued=%v err=%v, want true/nil", issued, err)
	}
	for i := 0; i < 5; i++ {
		issued, err := e.TryIssue(ctx, "enr-1")
		if err != nil {
			t.Fatalf("repeat call %d: %v", i, err)
		}
		if issued {
			t.Fatalf("repeat call %d issued a second certificate", i)
		}
	}
	if len(f.certs) != 1 {
		t.Fatalf("certificates = %d, want exactly 1", len(f.certs))
	}
	c := f.certs[0]
	if c.Number == "" || c.VerificationHash == "" {
		t.Fatalf("certificate missing number/hash: %+v", c)
	}
	if !Verify(c) {
		t.Fatal("verification hash does not check out")
	}
}

func TestTryIssue_IneligibleIsSilentNoOp(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*fakeStore)
	}{
		{"no lessons provisioned", func(f *fakeStore) { f.enrollment.TotalLessons = 0 }},
		{"lessons incomplete", func(f *fakeStore) { f.enrollment.CompletedLessons = 3 }},
		{"quiz average below threshold", func(f *fakeStore) { f.quiz.AvgBestScore = 69.9 }},
		{"assignments not all graded", func(f *fakeStore) { f.assignment.Graded = 1 }},
		{"assignment average below threshold", func(f *fakeStore) { f.assignment.AvgGrade = 4.9 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := eligibleStore()
			tc.mutate(f)
			issued, err := NewEngine(f, 0, 0).TryIssue(context.Background(), "enr-1")
			if err != nil {
				t.Fatalf("ineligible must not error: %v", err)
			}
			if issued || len(f.certs) != 0 {
				t.Fatalf("certificate issued despite %s", tc.name)
			}
		})
	}
}

func TestTryIssue_NoQuizzesNoAssignmentsStillEligible(t *testing.T) {
	f := eligibleStore()
	f.quiz = progress.QuizStats{}
	f.assignment = progress.AssignmentStats{}
	issued, err := NewEngine(f, 0, 0).TryIssue(context.Background(), "enr-1")
	if err != nil || !issued {
		t.Fatalf("issued=%v err=%v: lesson completion alone must suffice", issued, err)
	}
}

func TestTryIssue_ConcurrentCallsIssueExactlyOne(t *testing.T) {
	f := eligibleStore()
	e := NewEngine(f, 0, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	issuedCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			issued, err := e.TryIssue(context.Background(), "enr-1")
			if err != nil {
				t.Errorf("concurrent TryIssue: %v", err)
				return
			}
			if issued {
				mu.Lock()
				issuedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if issuedCount != 1 || len(f.certs) != 1 {
		t.Fatalf("issued %d times, %d certificates; want exactly 1", issuedCount, len(f.certs))
	}
}

func TestVerificationHash_TamperDetected(t *testing.T) {
	c := progress.Certificate{
		EnrollmentID: "enr-1", StudentID: "stu-1", CourseID: "course-1",
		Number: "CERT-2026-ABCDEF1234", IssuedAt: time.Unix(1756400000, 0),
	}
	c.VerificationHash = VerificationHash(c)
	if !Verify(c) {
		t.Fatal("fresh hash must verify")
	}
	c.StudentID = "stu-2"
	if Verify(c) {
		t.Fatal("tampered certificate must fail verification")
	}
}
