package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/darrenak403/beyond8-server-sub001/internal/auth"
	"github.com/darrenak403/beyond8-server-sub001/internal/certificate"
	"github.com/darrenak403/beyond8-server-sub001/internal/event"
	"github.com/darrenak403/beyond8-server-sub001/internal/progress"
	"github.com/darrenak403/beyond8-server-sub001/internal/rbac"
)

// IngestEventsHandler receives one envelope per request from the outbox
// relay. A non-2xx response keeps the entry pending on the producer, so
// handler failures must surface as 500 to get the redelivery.
func IngestEventsHandler(d *event.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env event.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			writeErr(w, http.StatusBadRequest, "bad envelope")
			return
		}
		if env.ID == "" || env.Type == "" {
			writeErr(w, http.StatusBadRequest, "envelope missing id or type")
			return
		}
		if err := d.Dispatch(r.Context(), env); err != nil {
			writeErr(w, http.StatusInternalServerError, "apply failed")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "applied"})
	}
}

var checker = rbac.NewChecker(nil)

func canViewEnrollment(r *http.Request, enr progress.Enrollment) bool {
	if enr.StudentID == auth.SubjectFromContext(r.Context()) {
		return true
	}
	return checker.Has(rbac.RoleFromContext(r.Context()), "progress:view-all")
}

// EnrollmentProgressHandler returns the rollup plus the per-lesson and
// per-section records behind it.
func EnrollmentProgressHandler(store progress.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enr, err := store.GetEnrollment(r.Context(), chi.URLParam(r, "enrollmentID"))
		if err != nil {
			fail(w, err)
			return
		}
		if !canViewEnrollment(r, enr) {
			writeErr(w, http.StatusForbidden, "forbidden")
			return
		}
		lessons, err := store.ListLessonProgress(r.Context(), enr.ID)
		if err != nil {
			fail(w, err)
			return
		}
		sections, err := store.ListSectionProgress(r.Context(), enr.ID)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"enrollment": enr,
			"lessons":    lessons,
			"sections":   sections,
		})
	}
}

func EnrollmentCertificateHandler(store progress.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enr, err := store.GetEnrollment(r.Context(), chi.URLParam(r, "enrollmentID"))
		if err != nil {
			fail(w, err)
			return
		}
		if !canViewEnrollment(r, enr) {
			writeErr(w, http.StatusForbidden, "forbidden")
			return
		}
		cert, err := store.GetCertificate(r.Context(), enr.ID)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cert)
	}
}

// VerifyCertificateHandler is public: anyone holding a printed
// certificate number can check it against the stored record.
func VerifyCertificateHandler(store progress.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cert, err := store.GetCertificateByNumber(r.Context(), chi.URLParam(r, "number"))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":      certificate.Verify(cert),
			"number":     cert.Number,
			"student_id": cert.StudentID,
			"course_id":  cert.CourseID,
			"issued_at":  cert.IssuedAt,
		})
	}
}
