package db

import (
	"fmt"
	"os"
	"testing"
)

// TestLiveDatabase opens the real clinote database and reads the archive.
// Skipped if the database doesn't exist.
func TestLiveDatabase(t *testing.T) {
	dbPath := DefaultDBPath()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Skip("database not found at", dbPath)
	}

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	sessions, err := store.ListSessions(5)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions in database")
		return
	}

	for _, sess := range sessions {
		fmt.Printf("Session: id=%s specialty=%s status=%s started=%s\n",
			sess.ID, sess.Specialty, sess.Status, sess.StartedAt.Format("2006-01-02 15:04:05"))

		segments, err := store.SegmentsForSession(sess.ID)
		if err != nil {
			t.Fatalf("SegmentsForSession: %v", err)
		}
		fmt.Printf("  segments: %d\n", len(segments))

		sum, err := store.LatestSummary(sess.ID)
		if err != nil {
			t.Fatalf("LatestSummary: %v", err)
		}
		if sum != nil {
			fmt.Printf("  chief complaint: %s\n", chiefComplaint(sum))
		}
	}
}

func chiefComplaint(s *Summary) string {
	if s.Note.ChiefComplaint.IsStructured() {
		return "(structured)"
	}
	return s.Note.ChiefComplaint.Plain()
}
