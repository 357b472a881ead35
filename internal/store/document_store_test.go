package store_test

import (
	"fmt"
	"testing"

	"github.com/scrollpace/scrollpace/internal/store"
	"github.com/scrollpace/scrollpace/internal/testutil"
)

func seedDocuments(t *testing.T, st *store.Store, index string, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := st.InsertDocument(index, docID(i), map[string]interface{}{
			"color": pick(i),
			"n":     float64(i),
		})
		if err != nil {
			t.Fatalf("InsertDocument failed: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func docID(i int) string {
	return fmt.Sprintf("doc-%03d", i)
}

func pick(i int) string {
	if i%2 == 0 {
		return "red"
	}
	return "blue"
}

func TestCountAndScroll(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	seedDocuments(t, st, "items", 25)
	seedDocuments(t, st, "other", 5)

	count, err := st.CountDocuments("items", store.FieldQuery{})
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if count != 25 {
		t.Errorf("match-all count: got %d, want 25", count)
	}

	count, err = st.CountDocuments("items", store.FieldQuery{Field: "color", Value: "red"})
	if err != nil {
		t.Fatalf("CountDocuments with query failed: %v", err)
	}
	if count != 13 {
		t.Errorf("red count: got %d, want 13", count)
	}

	// Scroll through in batches of 10 and make sure every document shows
	// up exactly once, in id order.
	var seen int
	var cursor int64
	for {
		docs, err := st.ScrollDocuments("items", store.FieldQuery{}, cursor, 10)
		if err != nil {
			t.Fatalf("ScrollDocuments failed: %v", err)
		}
		if len(docs) == 0 {
			break
		}
		for _, doc := range docs {
			if doc.ID <= cursor {
				t.Errorf("scroll returned id %d out of order (cursor %d)", doc.ID, cursor)
			}
			cursor = doc.ID
			seen++
		}
	}
	if seen != 25 {
		t.Errorf("scroll visited %d documents, want 25", seen)
	}
}

func TestVersionedUpdate(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	ids := seedDocuments(t, st, "items", 1)

	doc, err := st.GetDocument("items", docID(0))
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc.Version != 1 {
		t.Fatalf("fresh document version: got %d, want 1", doc.Version)
	}

	doc.Source["color"] = "green"
	ok, err := st.UpdateDocumentVersioned(ids[0], doc.Source, doc.Version)
	if err != nil {
		t.Fatalf("UpdateDocumentVersioned failed: %v", err)
	}
	if !ok {
		t.Fatal("update with correct version should succeed")
	}

	// A second write with the stale version is a conflict.
	ok, err = st.UpdateDocumentVersioned(ids[0], doc.Source, doc.Version)
	if err != nil {
		t.Fatalf("UpdateDocumentVersioned failed: %v", err)
	}
	if ok {
		t.Fatal("update with stale version should report a conflict")
	}

	updated, err := st.GetDocument("items", docID(0))
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version after one update: got %d, want 2", updated.Version)
	}
	if updated.Source["color"] != "green" {
		t.Errorf("source not updated: got %v", updated.Source["color"])
	}
}

func TestVersionedDelete(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	ids := seedDocuments(t, st, "items", 2)

	if err := st.BumpDocumentVersion(ids[0]); err != nil {
		t.Fatalf("BumpDocumentVersion failed: %v", err)
	}
	ok, err := st.DeleteDocumentVersioned(ids[0], 1)
	if err != nil {
		t.Fatalf("DeleteDocumentVersioned failed: %v", err)
	}
	if ok {
		t.Fatal("delete with stale version should report a conflict")
	}

	ok, err = st.DeleteDocumentVersioned(ids[1], 1)
	if err != nil {
		t.Fatalf("DeleteDocumentVersioned failed: %v", err)
	}
	if !ok {
		t.Fatal("delete with correct version should succeed")
	}

	count, _ := st.CountDocuments("items", store.FieldQuery{})
	if count != 1 {
		t.Errorf("count after delete: got %d, want 1", count)
	}
}

func TestCopyDocument(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	seedDocuments(t, st, "src", 1)

	doc, err := st.GetDocument("src", docID(0))
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}

	created, err := st.CopyDocument("dest", doc.DocID, doc.Source)
	if err != nil {
		t.Fatalf("CopyDocument failed: %v", err)
	}
	if !created {
		t.Error("first copy should create the destination document")
	}

	created, err = st.CopyDocument("dest", doc.DocID, doc.Source)
	if err != nil {
		t.Fatalf("CopyDocument failed: %v", err)
	}
	if created {
		t.Error("second copy should overwrite, not create")
	}

	copied, err := st.GetDocument("dest", doc.DocID)
	if err != nil {
		t.Fatalf("GetDocument on dest failed: %v", err)
	}
	if copied.Version != 2 {
		t.Errorf("overwritten copy version: got %d, want 2", copied.Version)
	}
}
